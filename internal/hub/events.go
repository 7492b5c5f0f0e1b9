package hub

import (
	"encoding/json"

	"ktv-lounge/internal/chat"
	"ktv-lounge/internal/user"
)

// Envelope is the wire frame in both directions: a named event plus a
// JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client -> server event names.
const (
	EvtJoinChat        = "join_chat"
	EvtSendMessage     = "send_message"
	EvtTyping          = "typing"
	EvtStopTyping      = "stop_typing"
	EvtRequestUserList = "request_user_list"

	EvtStartLadder        = "start_ladder_recruitment"
	EvtJoinLadder         = "join_ladder"
	EvtUpdateLadderResult = "update_ladder_result"
	EvtRunLadder          = "run_ladder_game"
	EvtResetLadder        = "reset_ladder"

	EvtStartBroadcast  = "start_broadcast"
	EvtStopBroadcast   = "stop_broadcast"
	EvtCheckBroadcasts = "check_broadcasts"
	EvtJoinBroadcast   = "join_broadcast"
	EvtLeaveBroadcast  = "leave_broadcast"
	EvtWebRTCOffer     = "webrtc_offer"
	EvtWebRTCAnswer    = "webrtc_answer"
	EvtWebRTCIce       = "webrtc_ice"
)

// Server -> client event names.
const (
	EvtLoadMessages    = "load_messages"
	EvtReceiveMessage  = "receive_message"
	EvtUpdateUserList  = "update_user_list"
	EvtDisplayTyping   = "display_typing"
	EvtHideTyping      = "hide_typing"

	EvtLadderState        = "ladder_recruitment_state"
	EvtLadderTimer        = "ladder_timer_update"
	EvtLadderParticipants = "ladder_update_participants"
	EvtLadderResults      = "ladder_update_results"
	EvtLadderGameStart    = "ladder_game_start"

	EvtBroadcastList    = "broadcast_list"
	EvtBroadcastStarted = "broadcast_started"
	EvtBroadcastStopped = "broadcast_stopped"
	EvtViewerJoined     = "viewer_joined"
	EvtViewerLeft       = "viewer_left"
)

// Inbound payloads.

type sendMessagePayload struct {
	Content string `json:"content"`
	Kind    string `json:"type"`
}

type updateResultPayload struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

type startBroadcastPayload struct {
	Quality  string `json:"quality"`
	HasAudio bool   `json:"hasAudio"`
}

type joinBroadcastPayload struct {
	BroadcasterID int `json:"broadcasterId"`
}

// userListEntry is one row of the presence snapshot: the full registered
// directory flagged with live online status.
type userListEntry struct {
	ID        int    `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"profile_image"`
	IsOnline  bool   `json:"isOnline"`
}

// Internal events consumed by the hub loop. Everything that mutates hub
// state arrives as one of these, one at a time.
type event interface{ isEvent() }

// clientFrame is a decoded wire frame from one connection.
type clientFrame struct {
	client *Client
	env    Envelope
}

// messagePersisted re-enters the loop after the async durable write
// succeeds; only then is the message fanned out.
type messagePersisted struct {
	msg chat.Message
}

// historyLoaded delivers the recent-message query result to one client.
type historyLoaded struct {
	target *Client
	msgs   []chat.Message
}

// directoryLoaded carries a fresh user directory. A nil target means the
// snapshot is pushed to everyone (attach/detach side effect); otherwise it
// answers one client's explicit request.
type directoryLoaded struct {
	target *Client
	users  []user.User
}

// ladderTick is the 1s recruitment countdown tick.
type ladderTick struct{}

// ladderExpired is the one-shot Playing auto-reset safety net.
type ladderExpired struct{}

func (clientFrame) isEvent()      {}
func (messagePersisted) isEvent() {}
func (historyLoaded) isEvent()    {}
func (directoryLoaded) isEvent()  {}
func (ladderTick) isEvent()       {}
func (ladderExpired) isEvent()    {}

// marshalFrame builds an outbound frame. Payloads are our own types, so a
// marshal failure is a programming error; it is logged by the caller and
// the frame dropped.
func marshalFrame(eventName string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: eventName, Data: raw})
}
