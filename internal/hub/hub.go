// Package hub is the single-threaded realtime core. One goroutine owns
// every piece of coordination state (presence, the ladder game, the
// broadcast directory) and consumes events one at a time, so none of it
// needs locking. The only suspending operation is the durable message
// write, which runs in a goroutine and re-enters the loop on completion.
package hub

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"ktv-lounge/internal/broadcast"
	"ktv-lounge/internal/chat"
	"ktv-lounge/internal/ladder"
	"ktv-lounge/internal/user"
)

const storeTimeout = 5 * time.Second

// MessageStore is what the loop needs from the durable store.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *chat.Message) error
	RecentMessages(ctx context.Context) ([]chat.Message, error)
}

// DirectoryProvider yields the registered-user directory that presence
// snapshots merge with the online set.
type DirectoryProvider interface {
	Directory(ctx context.Context) ([]user.User, error)
}

type Hub struct {
	register   chan *Client
	unregister chan *Client
	events     chan event

	clients    map[string]*Client
	presence   *Registry
	game       *ladder.Session
	broadcasts *broadcast.Directory

	// Timer handles. Starting a new timer always replaces the prior one;
	// a duplicate countdown ticker would double-decrement.
	tickerStop chan struct{}
	resetTimer *time.Timer
	// Tests drive transitions by injecting tick/expiry events instead of
	// waiting on wall-clock timers.
	disableTimers bool

	store     MessageStore
	directory DirectoryProvider
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, store MessageStore, directory DirectoryProvider, rng *rand.Rand, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan event, 64),
		clients:    make(map[string]*Client),
		presence:   NewRegistry(),
		game:       ladder.NewSession(rng),
		broadcasts: broadcast.NewDirectory(),
		store:      store,
		directory:  directory,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run is the event loop. Call it in its own goroutine; it returns when
// the parent context is cancelled.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.clients[c.ID] = c
			openConnections.Inc()

		case c := <-h.unregister:
			h.handleDisconnect(c)

		case ev := <-h.events:
			h.handleEvent(ev)
		}
	}
}

func (h *Hub) Stop() { h.cancel() }

func (h *Hub) shutdown() {
	h.stopTicker()
	h.stopResetTimer()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
}

func (h *Hub) handleEvent(ev event) {
	switch e := ev.(type) {
	case clientFrame:
		h.dispatchFrame(e.client, e.env)
	case messagePersisted:
		messagesBroadcast.Inc()
		h.broadcastAll(EvtReceiveMessage, e.msg)
	case historyLoaded:
		h.sendTo(e.target, EvtLoadMessages, e.msgs)
	case directoryLoaded:
		entries := h.presenceSnapshot(e.users)
		if e.target == nil {
			h.broadcastAll(EvtUpdateUserList, entries)
		} else {
			h.sendTo(e.target, EvtUpdateUserList, entries)
		}
	case ladderTick:
		h.handleLadderTick()
	case ladderExpired:
		h.resetTimer = nil
		if h.game.ExpirePlay() {
			h.log.Info("ladder game auto-reset after timeout")
			h.broadcastAll(EvtLadderState, h.ladderSnapshot())
		}
	}
}

func (h *Hub) dispatchFrame(c *Client, env Envelope) {
	switch env.Event {
	case EvtJoinChat:
		h.handleJoinChat(c)
	case EvtSendMessage:
		h.handleSendMessage(c, env.Data)
	case EvtTyping:
		h.broadcastExcept(c, EvtDisplayTyping, c.Nickname)
	case EvtStopTyping:
		h.broadcastExcept(c, EvtHideTyping, nil)
	case EvtRequestUserList:
		h.loadDirectory(c)

	case EvtStartLadder:
		h.handleStartLadder(c)
	case EvtJoinLadder:
		h.handleJoinLadder(c)
	case EvtUpdateLadderResult:
		h.handleUpdateLadderResult(c, env.Data)
	case EvtRunLadder:
		h.handleRunLadder(c)
	case EvtResetLadder:
		h.handleResetLadder(c)

	case EvtStartBroadcast:
		h.handleStartBroadcast(c, env.Data)
	case EvtStopBroadcast:
		h.handleStopBroadcast(c)
	case EvtCheckBroadcasts:
		h.sendTo(c, EvtBroadcastList, h.broadcasts.List())
	case EvtJoinBroadcast:
		h.handleJoinBroadcast(c, env.Data)
	case EvtLeaveBroadcast:
		h.handleLeaveBroadcast(c)
	case EvtWebRTCOffer, EvtWebRTCAnswer, EvtWebRTCIce:
		h.relaySignal(c, env.Event, env.Data)

	default:
		h.log.Debug("unknown event", zap.String("event", env.Event), zap.String("conn", c.ID))
	}
}

// --- chat & presence -------------------------------------------------

func (h *Hub) handleJoinChat(c *Client) {
	c.joined = true
	h.presence.Attach(c.ID, c.UserID, DisplayInfo{Nickname: c.Nickname, AvatarURL: c.AvatarURL})

	// A joining client always gets the current ladder state, so a
	// mid-game join renders the game, not an idle board.
	h.sendTo(c, EvtLadderState, h.ladderSnapshot())
	if h.game.Phase() == ladder.PhasePlaying {
		h.sendTo(c, EvtLadderGameStart, h.ladderGamePayload())
	}

	h.loadHistory(c)
	h.loadDirectory(nil)
}

func (h *Hub) handleDisconnect(c *Client) {
	existing, ok := h.clients[c.ID]
	if !ok || existing != c {
		return
	}
	delete(h.clients, c.ID)
	close(c.send)
	openConnections.Dec()

	h.presence.Detach(c.ID)

	// A disconnecting broadcaster is equivalent to an explicit stop.
	if s, stopped := h.broadcasts.StopByConn(c.ID); stopped {
		h.log.Info("broadcast ended by disconnect", zap.Int("user", s.UserID))
		h.broadcastAll(EvtBroadcastStopped, map[string]int{"id": s.UserID})
		h.broadcastAll(EvtBroadcastList, h.broadcasts.List())
	}

	if c.joined {
		h.loadDirectory(nil)
	}
}

func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) {
	if !c.joined {
		h.log.Debug("send_message before join_chat ignored", zap.String("conn", c.ID))
		return
	}
	var p sendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.Content == "" {
		return
	}
	kind := p.Kind
	if kind != chat.KindImage {
		kind = chat.KindText
	}

	msg := chat.Message{
		UserID:    c.UserID,
		Nickname:  c.Nickname,
		AvatarURL: c.AvatarURL,
		Content:   p.Content,
		Kind:      kind,
	}

	// The durable write is the only suspending operation: it runs off
	// the loop and the message is broadcast only once it has succeeded.
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
		defer cancel()
		if err := h.store.SaveMessage(ctx, &msg); err != nil {
			persistFailures.Inc()
			h.log.Error("message persist failed, broadcast suppressed",
				zap.Int("user", msg.UserID), zap.Error(err))
			return
		}
		h.post(messagePersisted{msg: msg})
	}()
}

func (h *Hub) loadHistory(c *Client) {
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
		defer cancel()
		msgs, err := h.store.RecentMessages(ctx)
		if err != nil {
			h.log.Error("history load failed", zap.String("conn", c.ID), zap.Error(err))
			return
		}
		h.post(historyLoaded{target: c, msgs: msgs})
	}()
}

func (h *Hub) loadDirectory(target *Client) {
	go func() {
		ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
		defer cancel()
		users, err := h.directory.Directory(ctx)
		if err != nil {
			h.log.Error("user directory load failed", zap.Error(err))
			return
		}
		h.post(directoryLoaded{target: target, users: users})
	}()
}

// presenceSnapshot merges the registered directory with the live online
// set: offline users appear too, flagged offline.
func (h *Hub) presenceSnapshot(users []user.User) []userListEntry {
	online := h.presence.OnlineUserIDs()
	entries := make([]userListEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, userListEntry{
			ID:        u.ID,
			Nickname:  u.Nickname,
			AvatarURL: u.AvatarURL,
			IsOnline:  online[u.ID],
		})
	}
	return entries
}

// --- ladder ----------------------------------------------------------

type ladderSnapshotPayload struct {
	State        string               `json:"state"`
	Participants []ladder.Participant `json:"participants"`
	Results      []string             `json:"results"`
	Creator      *ladder.Participant  `json:"creator,omitempty"`
	TimeLeft     int                  `json:"timeLeft"`
}

type ladderGameStartPayload struct {
	LadderData    []ladder.Rung        `json:"ladderData"`
	LadderResults []string             `json:"ladderResults"`
	Participants  []ladder.Participant `json:"participants"`
}

func (h *Hub) ladderSnapshot() ladderSnapshotPayload {
	p := ladderSnapshotPayload{
		State:        string(h.game.Phase()),
		Participants: h.game.Participants(),
		Results:      h.game.Results(),
		TimeLeft:     h.game.Countdown(),
	}
	if creator, ok := h.game.Creator(); ok {
		p.Creator = &creator
	}
	return p
}

func (h *Hub) ladderGamePayload() ladderGameStartPayload {
	return ladderGameStartPayload{
		LadderData:    h.game.Rungs(),
		LadderResults: h.game.Results(),
		Participants:  h.game.Participants(),
	}
}

func (h *Hub) handleStartLadder(c *Client) {
	if !c.joined {
		return
	}
	err := h.game.Create(ladder.Participant{Nickname: c.Nickname, AvatarURL: c.AvatarURL})
	if err != nil {
		// First creator wins; late creates are silent no-ops.
		h.log.Info("ladder create ignored", zap.String("nickname", c.Nickname),
			zap.String("phase", string(h.game.Phase())))
		return
	}
	h.startTicker()
	h.broadcastAll(EvtLadderState, h.ladderSnapshot())
}

func (h *Hub) handleJoinLadder(c *Client) {
	if !c.joined {
		return
	}
	err := h.game.Join(ladder.Participant{Nickname: c.Nickname, AvatarURL: c.AvatarURL})
	if err != nil {
		h.log.Debug("ladder join ignored", zap.String("nickname", c.Nickname), zap.Error(err))
		return
	}
	h.broadcastAll(EvtLadderParticipants, h.game.Participants())
}

func (h *Hub) handleLadderTick() {
	remaining, entered, err := h.game.Tick()
	if err != nil {
		// Stale tick from a game that already moved on.
		h.stopTicker()
		return
	}
	if !entered {
		h.broadcastAll(EvtLadderTimer, remaining)
		return
	}
	h.stopTicker()
	h.broadcastAll(EvtLadderState, h.ladderSnapshot())
}

func (h *Hub) handleUpdateLadderResult(c *Client, data json.RawMessage) {
	var p updateResultPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if err := h.game.SetResult(p.Index, p.Value); err != nil {
		h.log.Debug("ladder result update ignored", zap.Int("index", p.Index), zap.Error(err))
		return
	}
	// The sender's input field already shows their edit; everyone else
	// syncs. Last writer wins on concurrent edits to the same slot.
	h.broadcastExcept(c, EvtLadderResults, map[string][]string{"ladderResults": h.game.Results()})
}

func (h *Hub) handleRunLadder(c *Client) {
	if err := h.game.Run(c.Nickname); err != nil {
		h.log.Info("ladder run ignored", zap.String("nickname", c.Nickname), zap.Error(err))
		return
	}
	ladderGamesPlayed.Inc()
	h.startResetTimer()
	h.broadcastAll(EvtLadderGameStart, h.ladderGamePayload())
}

func (h *Hub) handleResetLadder(c *Client) {
	if err := h.game.Reset(c.Nickname); err != nil {
		h.log.Info("ladder reset ignored", zap.String("nickname", c.Nickname), zap.Error(err))
		return
	}
	h.stopTicker()
	h.stopResetTimer()
	h.broadcastAll(EvtLadderState, h.ladderSnapshot())
}

// startTicker launches the 1s recruitment countdown, replacing any prior
// ticker so two can never run at once.
func (h *Hub) startTicker() {
	h.stopTicker()
	if h.disableTimers {
		return
	}
	stop := make(chan struct{})
	h.tickerStop = stop
	go func() {
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-h.ctx.Done():
				return
			case <-t.C:
				h.post(ladderTick{})
			}
		}
	}()
}

func (h *Hub) stopTicker() {
	if h.tickerStop != nil {
		close(h.tickerStop)
		h.tickerStop = nil
	}
}

func (h *Hub) startResetTimer() {
	h.stopResetTimer()
	if h.disableTimers {
		return
	}
	h.resetTimer = time.AfterFunc(ladder.PlaySeconds*time.Second, func() {
		h.post(ladderExpired{})
	})
}

func (h *Hub) stopResetTimer() {
	if h.resetTimer != nil {
		h.resetTimer.Stop()
		h.resetTimer = nil
	}
}

// --- screen broadcast & signaling ------------------------------------

func (h *Hub) handleStartBroadcast(c *Client, data json.RawMessage) {
	if !c.joined {
		return
	}
	var p startBroadcastPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	s := broadcast.Session{
		ConnID:    c.ID,
		UserID:    c.UserID,
		Nickname:  c.Nickname,
		Quality:   p.Quality,
		HasAudio:  p.HasAudio,
		AvatarURL: c.AvatarURL,
	}
	if replaced := h.broadcasts.Start(s); replaced {
		h.log.Info("broadcast restarted, prior session replaced", zap.Int("user", c.UserID))
	}
	h.broadcastAll(EvtBroadcastStarted, s)
	h.broadcastAll(EvtBroadcastList, h.broadcasts.List())
}

func (h *Hub) handleStopBroadcast(c *Client) {
	s, ok := h.broadcasts.StopByConn(c.ID)
	if !ok {
		return
	}
	h.broadcastAll(EvtBroadcastStopped, map[string]int{"id": s.UserID})
	h.broadcastAll(EvtBroadcastList, h.broadcasts.List())
}

func (h *Hub) handleJoinBroadcast(c *Client, data json.RawMessage) {
	var p joinBroadcastPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	// A broadcaster cannot register as their own viewer.
	if p.BroadcasterID == c.UserID {
		return
	}
	s, ok := h.broadcasts.FindByUser(p.BroadcasterID)
	if !ok {
		// Broadcast ended between the client's list render and click.
		return
	}
	broadcaster, ok := h.clients[s.ConnID]
	if !ok {
		return
	}
	h.sendTo(broadcaster, EvtViewerJoined, map[string]string{
		"viewerId": c.ID,
		"nickname": c.Nickname,
	})
}

// handleLeaveBroadcast notifies every broadcaster: the relay does not
// track which broadcast a viewer joined, an accepted imprecision.
func (h *Hub) handleLeaveBroadcast(c *Client) {
	for _, connID := range h.broadcasts.BroadcasterConns() {
		if broadcaster, ok := h.clients[connID]; ok {
			h.sendTo(broadcaster, EvtViewerLeft, map[string]string{"viewerId": c.ID})
		}
	}
}

// relaySignal forwards an opaque signaling payload to the named target
// connection with the sender's connection id attached as "from". No
// payload validation, no delivery guarantee: a vanished target is a no-op.
func (h *Hub) relaySignal(c *Client, eventName string, data json.RawMessage) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	var targetID string
	if err := json.Unmarshal(payload["target"], &targetID); err != nil {
		return
	}
	target, ok := h.clients[targetID]
	if !ok {
		return
	}

	from, _ := json.Marshal(c.ID)
	payload["from"] = from
	h.sendTo(target, eventName, payload)
}

// --- fan-out plumbing ------------------------------------------------

func (h *Hub) sendTo(c *Client, eventName string, data any) {
	if c == nil {
		return
	}
	if existing, ok := h.clients[c.ID]; !ok || existing != c {
		return
	}
	frame, err := marshalFrame(eventName, data)
	if err != nil {
		h.log.Error("frame marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if !c.enqueue(frame) {
		h.dropSlow(c)
	}
}

func (h *Hub) broadcastAll(eventName string, data any) {
	h.broadcastExcept(nil, eventName, data)
}

func (h *Hub) broadcastExcept(sender *Client, eventName string, data any) {
	frame, err := marshalFrame(eventName, data)
	if err != nil {
		h.log.Error("frame marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}

	var slow []*Client
	for _, c := range h.clients {
		if sender != nil && c.ID == sender.ID {
			continue
		}
		if !c.enqueue(frame) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropSlow(c)
	}
}

// dropSlow evicts a client whose send buffer is full, running the same
// cleanup a disconnect would.
func (h *Hub) dropSlow(c *Client) {
	h.log.Warn("dropping slow client", zap.String("conn", c.ID))
	h.handleDisconnect(c)
}

// post delivers an event into the loop from a helper goroutine without
// wedging on shutdown.
func (h *Hub) post(ev event) {
	select {
	case h.events <- ev:
	case <-h.ctx.Done():
	}
}
