package hub

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"ktv-lounge/internal/chat"
	"ktv-lounge/internal/ladder"
	"ktv-lounge/internal/user"
)

type fakeStore struct {
	mu      sync.Mutex
	saveErr error
	nextID  int
	saved   []chat.Message
	history []chat.Message
}

func (f *fakeStore) SaveMessage(ctx context.Context, msg *chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.nextID++
	msg.ID = f.nextID
	msg.CreatedAt = time.Now()
	f.saved = append(f.saved, *msg)
	return nil
}

func (f *fakeStore) RecentMessages(ctx context.Context) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, nil
}

func (f *fakeStore) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeDirectory struct {
	users []user.User
}

func (f *fakeDirectory) Directory(ctx context.Context) ([]user.User, error) {
	return f.users, nil
}

func newTestHub(t *testing.T, store MessageStore, dir DirectoryProvider) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(ctx, store, dir, rand.New(rand.NewSource(7)), zap.NewNop())
	h.disableTimers = true
	go h.Run()
	return h
}

// joinClient registers a fake connection and performs join_chat, then
// drains the join-time frames (ladder snapshot, history, user list).
func joinClient(t *testing.T, h *Hub, userID int, nickname string) *Client {
	t.Helper()
	c := newClient(nickname+"-conn", userID, nickname, "", nil, h, zap.NewNop())
	h.register <- c
	h.events <- clientFrame{client: c, env: Envelope{Event: EvtJoinChat}}

	recvEvent(t, c, EvtLadderState)
	recvEvent(t, c, EvtLoadMessages)
	recvEvent(t, c, EvtUpdateUserList)
	return c
}

func frame(c *Client, eventName string, data any) clientFrame {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return clientFrame{client: c, env: Envelope{Event: eventName, Data: raw}}
}

// recvEvent reads frames until one with the given name arrives; other
// frames in between are discarded.
func recvEvent(t *testing.T, c *Client, eventName string) json.RawMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				t.Fatalf("send channel for %s closed while waiting for %s", c.ID, eventName)
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("bad outbound frame: %v", err)
			}
			if env.Event == eventName {
				return env.Data
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", eventName, c.ID)
		}
	}
}

// recvNoEvent asserts that no frame with the given name shows up within
// the window.
func recvNoEvent(t *testing.T, c *Client, eventName string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("bad outbound frame: %v", err)
			}
			if env.Event == eventName {
				t.Fatalf("unexpected %s on %s: %s", eventName, c.ID, string(env.Data))
			}
		case <-deadline:
			return
		}
	}
}

func TestJoinDeliversLadderSnapshotHistoryAndUserList(t *testing.T) {
	store := &fakeStore{history: []chat.Message{{ID: 1, Nickname: "alice", Content: "hi"}}}
	dir := &fakeDirectory{users: []user.User{{ID: 1, Nickname: "alice"}, {ID: 2, Nickname: "bob"}}}
	h := newTestHub(t, store, dir)

	c := newClient("c1", 1, "alice", "", nil, h, zap.NewNop())
	h.register <- c
	h.events <- clientFrame{client: c, env: Envelope{Event: EvtJoinChat}}

	var snap ladderSnapshotPayload
	if err := json.Unmarshal(recvEvent(t, c, EvtLadderState), &snap); err != nil {
		t.Fatalf("snapshot decode: %v", err)
	}
	if snap.State != string(ladder.PhaseIdle) {
		t.Fatalf("ladder state = %s, want idle", snap.State)
	}

	var msgs []chat.Message
	if err := json.Unmarshal(recvEvent(t, c, EvtLoadMessages), &msgs); err != nil {
		t.Fatalf("history decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("history = %+v", msgs)
	}

	var list []userListEntry
	if err := json.Unmarshal(recvEvent(t, c, EvtUpdateUserList), &list); err != nil {
		t.Fatalf("user list decode: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("user list length = %d, want 2", len(list))
	}
	// the full directory appears, offline users flagged offline
	for _, entry := range list {
		wantOnline := entry.ID == 1
		if entry.IsOnline != wantOnline {
			t.Fatalf("user %d online = %v, want %v", entry.ID, entry.IsOnline, wantOnline)
		}
	}
}

func TestMessageBroadcastOnlyAfterPersist(t *testing.T) {
	store := &fakeStore{}
	h := newTestHub(t, store, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	h.events <- frame(a, EvtSendMessage, sendMessagePayload{Content: "hello", Kind: "text"})

	for _, c := range []*Client{a, b} {
		var msg chat.Message
		if err := json.Unmarshal(recvEvent(t, c, EvtReceiveMessage), &msg); err != nil {
			t.Fatalf("message decode: %v", err)
		}
		if msg.Content != "hello" || msg.Nickname != "alice" || msg.ID == 0 {
			t.Fatalf("broadcast message = %+v", msg)
		}
	}
	if store.savedCount() != 1 {
		t.Fatalf("saved %d messages, want 1", store.savedCount())
	}
}

func TestPersistFailureSuppressesBroadcast(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("db down")}
	h := newTestHub(t, store, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	h.events <- frame(a, EvtSendMessage, sendMessagePayload{Content: "lost", Kind: "text"})

	recvNoEvent(t, a, EvtReceiveMessage, 150*time.Millisecond)
	recvNoEvent(t, b, EvtReceiveMessage, 50*time.Millisecond)
}

func TestTypingExcludesSender(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	h.events <- frame(a, EvtTyping, nil)

	var nickname string
	if err := json.Unmarshal(recvEvent(t, b, EvtDisplayTyping), &nickname); err != nil {
		t.Fatalf("typing decode: %v", err)
	}
	if nickname != "alice" {
		t.Fatalf("typing nickname = %s", nickname)
	}
	recvNoEvent(t, a, EvtDisplayTyping, 50*time.Millisecond)

	h.events <- frame(a, EvtStopTyping, nil)
	recvEvent(t, b, EvtHideTyping)
}

func TestLadderGameOverHub(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	// create: everyone sees recruiting with alice as creator
	h.events <- frame(a, EvtStartLadder, nil)
	var snap ladderSnapshotPayload
	json.Unmarshal(recvEvent(t, b, EvtLadderState), &snap)
	if snap.State != string(ladder.PhaseRecruiting) || snap.Creator == nil || snap.Creator.Nickname != "alice" {
		t.Fatalf("recruiting snapshot = %+v", snap)
	}
	recvEvent(t, a, EvtLadderState)

	// join
	h.events <- frame(b, EvtJoinLadder, nil)
	var participants []ladder.Participant
	json.Unmarshal(recvEvent(t, a, EvtLadderParticipants), &participants)
	if len(participants) != 2 || participants[0].Nickname != "alice" {
		t.Fatalf("participants = %+v", participants)
	}
	recvEvent(t, b, EvtLadderParticipants)

	// drive the countdown with injected ticks instead of real seconds
	for i := 0; i < ladder.RecruitSeconds-1; i++ {
		h.events <- ladderTick{}
		var remaining int
		json.Unmarshal(recvEvent(t, a, EvtLadderTimer), &remaining)
		if remaining != ladder.RecruitSeconds-1-i {
			t.Fatalf("tick %d: remaining = %d", i, remaining)
		}
		recvEvent(t, b, EvtLadderTimer)
	}
	h.events <- ladderTick{}
	json.Unmarshal(recvEvent(t, a, EvtLadderState), &snap)
	if snap.State != string(ladder.PhaseInput) {
		t.Fatalf("state after countdown = %s, want input_phase", snap.State)
	}
	if len(snap.Results) != 2 || snap.Results[0] != "" || snap.Results[1] != "" {
		t.Fatalf("results after countdown = %+v", snap.Results)
	}
	recvEvent(t, b, EvtLadderState)

	// result edit fans out to everyone but the editor
	h.events <- frame(b, EvtUpdateLadderResult, updateResultPayload{Index: 1, Value: "winner"})
	var results map[string][]string
	json.Unmarshal(recvEvent(t, a, EvtLadderResults), &results)
	if results["ladderResults"][1] != "winner" {
		t.Fatalf("results payload = %+v", results)
	}
	recvNoEvent(t, b, EvtLadderResults, 50*time.Millisecond)

	// out-of-range edit is a silent no-op
	h.events <- frame(b, EvtUpdateLadderResult, updateResultPayload{Index: 5, Value: "x"})
	recvNoEvent(t, a, EvtLadderResults, 50*time.Millisecond)

	// only the creator can run
	h.events <- frame(b, EvtRunLadder, nil)
	recvNoEvent(t, a, EvtLadderGameStart, 50*time.Millisecond)

	h.events <- frame(a, EvtRunLadder, nil)
	var game ladderGameStartPayload
	json.Unmarshal(recvEvent(t, b, EvtLadderGameStart), &game)
	if len(game.LadderResults) != 2 || game.LadderResults[1] != "winner" {
		t.Fatalf("game payload results = %+v", game.LadderResults)
	}
	for _, r := range game.LadderData {
		if r.Col != 0 || r.Row < 0 || r.Row >= ladder.Rows {
			t.Fatalf("rung out of range: %+v", r)
		}
	}
	recvEvent(t, a, EvtLadderGameStart)

	// non-creator reset is a no-op while playing
	h.events <- frame(b, EvtResetLadder, nil)
	recvNoEvent(t, a, EvtLadderState, 50*time.Millisecond)

	// the safety-net expiry resets to idle for everyone
	h.events <- ladderExpired{}
	json.Unmarshal(recvEvent(t, a, EvtLadderState), &snap)
	if snap.State != string(ladder.PhaseIdle) {
		t.Fatalf("state after expiry = %s, want idle", snap.State)
	}
	recvEvent(t, b, EvtLadderState)

	// a stale tick after the game ended must not blow up or broadcast
	h.events <- ladderTick{}
	recvNoEvent(t, a, EvtLadderTimer, 50*time.Millisecond)
}

func TestMidGameJoinSeesCurrentState(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")

	h.events <- frame(a, EvtStartLadder, nil)
	recvEvent(t, a, EvtLadderState)
	for i := 0; i < ladder.RecruitSeconds; i++ {
		h.events <- ladderTick{}
	}
	recvEvent(t, a, EvtLadderState) // input phase
	h.events <- frame(a, EvtRunLadder, nil)
	recvEvent(t, a, EvtLadderGameStart)

	// a fresh join during Playing gets the playing snapshot plus rungs
	c := newClient("late-conn", 3, "carol", "", nil, h, zap.NewNop())
	h.register <- c
	h.events <- clientFrame{client: c, env: Envelope{Event: EvtJoinChat}}

	var snap ladderSnapshotPayload
	json.Unmarshal(recvEvent(t, c, EvtLadderState), &snap)
	if snap.State != string(ladder.PhasePlaying) {
		t.Fatalf("late joiner saw state %s, want playing", snap.State)
	}
	recvEvent(t, c, EvtLadderGameStart)
}

func TestBroadcastLifecycleOverHub(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	h.events <- frame(a, EvtStartBroadcast, startBroadcastPayload{Quality: "720p", HasAudio: true})

	var started map[string]any
	json.Unmarshal(recvEvent(t, b, EvtBroadcastStarted), &started)
	if started["nickname"] != "alice" || started["quality"] != "720p" {
		t.Fatalf("broadcast_started = %+v", started)
	}
	recvEvent(t, b, EvtBroadcastList)
	recvEvent(t, a, EvtBroadcastStarted)
	recvEvent(t, a, EvtBroadcastList)

	// viewer join notifies only the broadcaster
	h.events <- frame(b, EvtJoinBroadcast, joinBroadcastPayload{BroadcasterID: 1})
	var joined map[string]string
	json.Unmarshal(recvEvent(t, a, EvtViewerJoined), &joined)
	if joined["viewerId"] != b.ID || joined["nickname"] != "bob" {
		t.Fatalf("viewer_joined = %+v", joined)
	}
	recvNoEvent(t, b, EvtViewerJoined, 50*time.Millisecond)

	// joining your own broadcast is refused
	h.events <- frame(a, EvtJoinBroadcast, joinBroadcastPayload{BroadcasterID: 1})
	recvNoEvent(t, a, EvtViewerJoined, 50*time.Millisecond)

	// joining a vanished broadcast is a silent no-op
	h.events <- frame(b, EvtJoinBroadcast, joinBroadcastPayload{BroadcasterID: 99})
	recvNoEvent(t, a, EvtViewerJoined, 50*time.Millisecond)

	// viewer leave notifies every broadcaster
	h.events <- frame(b, EvtLeaveBroadcast, nil)
	var left map[string]string
	json.Unmarshal(recvEvent(t, a, EvtViewerLeft), &left)
	if left["viewerId"] != b.ID {
		t.Fatalf("viewer_left = %+v", left)
	}

	// broadcaster disconnect behaves like an explicit stop
	h.unregister <- a
	var stopped map[string]int
	json.Unmarshal(recvEvent(t, b, EvtBroadcastStopped), &stopped)
	if stopped["id"] != 1 {
		t.Fatalf("broadcast_stopped = %+v", stopped)
	}
	var list []any
	json.Unmarshal(recvEvent(t, b, EvtBroadcastList), &list)
	if len(list) != 0 {
		t.Fatalf("broadcast list after stop = %+v", list)
	}
}

func TestSignalRelayAttachesSenderAndSkipsMissingTarget(t *testing.T) {
	h := newTestHub(t, &fakeStore{}, &fakeDirectory{})
	a := joinClient(t, h, 1, "alice")
	b := joinClient(t, h, 2, "bob")

	h.events <- frame(a, EvtWebRTCOffer, map[string]any{"target": b.ID, "sdp": "v=0 fake"})

	var relayed map[string]string
	json.Unmarshal(recvEvent(t, b, EvtWebRTCOffer), &relayed)
	if relayed["from"] != a.ID {
		t.Fatalf("relayed from = %s, want %s", relayed["from"], a.ID)
	}
	if relayed["sdp"] != "v=0 fake" {
		t.Fatalf("payload not relayed verbatim: %+v", relayed)
	}

	// vanished target: no error, no delivery
	h.events <- frame(a, EvtWebRTCIce, map[string]any{"target": "gone", "candidate": "x"})
	recvNoEvent(t, b, EvtWebRTCIce, 50*time.Millisecond)
}
