// Package broadcast tracks active screen-share sessions. The signaling
// traffic itself is relayed by the hub; this package only owns the
// who-is-broadcasting bookkeeping.
package broadcast

import "sort"

// Session is one active screen share. At most one exists per user.
type Session struct {
	ConnID    string `json:"connId"`
	UserID    int    `json:"id"`
	Nickname  string `json:"nickname"`
	Quality   string `json:"quality"`
	HasAudio  bool   `json:"hasAudio"`
	AvatarURL string `json:"profileImage"`
}

// Directory is plain bookkeeping; the hub's event loop is its only caller.
type Directory struct {
	byUser map[int]Session
}

func NewDirectory() *Directory {
	return &Directory{byUser: make(map[int]Session)}
}

// Start registers a session, replacing any prior broadcast by the same
// user. replaced reports whether an old session was overwritten.
func (d *Directory) Start(s Session) (replaced bool) {
	_, replaced = d.byUser[s.UserID]
	d.byUser[s.UserID] = s
	return replaced
}

// StopByConn removes the session owned by the given connection, if any.
// Disconnect cleanup and explicit stop both arrive here.
func (d *Directory) StopByConn(connID string) (Session, bool) {
	for userID, s := range d.byUser {
		if s.ConnID == connID {
			delete(d.byUser, userID)
			return s, true
		}
	}
	return Session{}, false
}

// FindByUser looks a broadcast up by the broadcaster's user id, which is
// what viewers know it by.
func (d *Directory) FindByUser(userID int) (Session, bool) {
	s, ok := d.byUser[userID]
	return s, ok
}

// List returns the active sessions in a stable nickname order.
func (d *Directory) List() []Session {
	out := make([]Session, 0, len(d.byUser))
	for _, s := range d.byUser {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out
}

// BroadcasterConns returns the connection ids of every active broadcaster.
// Viewer-left notices go to all of them: the relay does not track which
// broadcast a viewer joined.
func (d *Directory) BroadcasterConns() []string {
	out := make([]string, 0, len(d.byUser))
	for _, s := range d.byUser {
		out = append(out, s.ConnID)
	}
	sort.Strings(out)
	return out
}
