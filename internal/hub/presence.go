package hub

// DisplayInfo is the last-known display identity of a user, retained even
// after every connection of theirs is gone. It mirrors the user directory
// and backs the nickname comparisons for ladder authorization.
type DisplayInfo struct {
	Nickname  string
	AvatarURL string
}

// Registry tracks which logical users hold open connections. A user is
// online iff at least one connection maps to them, so a second tab joining
// and leaving never flickers their presence. Pure bookkeeping, owned by
// the hub loop.
type Registry struct {
	connToUser map[string]int
	display    map[int]DisplayInfo
}

func NewRegistry() *Registry {
	return &Registry{
		connToUser: make(map[string]int),
		display:    make(map[int]DisplayInfo),
	}
}

func (r *Registry) Attach(connID string, userID int, info DisplayInfo) {
	r.connToUser[connID] = userID
	r.display[userID] = info
}

// Detach is idempotent and safe for connections that never attached.
// Display info is kept; only the live mapping goes away.
func (r *Registry) Detach(connID string) {
	delete(r.connToUser, connID)
}

func (r *Registry) IsOnline(userID int) bool {
	for _, id := range r.connToUser {
		if id == userID {
			return true
		}
	}
	return false
}

func (r *Registry) DisplayInfo(userID int) (DisplayInfo, bool) {
	info, ok := r.display[userID]
	return info, ok
}

// OnlineUserIDs returns the set of users with at least one live
// connection.
func (r *Registry) OnlineUserIDs() map[int]bool {
	online := make(map[int]bool)
	for _, id := range r.connToUser {
		online[id] = true
	}
	return online
}
