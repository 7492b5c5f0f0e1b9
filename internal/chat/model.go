package chat

import "time"

const (
	KindText  = "text"
	KindImage = "image"
)

// Message rows carry a denormalized nickname/avatar so history survives a
// user renaming themselves; loads prefer the live user row when it exists.
type Message struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"profile_image"`
	Content   string    `json:"content"`
	Kind      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}
