package user

type User struct {
	ID        int    `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"profile_image"`
	Password  string `json:"-"`
}

type RegisterRequest struct {
	Nickname string `json:"nickname"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int    `json:"id"`
	Nickname    string `json:"nickname"`
	AvatarURL   string `json:"profile_image"`
}
