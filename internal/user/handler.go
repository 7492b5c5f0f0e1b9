package user

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	myMiddleware "ktv-lounge/internal/middleware"
)

// AvatarSaver stores an uploaded avatar and returns its public path. The
// upload package provides the disk-backed implementation.
type AvatarSaver interface {
	SaveFromRequest(r *http.Request, field string) (string, error)
}

type Handler struct {
	Service    *Service
	Avatars    AvatarSaver
	InviteCode string
}

func NewHandler(s *Service, avatars AvatarSaver, inviteCode string) *Handler {
	return &Handler{Service: s, Avatars: avatars, InviteCode: inviteCode}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Service.Register(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.Service.Login(r.Context(), &req)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	setTokenCookie(w, res.AccessToken)
	json.NewEncoder(w).Encode(res)
}

// Me reports the current auth status from the token cookie, mirroring what
// the SPA polls on load.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		json.NewEncoder(w).Encode(map[string]any{"loggedIn": false})
		return
	}

	id, nickname, avatar, err := h.Service.ValidateToken(token)
	if err != nil {
		clearTokenCookie(w)
		json.NewEncoder(w).Encode(map[string]any{"loggedIn": false})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"loggedIn": true,
		"user":     User{ID: id, Nickname: nickname, AvatarURL: avatar},
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	clearTokenCookie(w)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

// VerifyInviteCode gates first-time registration behind a shared code.
func (h *Handler) VerifyInviteCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.InviteCode != "" && strings.TrimSpace(req.Code) == strings.TrimSpace(h.InviteCode) {
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
		return
	}

	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid code"})
}

// UpdateProfile accepts multipart form data: a required nickname field and
// an optional profileImage file.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value(myMiddleware.UserKey).(int)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(6 << 20); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	nickname := r.FormValue("nickname")

	avatarURL := ""
	if _, _, err := r.FormFile("profileImage"); err == nil {
		path, err := h.Avatars.SaveFromRequest(r, "profileImage")
		if err != nil {
			http.Error(w, "failed to store avatar", http.StatusInternalServerError)
			return
		}
		avatarURL = path
	}

	res, err := h.Service.UpdateProfile(r.Context(), userID, nickname, avatarURL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	setTokenCookie(w, res.AccessToken)
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"nickname":      res.Nickname,
		"profile_image": res.AvatarURL,
	})
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int((24 * time.Hour).Seconds()),
	})
}

func clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}
