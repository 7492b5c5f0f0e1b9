package user

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Nicknames double as display identity in the chat, so they are capped the
// same way the lounge UI caps them.
const MaxNicknameLen = 9

var ErrNicknameTooLong = errors.New("nickname exceeds maximum length")
var ErrNicknameRequired = errors.New("nickname is required")

type Service struct {
	repo      *Repository
	cache     *DirectoryCache
	jwtSecret string
}

type Claims struct {
	ID        int    `json:"id"`
	Nickname  string `json:"nickname"`
	AvatarURL string `json:"profileImage"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, cache *DirectoryCache, secret string) *Service {
	return &Service{
		repo:      repo,
		cache:     cache,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	if err := validateNickname(req.Nickname); err != nil {
		return nil, err
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Nickname: req.Nickname,
		Password: string(hashedPwd),
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)

	return &User{ID: u.ID, Nickname: u.Nickname, AvatarURL: u.AvatarURL}, nil
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByNickname(ctx, req.Nickname)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	// Best effort, login should not fail on it.
	_ = s.repo.TouchLastLogin(ctx, u.ID)

	ss, err := s.issueToken(u.ID, u.Nickname, u.AvatarURL)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Nickname:    u.Nickname,
		AvatarURL:   u.AvatarURL,
	}, nil
}

// UpdateProfile changes the nickname (and optionally the avatar) and
// returns a fresh token carrying the new display identity.
func (s *Service) UpdateProfile(ctx context.Context, id int, nickname, avatarURL string) (*LoginResponse, error) {
	if err := validateNickname(nickname); err != nil {
		return nil, err
	}

	taken, err := s.repo.NicknameTaken(ctx, nickname, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNicknameTaken
	}

	if err := s.repo.UpdateProfile(ctx, id, nickname, avatarURL); err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx)

	// Nickname-only updates keep the stored avatar; the fresh token must
	// carry it too.
	if avatarURL == "" {
		if u, err := s.repo.GetUserByNickname(ctx, nickname); err == nil {
			avatarURL = u.AvatarURL
		}
	}

	ss, err := s.issueToken(id, nickname, avatarURL)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{AccessToken: ss, ID: id, Nickname: nickname, AvatarURL: avatarURL}, nil
}

func (s *Service) ValidateToken(tokenString string) (int, string, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})

	if err != nil || !token.Valid {
		return 0, "", "", err
	}

	return claims.ID, claims.Nickname, claims.AvatarURL, nil
}

// Directory lists every registered user for the presence snapshot.
func (s *Service) Directory(ctx context.Context) ([]User, error) {
	return s.cache.Directory(ctx)
}

func (s *Service) issueToken(id int, nickname, avatarURL string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:        id,
		Nickname:  nickname,
		AvatarURL: avatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ktv-lounge",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func validateNickname(nickname string) error {
	if nickname == "" {
		return ErrNicknameRequired
	}
	if len([]rune(nickname)) > MaxNicknameLen {
		return ErrNicknameTooLong
	}
	return nil
}
