package services

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"watchparty-backend/internal/models"
	"watchparty-backend/internal/utils"
)

var ErrInvalidToken = errors.New("invalid token")

// DefaultTokenTTL is how long an issued token stays valid.
const DefaultTokenTTL = 72 * time.Hour

// AuthService issues and checks the HS256 tokens that carry a viewer's
// identity. Identity is a display hint, not an account.
type AuthService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &AuthService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for iat, exp and validation.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = nowOrDefault(now)
	return s
}

// NewGuest mints a fresh identity for a viewer without a token.
func (s *AuthService) NewGuest(name, avatarURL string) models.Identity {
	name = utils.SanitizeString(name, maxDisplayNameLength)
	if name == "" {
		name = "Guest"
	}
	return models.Identity{
		ID:          uuid.NewString(),
		DisplayName: name,
		AvatarURL:   avatarURL,
	}
}

func (s *AuthService) GenerateJWT(id models.Identity) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"user_id": id.ID,
		"name":    id.DisplayName,
		"avatar":  id.AvatarURL,
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken verifies tokenString and returns the identity it carries.
func (s *AuthService) ValidateToken(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Identity{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.Identity{}, ErrInvalidToken
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return models.Identity{}, ErrInvalidToken
	}
	name, _ := claims["name"].(string)
	avatar, _ := claims["avatar"].(string)
	return models.Identity{ID: userID, DisplayName: name, AvatarURL: avatar}, nil
}
