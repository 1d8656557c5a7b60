package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of tokens handed to drivers' devices and
// dashboards.
const DefaultTokenTTL = 12 * time.Hour

var ErrTokenInvalid = errors.New("token invalid")

type Service struct {
	secret []byte
	now    func() time.Time
}

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret), now: time.Now}
}

// IssueToken signs an HS256 token for userID.
func (s *Service) IssueToken(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("user id required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return signTokenFn(jwt.NewWithClaims(jwt.SigningMethodHS256, claims), s.secret)
}

// ValidateToken returns the user id carried by a valid token.
func (s *Service) ValidateToken(token string) (string, error) {
	parsed, err := parseWithClaimsFn(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return "", ErrTokenInvalid
	}
	return claims.UserID, nil
}

var (
	parseWithClaimsFn = jwt.ParseWithClaims
	signTokenFn       = func(t *jwt.Token, key []byte) (string, error) { return t.SignedString(key) }
)
