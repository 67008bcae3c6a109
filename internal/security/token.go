package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// TokenPayload is what both tokens of a pair carry.
type TokenPayload struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

type Claims struct {
	UserID    string    `json:"uid"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	SessionID string    `json:"sid"`
	Kind      TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
}

type TokenService struct {
	cfg TokenConfig
	now func() time.Time
}

func NewTokenService(cfg TokenConfig) *TokenService {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = 30 * 24 * time.Hour
	}
	return &TokenService{cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for issuing and validating tokens.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// RefreshTTL is the refresh lifetime, which is also the session lifetime.
func (s *TokenService) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RememberMeTTL
	}
	return s.cfg.RefreshTTL
}

// GenerateTokens signs an access and a refresh token over the same payload. The
// access lifetime does not depend on rememberMe.
func (s *TokenService) GenerateTokens(payload TokenPayload, rememberMe bool) (TokenPair, error) {
	now := s.now()
	accessExp := now.Add(s.cfg.AccessTTL)
	refreshExp := now.Add(s.RefreshTTL(rememberMe))

	access, err := s.sign(payload, TokenAccess, now, accessExp, s.cfg.AccessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(payload, TokenRefresh, now, refreshExp, s.cfg.RefreshSecret)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// GenerateAccessToken signs a fresh access token only, for refresh exchanges.
func (s *TokenService) GenerateAccessToken(payload TokenPayload) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.cfg.AccessTTL)
	token, err := s.sign(payload, TokenAccess, now, exp, s.cfg.AccessSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, exp, nil
}

func (s *TokenService) sign(payload TokenPayload, kind TokenKind, now, exp time.Time, secret string) (string, error) {
	claims := Claims{
		UserID:    payload.UserID,
		Email:     payload.Email,
		Role:      payload.Role,
		SessionID: payload.SessionID,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   payload.UserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// VerifyToken validates an access token. Tampered, expired and malformed tokens all
// yield false.
func (s *TokenService) VerifyToken(token string) (*Claims, bool) {
	return s.parse(token, TokenAccess, s.cfg.AccessSecret)
}

func (s *TokenService) VerifyRefreshToken(token string) (*Claims, bool) {
	return s.parse(token, TokenRefresh, s.cfg.RefreshSecret)
}

func (s *TokenService) parse(tokenStr string, kind TokenKind, secret string) (*Claims, bool) {
	if tokenStr == "" {
		return nil, false
	}

	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind || claims.UserID == "" || claims.SessionID == "" {
		return nil, false
	}
	return claims, true
}

// ExtractTokenFromRequest reads the bearer token from the Authorization header, then
// from the named cookie. It returns "" when neither is present.
func ExtractTokenFromRequest(r *http.Request, cookieName string) string {
	if r == nil {
		return ""
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	if cookieName == "" {
		return ""
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// NewSessionToken returns an opaque secret for a session row. It is unrelated to
// the signed tokens.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
