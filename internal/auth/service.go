package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 7 * 24 * time.Hour
	defaultMagicLinkTTL = 15 * time.Minute
)

type Service struct {
	repo         *Repository
	mailer       Mailer
	jwtSecret    []byte
	baseURL      string
	accessTTL    time.Duration
	refreshTTL   time.Duration
	magicLinkTTL time.Duration
	now          func() time.Time
}

func NewService(repo *Repository, mailer Mailer, jwtSecret, baseURL string) *Service {
	return &Service{
		repo:         repo,
		mailer:       mailer,
		jwtSecret:    []byte(jwtSecret),
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		magicLinkTTL: defaultMagicLinkTTL,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithTokenConfig(accessTTL, refreshTTL, magicLinkTTL time.Duration) {
	if accessTTL > 0 {
		s.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		s.refreshTTL = refreshTTL
	}
	if magicLinkTTL > 0 {
		s.magicLinkTTL = magicLinkTTL
	}
}

// NormalizeEmail lowercases and validates a bare address.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// RequestMagicLink stores a one-time token for email and hands the sign-in
// link to the mailer.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	token, err := randomToken(32)
	if err != nil {
		return fmt.Errorf("generate magic link token: %w", err)
	}

	if err := s.repo.CreateMagicLink(ctx, email, token, s.now().Add(s.magicLinkTTL)); err != nil {
		return err
	}

	link := s.baseURL + "/auth/verify?token=" + url.QueryEscape(token)
	if err := s.mailer.SendMagicLink(ctx, email, link); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}

	return nil
}

func (s *Service) VerifyMagicLink(ctx context.Context, token string) (Tokens, User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Tokens{}, User{}, ErrInvalidMagicLink
	}

	link, err := s.repo.ConsumeMagicLink(ctx, token, s.now())
	if err != nil {
		return Tokens{}, User{}, err
	}

	user, err := s.repo.UpsertUserByEmail(ctx, link.Email)
	if err != nil {
		return Tokens{}, User{}, err
	}

	tokens, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return Tokens{}, User{}, err
	}

	return tokens, user, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidRefreshToken
	}

	newRefresh, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate new refresh token: %w", err)
	}

	userID, err := s.repo.RotateRefreshToken(ctx, refreshToken, newRefresh, s.now().Add(s.refreshTTL))
	if err != nil {
		return Tokens{}, err
	}

	access, expiresIn, err := s.issueAccessToken(userID)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: newRefresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrInvalidRefreshToken
	}
	return s.repo.RevokeRefreshToken(ctx, refreshToken)
}

func (s *Service) issueTokens(ctx context.Context, userID string) (Tokens, error) {
	access, expiresIn, err := s.issueAccessToken(userID)
	if err != nil {
		return Tokens{}, err
	}

	refreshToken, err := randomToken(48)
	if err != nil {
		return Tokens{}, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.repo.CreateRefreshToken(ctx, userID, refreshToken, s.now().Add(s.refreshTTL)); err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}, nil
}

func (s *Service) issueAccessToken(userID string) (string, int64, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(s.accessTTL).Unix(),
		"typ": "access",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	encoded, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, int64(s.accessTTL.Seconds()), nil
}

// ParseAccessToken validates an HS256 access token and returns its subject.
func (s *Service) ParseAccessToken(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidAccessToken
	}
	if tokenType, _ := claims["typ"].(string); tokenType != "access" {
		return "", ErrInvalidAccessToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return "", ErrInvalidAccessToken
	}

	return subject, nil
}

// BootstrapPlatformAdmins grants PLATFORM_ADMIN to each listed address.
func (s *Service) BootstrapPlatformAdmins(ctx context.Context, emails []string) error {
	for _, raw := range emails {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		email, err := NormalizeEmail(raw)
		if err != nil {
			return fmt.Errorf("platform admin %q: %w", raw, err)
		}
		if err := s.repo.GrantRoleByEmail(ctx, email, RolePlatformAdmin); err != nil {
			return err
		}
	}
	return nil
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var (
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrInvalidAccessToken = errors.New("invalid or expired token")
)
