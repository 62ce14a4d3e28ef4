package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingEmail = errors.New("token carries no email")
	ErrUnknownRole  = errors.New("token carries an unknown role")
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Claims are the access token claims issued by the identity provider.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// MemberID is the key carts, memberships and orders are stored under.
func (c *Claims) MemberID() string {
	return NormalizeUserID(c.Email)
}

func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// NormalizeUserID trims and lower-cases an email
func NormalizeUserID(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JWTService signs and verifies HS256 access tokens.
type JWTService struct {
	secretKey         []byte
	accessTokenExpiry time.Duration
	issuer            string
	leeway            time.Duration
	now               func() time.Time
}

type Option func(*JWTService)

// WithIssuer stamps issued tokens and rejects tokens from any other issuer.
func WithIssuer(issuer string) Option {
	return func(s *JWTService) { s.issuer = issuer }
}

// WithLeeway tolerates clock skew between the identity provider and us.
func WithLeeway(d time.Duration) Option {
	return func(s *JWTService) { s.leeway = d }
}

func NewJWTService(secretKey string, accessExpiry time.Duration, opts ...Option) *JWTService {
	s := &JWTService{
		secretKey:         []byte(secretKey),
		accessTokenExpiry: accessExpiry,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAccessToken issues a token for a member. An empty role means
// RoleMember.
func (s *JWTService) GenerateAccessToken(userID, email, role string) (string, time.Time, error) {
	if role == "" {
		role = RoleMember
	}
	now := s.now()
	expiresAt := now.Add(s.accessTokenExpiry)

	claims := Claims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ValidateAccessToken verifies signature, expiry and issuer. The token must
// name a member by email and carry a known role.
func (s *JWTService) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.MemberID() == "" {
		return nil, ErrMissingEmail
	}
	switch claims.Role {
	case RoleMember, RoleAdmin:
	case "":
		claims.Role = RoleMember
	default:
		return nil, ErrUnknownRole
	}
	return claims, nil
}
