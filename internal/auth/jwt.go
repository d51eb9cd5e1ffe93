package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt"

	"tracking/internal/domain"
)

var (
	// ErrInvalidToken is returned when a connect token cannot be trusted.
	ErrInvalidToken = errors.New("invalid token")

	// ErrIdentityMismatch is returned when the token belongs to someone else.
	ErrIdentityMismatch = errors.New("token does not match identity")
)

// TokenVerifier checks that a connect request really comes from the claimed identity.
type TokenVerifier interface {
	Verify(token string, role domain.Role, identityID string) error
}

// JWTVerifier validates HMAC-signed tokens carrying user_id and role claims.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Verify parses the token and checks its role and user_id claims.
func (v *JWTVerifier) Verify(tokenString string, role domain.Role, identityID string) error {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}

	if claimRole, _ := claims["role"].(string); !strings.EqualFold(claimRole, string(role)) {
		return fmt.Errorf("%w: role %q", ErrIdentityMismatch, claimRole)
	}
	if userID, _ := claims["user_id"].(string); userID == "" || userID != identityID {
		return ErrIdentityMismatch
	}

	return nil
}

// AllowAll accepts every connect request. Used when no signing secret is configured.
type AllowAll struct{}

// Verify always succeeds.
func (AllowAll) Verify(string, domain.Role, string) error { return nil }

var (
	_ TokenVerifier = (*JWTVerifier)(nil)
	_ TokenVerifier = AllowAll{}
)
