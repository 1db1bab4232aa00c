/**
 * @description
 * This package verifies the bearer credentials presented to the REST API and to
 * the realtime handshake. Tokens are HS256 JWTs issued by the signup/login flow;
 * their `sub` claim carries the user's UUID.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: JWT parsing and validation.
 */

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const clockLeeway = 30 * time.Second

var (
	ErrMissingToken    = errors.New("bearer token required")
	ErrInvalidToken    = errors.New("invalid token")
	ErrUnknownIdentity = errors.New("token subject does not match a known user")
)

// Verifier validates signed tokens and extracts the subject user id.
type Verifier struct {
	secret  []byte
	parser  *jwt.Parser
	enabled bool
}

// NewVerifier builds a verifier for HS256 tokens. Empty issuer or audience
// disables the corresponding check.
func NewVerifier(secret, issuer, audience string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(clockLeeway),
		jwt.WithExpirationRequired(),
	}
	if issuer = strings.TrimSpace(issuer); issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience = strings.TrimSpace(audience); audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return &Verifier{
		secret:  []byte(secret),
		parser:  jwt.NewParser(opts...),
		enabled: secret != "",
	}
}

// Verify checks the token signature and claims and returns the subject.
func (v *Verifier) Verify(tokenString string) (uuid.UUID, error) {
	if strings.TrimSpace(tokenString) == "" {
		return uuid.Nil, ErrMissingToken
	}
	if !v.enabled {
		return uuid.Nil, fmt.Errorf("%w: verifier has no signing secret", ErrInvalidToken)
	}

	var claims jwt.RegisteredClaims
	token, err := v.parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return userID, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}

// HandshakeToken reads the credential of a realtime handshake: the Authorization
// header if present, otherwise the `token` query parameter.
func HandshakeToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return BearerToken(header)
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// IdentityLookup resolves a verified user id to an identity snapshot.
type IdentityLookup interface {
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Gate combines token verification with identity resolution.
type Gate struct {
	verifier *Verifier
	users    IdentityLookup
}

func NewGate(verifier *Verifier, users IdentityLookup) *Gate {
	return &Gate{verifier: verifier, users: users}
}

// Authenticate verifies token and loads the identity it names.
func (g *Gate) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	userID, err := g.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := g.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrUnknownIdentity
		}
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
	return user, nil
}

// IsCredentialError reports whether err means the caller failed to authenticate,
// as opposed to the identity lookup itself failing.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMissingToken) || errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUnknownIdentity)
}

type userIDContextKey struct{}

// WithUserID stores the authenticated user id on ctx.
func WithUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id from ctx.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDContextKey{}).(uuid.UUID)
	return userID, ok
}
