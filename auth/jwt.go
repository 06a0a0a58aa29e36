package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const bearerPrefix = "Bearer "

// ErrNoToken is returned when a request carries no bearer token.
var ErrNoToken = errors.New("authorization required")

// Validator checks tokens issued by the auth provider.
type Validator struct {
	keyfunc jwt.Keyfunc
	issuer  string
	methods []string
}

// NewValidator fetches signing keys from baseURL's JWKS endpoint and keeps
// them refreshed in the background. baseURL is the auth base URL (e.g. from
// AUTH_BASE_URL).
func NewValidator(baseURL string) (*Validator, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("AUTH_BASE_URL is not set")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	jwks, err := keyfunc.NewDefault([]string{strings.TrimSuffix(baseURL, "/") + "/.well-known/jwks.json"})
	if err != nil {
		return nil, err
	}
	return NewValidatorWithKeyfunc(jwks.Keyfunc, u.Scheme+"://"+u.Host, "EdDSA"), nil
}

// NewValidatorWithKeyfunc builds a Validator over an arbitrary key source.
// An empty issuer disables the issuer check.
func NewValidatorWithKeyfunc(kf jwt.Keyfunc, issuer string, methods ...string) *Validator {
	return &Validator{keyfunc: kf, issuer: issuer, methods: methods}
}

// Validate parses tokenString and returns its claims.
func (v *Validator) Validate(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.methods)}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.Parse(tokenString, v.keyfunc, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// PlayerID validates the request's bearer token and returns the player it
// names.
func (v *Validator) PlayerID(r *http.Request) (uuid.UUID, error) {
	token, ok := BearerToken(r)
	if !ok {
		return uuid.Nil, ErrNoToken
	}
	claims, err := v.Validate(token)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(UserIDFromClaims(claims))
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not a player id: %w", err)
	}
	return id, nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	return token, token != ""
}

// UserIDFromClaims returns the user id from claims ("sub" or "id").
func UserIDFromClaims(claims jwt.MapClaims) string {
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub
	}
	if id, ok := claims["id"].(string); ok && id != "" {
		return id
	}
	return ""
}
