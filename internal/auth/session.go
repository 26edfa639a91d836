package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie the web client authenticates with.
const SessionCookie = "__Secure-Authorization"

var ErrInvalidSession = errors.New("invalid or expired session")

type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// SessionVerifier validates HS256 session tokens issued by the login service.
type SessionVerifier struct {
	secret []byte
}

func NewSessionVerifier(secret string) *SessionVerifier {
	return &SessionVerifier{secret: []byte(secret)}
}

// Issue signs a session for userID. Used by the admin CLI and tests.
func (v *SessionVerifier) Issue(userID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify returns the user id carried by a valid token.
func (v *SessionVerifier) Verify(tokenString string) (string, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidSession
	}
	if claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}

// TokenFromRequest reads the session cookie, falling back to a Bearer header.
func TokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return strings.TrimPrefix(c.Value, "Bearer "), nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("%w: no credentials", ErrInvalidSession)
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidSession)
	}
	return parts[1], nil
}
