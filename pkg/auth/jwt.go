// Package auth signs and verifies the identity tokens exchanged for a
// session through setUserWithIdentityToken.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mahaj/chatcore/pkg/chaterr"
	"github.com/mahaj/chatcore/pkg/model"
)

const DefaultTTL = 5 * time.Minute

// Claims is the identity token payload. The nonce binds the token to one
// login attempt.
type Claims struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Nonce       string `json:"nonce"`
	jwt.RegisteredClaims
}

// Signer issues and checks HS256 identity tokens with a shared secret.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, errors.New("identity secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign creates an identity token for user bound to nonce.
func (s *Signer) Sign(user model.User, nonce model.Nonce) (string, error) {
	if user.UserID == "" {
		return "", chaterr.Validation("identityToken", "empty user id")
	}
	if nonce.Nonce == "" {
		return "", chaterr.Validation("identityToken", "empty nonce")
	}
	now := s.now()
	expires := now.Add(s.ttl)
	if nonce.Expired > 0 {
		if exp := time.Unix(nonce.Expired, 0); exp.Before(expires) {
			expires = exp
		}
	}
	claims := &Claims{
		UserID:      user.UserID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		Nonce:       nonce.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// Verify parses an identity token and checks it was issued for nonce.
// An empty nonce skips the nonce check.
func (s *Signer) Verify(tokenString, nonce string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, chaterr.E(chaterr.KindNotAuthenticated, "identityToken", err)
	}

	if !token.Valid {
		return nil, chaterr.NotAuthenticated("identityToken")
	}
	if claims.UserID == "" {
		return nil, chaterr.E(chaterr.KindNotAuthenticated, "identityToken", errors.New("token has no user id"))
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, chaterr.E(chaterr.KindNotAuthenticated, "identityToken", errors.New("nonce mismatch"))
	}

	return claims, nil
}

// User returns the profile carried by the claims.
func (c *Claims) User() model.User {
	return model.User{UserID: c.UserID, DisplayName: c.DisplayName, AvatarURL: c.AvatarURL}
}
