// Package session issues and verifies the signed tokens which let a client log in again without a password.
// A token binds a user id to the environment fingerprint of the client it was issued to and expires after a
// configured lifetime. There is no revocation, a token stays valid until it expires.
package session

import (
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token expired")
	ErrEnvironmentMismatch = errors.New("token environment mismatch")
)

type claims struct {
	jwt.RegisteredClaims
	User        string `json:"user"`
	Environment string `json:"environment"`
}

// Payload is the verified content of a token.
type Payload struct {
	UserID      string
	Environment string
	Expires     time.Time
}

type Signer struct {
	secret   []byte
	lifetime time.Duration
	clock    clock.Clock
}

func NewSigner(secret string, lifetime time.Duration, clk clock.Clock) *Signer {
	if clk == nil {
		clk = clock.New()
	}
	return &Signer{secret: []byte(secret), lifetime: lifetime, clock: clk}
}

// Issue returns a token for userID bound to environment, expiring lifetime from now.
func (s *Signer) Issue(userID, environment string) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
		User:        userID,
		Environment: environment,
	})
	return token.SignedString(s.secret)
}

// Verify checks the signature and the expiry of token, and that it was issued to environment.
// A token is expired from the instant of its expiry on.
func (s *Signer) Verify(token, environment string) (*Payload, error) {
	c := &claims{}
	parsed, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || c.User == "" {
		return nil, ErrInvalidToken
	}
	if c.Environment != environment {
		return nil, ErrEnvironmentMismatch
	}
	return &Payload{
		UserID:      c.User,
		Environment: c.Environment,
		Expires:     c.ExpiresAt.Time,
	}, nil
}
