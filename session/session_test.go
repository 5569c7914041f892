package session

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(lifetime time.Duration) (*Signer, *clock.Mock) {
	mock := clock.NewMock()
	mock.Add(1000 * time.Hour)
	return NewSigner("super-secret", lifetime, mock), mock
}

func TestIssueAndVerify(t *testing.T) {
	s, mock := newTestSigner(time.Hour)
	tok, err := s.Issue("user-1", "web")
	require.NoError(t, err)

	p, err := s.Verify(tok, "web")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, "web", p.Environment)
	assert.Equal(t, mock.Now().Add(time.Hour).Unix(), p.Expires.Unix())
}

func TestVerifyExpired(t *testing.T) {
	s, mock := newTestSigner(time.Hour)
	tok, err := s.Issue("user-1", "web")
	require.NoError(t, err)

	mock.Add(59 * time.Minute)
	_, err = s.Verify(tok, "web")
	assert.NoError(t, err)

	// now == expires is already expired
	mock.Add(time.Minute)
	_, err = s.Verify(tok, "web")
	assert.Equal(t, ErrExpiredToken, err)
}

func TestVerifyEnvironmentMismatch(t *testing.T) {
	s, _ := newTestSigner(time.Hour)
	tok, err := s.Issue("user-1", "web")
	require.NoError(t, err)

	_, err = s.Verify(tok, "ios")
	assert.Equal(t, ErrEnvironmentMismatch, err)
}

func TestVerifyInvalid(t *testing.T) {
	s, mock := newTestSigner(time.Hour)
	tok, err := s.Issue("user-1", "web")
	require.NoError(t, err)

	other := NewSigner("other-secret", time.Hour, mock)
	_, err = other.Verify(tok, "web")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = s.Verify("not.a.jwt", "web")
	assert.Equal(t, ErrInvalidToken, err)

	_, err = s.Verify(tok+"x", "web")
	assert.Equal(t, ErrInvalidToken, err)
}
