package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	verr := domain.NewValidationError("title", "title is required")
	verr.Add("starts_at", "starts_at is required")

	assert.True(t, errors.Is(verr, domain.ErrValidation))
	assert.Equal(t, "validation failed: starts_at: starts_at is required; title: title is required", verr.Error())

	wrapped := fmt.Errorf("create session: %w", verr)
	assert.True(t, errors.Is(wrapped, domain.ErrValidation))
	assert.False(t, errors.Is(wrapped, domain.ErrConflict))
}

func TestErrorCodeRoundTrip(t *testing.T) {
	for _, sentinel := range []error{
		domain.ErrValidation,
		domain.ErrNotFound,
		domain.ErrPermission,
		domain.ErrConflict,
		domain.ErrUnauthorized,
		domain.ErrTransport,
	} {
		code := domain.ErrorCode(fmt.Errorf("wrapped: %w", sentinel))
		assert.Equal(t, sentinel, domain.ErrorFromCode(code))
	}

	assert.Equal(t, domain.CodeInternal, domain.ErrorCode(errors.New("boom")))
	assert.Equal(t, "", domain.ErrorCode(nil))
	assert.Nil(t, domain.ErrorFromCode("bogus"))
}

func TestRetryable(t *testing.T) {
	assert.True(t, domain.Retryable(fmt.Errorf("fetch: %w", domain.ErrTransport)))
	assert.False(t, domain.Retryable(domain.ErrConflict))
	assert.False(t, domain.Retryable(domain.NewValidationError("x", "y")))
}

func TestTokenCredential_RefreshAt(t *testing.T) {
	cred := tokenCredential()
	assert.Equal(t, cred.IssuedAt.Add(48*time.Minute), cred.RefreshAt(0.8))
	assert.Equal(t, cred.RefreshAt(domain.DefaultRefreshFraction), cred.RefreshAt(0))
	assert.False(t, cred.Expired(cred.IssuedAt))
	assert.True(t, cred.Expired(cred.ExpiresAt))
}
