package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfClassifiedError(t *testing.T) {
	err := Newf(RateLimited, "quota exceeded")
	assert.Equal(t, RateLimited, KindOf(err))

	wrapped := fmt.Errorf("calling provider: %w", err)
	assert.Equal(t, RateLimited, KindOf(wrapped))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Unexpected, KindOf(errors.New("boom")))
	assert.Equal(t, Timeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestRetryable(t *testing.T) {
	retryable := []Kind{RateLimited, Timeout, Transient, CircuitOpen, Unexpected}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), string(k))
	}
	terminal := []Kind{Validation, Auth, Client, Resource}
	for _, k := range terminal {
		assert.False(t, k.Retryable(), string(k))
	}
}

func TestFromHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{429, RateLimited},
		{408, Timeout},
		{401, Auth},
		{403, Auth},
		{400, Client},
		{404, Client},
		{500, Transient},
		{503, Transient},
		{200, Unexpected},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, FromHTTPStatus(tc.status), "status %d", tc.status)
	}
}

func TestWithService(t *testing.T) {
	err := Newf(Transient, "connection reset").WithService("stockclips")
	require.Contains(t, err.Error(), "stockclips")
	assert.Equal(t, Transient, KindOf(err))
}
