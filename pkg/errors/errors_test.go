package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageIncludesKindAndChainID(t *testing.T) {
	err := New(KindTransport, "chain-1", "", "broadcast setup failed", nil)

	msg := err.Error()
	assert.Contains(t, msg, string(KindTransport))
	assert.Contains(t, msg, "chain-1")
	assert.Contains(t, msg, "broadcast setup failed")
}

func TestError_MessageIncludesNodeIDWhenSet(t *testing.T) {
	err := New(KindProcessorFailure, "chain-1", "node-9", "processor failed", nil)

	assert.Contains(t, err.Error(), "chain-1/node-9")
}

func TestError_MessageIncludesWrappedCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := New(KindTransport, "chain-1", "", "remote call failed", cause)

	assert.Contains(t, err.Error(), "connection refused")
}

func TestUnwrap_ReturnsUnderlyingError(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindStateViolation, "chain-1", "node-1", "bad transition", cause)

	assert.Same(t, cause, errors.Unwrap(err))
}

func TestIs_MatchesOnlyTheConstructedKind(t *testing.T) {
	err := New(KindRoutingMiss, "chain-1", "", "no local node", nil)

	assert.True(t, Is(err, KindRoutingMiss))
	assert.False(t, Is(err, KindTransport))
}

func TestIs_FalseForPlainErrors(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindTransport))
}

func TestIs_MatchesOutermostKindOnly(t *testing.T) {
	inner := New(KindConfigInvalid, "chain-1", "", "bad config", nil)
	wrapped := &Error{Kind: KindTransport, ChainID: "chain-1", Message: "outer failure", Err: inner}

	assert.True(t, Is(wrapped, KindTransport))
	// Is only matches the outermost Kind, not a wrapped *Error's.
	assert.False(t, Is(wrapped, KindConfigInvalid))
}
