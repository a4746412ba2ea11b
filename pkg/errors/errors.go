// Package errors defines the error kinds used across the orchestrator.
// Errors are tagged with a Kind rather than represented as distinct Go
// types, so callers can branch on category without a long type switch.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error by where in the chain lifecycle it occurred.
type Kind string

const (
	// KindConfigInvalid marks a chain or node configuration that failed
	// validation before deployment. Deploys abort on this kind.
	KindConfigInvalid Kind = "config-invalid"

	// KindRoutingMiss marks a signal or request that could not be matched
	// to a local node or chain. Routing misses are logged and dropped,
	// never escalated to a chain failure.
	KindRoutingMiss Kind = "routing-miss"

	// KindTransport marks a failure to reach a remote supervisor or
	// monitoring host over the broadcast/resolver interfaces.
	KindTransport Kind = "transport"

	// KindProcessorFailure marks a ProcessCallback/PreProcessCallback
	// returning an error while digesting data.
	KindProcessorFailure Kind = "processor-failure"

	// KindStateViolation marks an attempted transition that the node or
	// chain state machine does not allow (e.g. resuming a node that was
	// never suspended).
	KindStateViolation Kind = "state-violation"
)

var (
	// ErrNodeNotFound indicates a signal referenced a node id the
	// supervisor does not own locally.
	ErrNodeNotFound = errors.New("node not found")

	// ErrChainNotFound indicates a signal referenced a chain id unknown
	// to this supervisor.
	ErrChainNotFound = errors.New("chain not found")

	// ErrNotSuspended indicates a NODE_RESUME signal arrived for a node
	// that has no stashed suspension state.
	ErrNotSuspended = errors.New("node is not suspended")

	// ErrUnresolvedHost indicates hostResolver could not derive a target
	// host from a targetId/meta pair.
	ErrUnresolvedHost = errors.New("unable to resolve host for target")
)

// Error is a structured orchestrator error: a Kind plus free-form context.
type Error struct {
	Kind    Kind
	ChainID string
	NodeID  string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	loc := e.ChainID
	if e.NodeID != "" {
		loc = fmt.Sprintf("%s/%s", e.ChainID, e.NodeID)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, loc, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, loc, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a structured error of the given kind.
func New(kind Kind, chainID, nodeID, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		ChainID: chainID,
		NodeID:  nodeID,
		Message: message,
		Err:     err,
	}
}

// Is reports whether the first *Error in err's chain has the given Kind.
// Kinds of *Errors wrapped beneath that one are not consulted.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
