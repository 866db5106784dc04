package protocol

import (
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
)

// ErrAborted is wrapped by every error indicating that the session was aborted by the
// transport rather than failed: use errors.Is(err, ErrAborted) to test for it.
var ErrAborted = errors.New("protocol: aborted")

var (
	// ErrTimeout is returned when the client sent the timeout sentinel.
	ErrTimeout = fmt.Errorf("%w: timeout signal received", ErrAborted)
	// ErrStreamClosed is returned when the inbound stream closed before the protocol completed.
	ErrStreamClosed = fmt.Errorf("%w: stream closed by client before protocol has completed", ErrAborted)
	// ErrRoundFailed is returned when the engine failed to compute a round.
	ErrRoundFailed = errors.New("protocol: round computation failed")
)

// RoutingError indicates that an incoming message could not be attributed to a share of the session.
// It is always fatal since it indicates either a malformed client or impersonation.
type RoutingError string

const (
	ErrUnknownSender RoutingError = "unknown sender"
	ErrImpersonation RoutingError = "sender does not own the claimed share"
	ErrMalformed     RoutingError = "malformed envelope"
)

// Error implements error.
func (err RoutingError) Error() string {
	return "protocol: " + string(err)
}

// Error is a custom error for protocols which contains information about the responsible round in which it occurred,
// and the party responsible.
type Error struct {
	// RoundNumber where the error occurred
	RoundNumber round.Number
	// Culprit is empty if the identity of the misbehaving party cannot be known
	Culprit party.ID
	// Err is the underlying error
	Err error
}

func (e Error) Error() string {
	if e.Culprit == "" {
		return fmt.Sprintf("round %d: %s", e.RoundNumber, e.Err)
	}
	return fmt.Sprintf("round %d: party: %s: %s", e.RoundNumber, e.Culprit, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}
