// Package consumerrors defines the sentinel errors and typed
// control-flow signals the consumer runtime's dispatch loop recognizes
// (spec.md §7), generalizing the teacher's single-sentinel pattern
// (edge/internal/safety.ErrNotInSafeMode) to the small family the
// dispatch loop needs to distinguish failures from intentional
// control-flow.
package consumerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by the consumer runtime. The layer, registry and
// naming sentinels (layer.ErrChannelFull, registry.ErrNoSuchLayer,
// naming.ErrInvalidName) stay in their own packages and are not
// re-exported here.
var (
	// ErrNoHandler is returned when a dispatched message's type has no
	// corresponding exported, non-underscore-prefixed method.
	ErrNoHandler = errors.New("consumer: no handler for message type")
	// ErrBadType is returned when a message's type fails the dotted-type
	// validation rules (lowercase ASCII letters, digits, "_" and ".", with
	// no leading or trailing dot).
	ErrBadType = errors.New("consumer: invalid message type")
	// ErrLayerRequired is returned at construction when a consumer
	// declares groups but has no channel layer configured.
	ErrLayerRequired = errors.New("consumer: channel layer required when groups are declared")
	// ErrEncoding is returned by the JSON specialization when a text
	// frame fails to decode.
	ErrEncoding = errors.New("consumer: encoding error")
)

// StopConsumer is a control-flow signal, not a failure: a handler raises
// it to end the dispatch loop cleanly. The runtime checks for it with
// errors.As before treating anything else as an unhandled failure.
type StopConsumer struct{}

func (StopConsumer) Error() string { return "consumer: stop" }

// DenyConnection is raised from connect() to refuse a WebSocket upgrade.
// The runtime translates it into a websocket.close event carrying Code.
type DenyConnection struct {
	Code int
}

func (d DenyConnection) Error() string {
	return fmt.Sprintf("consumer: deny connection (code %d)", d.Code)
}

// AcceptConnection is raised from connect() to explicitly accept with a
// chosen subprotocol, overriding the default bare accept().
type AcceptConnection struct {
	Subprotocol string
}

func (a AcceptConnection) Error() string {
	return fmt.Sprintf("consumer: accept connection (subprotocol %q)", a.Subprotocol)
}

// IsControlFlow reports whether err is one of the control-flow signals
// above rather than a genuine failure.
func IsControlFlow(err error) bool {
	var stop StopConsumer
	var deny DenyConnection
	var accept AcceptConnection
	return errors.As(err, &stop) || errors.As(err, &deny) || errors.As(err, &accept)
}
