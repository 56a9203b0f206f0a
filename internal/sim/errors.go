package sim

import (
	"errors"

	"github.com/signalsfoundry/mesh-simulator/internal/node"
	"github.com/signalsfoundry/mesh-simulator/kb"
)

var (
	// ErrNodeNotFound indicates a requested node does not exist.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeExists indicates a node id is already taken.
	ErrNodeExists = errors.New("node already exists")
	// ErrInvalidNodeType indicates an unknown node type.
	ErrInvalidNodeType = errors.New("invalid node type")
	// ErrInvalidArgument indicates a malformed request parameter.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAddrNotFound indicates a ping destination without a usable address.
	ErrAddrNotFound = errors.New("address not found")
	// ErrStopped is returned by every operation after Stop.
	ErrStopped = errors.New("simulation stopped")
)

// translate maps errors of the lower layers onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kb.ErrNodeNotFound), errors.Is(err, node.ErrNodeNotFound):
		return sentinelError{ErrNodeNotFound, err}
	case errors.Is(err, kb.ErrNodeExists), errors.Is(err, node.ErrNodeExists):
		return sentinelError{ErrNodeExists, err}
	case errors.Is(err, node.ErrUnknownCommand):
		return sentinelError{ErrInvalidArgument, err}
	}
	return err
}

// sentinelError keeps the message of err while also matching sentinel.
type sentinelError struct {
	sentinel error
	err      error
}

func (e sentinelError) Error() string   { return e.err.Error() }
func (e sentinelError) Unwrap() []error { return []error{e.sentinel, e.err} }
