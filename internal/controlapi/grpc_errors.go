package controlapi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/mesh-simulator/internal/sim"
)

// ToStatusError maps simulation errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, sim.ErrNodeNotFound),
		errors.Is(err, sim.ErrAddrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, sim.ErrInvalidArgument),
		errors.Is(err, sim.ErrInvalidNodeType):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrNodeExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, sim.ErrStopped):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
