package server

import (
	"MangoCache/internal/ingestion"
	"MangoCache/internal/state"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errInvalidRequest marks request decoding failures.
var errInvalidRequest = errors.New("invalid request")

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}

	switch {
	case errors.Is(err, errInvalidRequest),
		errors.Is(err, ingestion.ErrInvalidPayload),
		errors.Is(err, state.ErrSlotOutOfBounds):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, state.ErrSlotNotListed):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, state.ErrStaleData),
		errors.Is(err, state.ErrInvalidMetaData):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
