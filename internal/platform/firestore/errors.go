package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/marketplace/internal/repositories"
)

// codeFor maps gRPC status codes returned by Firestore onto repository error codes. Aborted is a
// conflict because Firestore reports lost optimistic transaction races that way.
func codeFor(err error) (repositories.ErrorCode, bool) {
	switch status.Code(err) {
	case codes.NotFound:
		return repositories.ErrorNotFound, true
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted, codes.OutOfRange:
		return repositories.ErrorConflict, true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return repositories.ErrorUnavailable, true
	default:
		return "", false
	}
}

// WrapError annotates Firestore errors with repository semantics. Context cancellations and errors
// that already carry domain meaning pass through untouched.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var repoErr *repositories.Error
	if errors.As(err, &repoErr) {
		if repoErr.Op == "" {
			repoErr.Op = op
		}
		return err
	}

	code, ok := codeFor(err)
	if !ok {
		return err
	}
	return &repositories.Error{Op: op, Code: code, Message: status.Convert(err).Message(), Err: err}
}

// IsNotFoundStatus reports whether err is a raw Firestore not-found status.
func IsNotFoundStatus(err error) bool {
	return status.Code(err) == codes.NotFound
}
