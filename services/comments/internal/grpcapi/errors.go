package grpcapi

import (
	"errors"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/corner/services/comments/internal/service"
)

const errorDomain = "comments"

func withInfo(c codes.Code, reason, msg string, extra ...*errdetails.BadRequest) error {
	st := status.New(c, msg)
	info := &errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}
	var st2 *status.Status
	var err error
	if len(extra) > 0 && extra[0] != nil {
		st2, err = st.WithDetails(info, extra[0])
	} else {
		st2, err = st.WithDetails(info)
	}
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

func errInvalidArgument(code, msg string, fieldViolations map[string]string) error {
	bad := &errdetails.BadRequest{}
	for field, desc := range fieldViolations {
		bad.FieldViolations = append(bad.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: desc})
	}
	return withInfo(codes.InvalidArgument, code, msg, bad)
}

func errUnauthenticated(msg string) error {
	return withInfo(codes.Unauthenticated, "UNAUTHENTICATED", msg)
}

// toStatus maps the service error taxonomy onto gRPC codes.
func toStatus(err error) error {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		return errInvalidArgument("VALIDATION_FAILED", verr.Error(), map[string]string{verr.Field: verr.Reason})
	case errors.Is(err, service.ErrNotFound):
		return withInfo(codes.NotFound, "NOT_FOUND", "not found")
	case errors.Is(err, service.ErrPartialFailure):
		return withInfo(codes.Aborted, "PARTIAL_FAILURE", "like recorded, count update pending; refetch the comment")
	case errors.Is(err, service.ErrStoreUnavailable):
		return withInfo(codes.Unavailable, "STORE_UNAVAILABLE", "storage temporarily unavailable")
	default:
		return withInfo(codes.Internal, "INTERNAL", "internal error")
	}
}
