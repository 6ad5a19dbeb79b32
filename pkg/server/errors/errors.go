// Package errors maps the errors of the API onto encoded HTTP errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

const InternalServerErrorMsg = "Internal Server Error"

var (
	ErrNotFound         = status.Error(codes.NotFound, "Not found.")
	ErrInvalidPage      = status.Error(codes.NotFound, "Invalid page.")
	ErrMalformedJSON    = status.Error(codes.InvalidArgument, "Malformed JSON request body.")
	ErrRequestCancelled = status.Error(codes.Canceled, "Request Cancelled")
	ErrRequestTimeout   = status.Error(codes.DeadlineExceeded, "Request timed out")
)

// InternalError carries a public message for the client and the internal
// cause for the logs.
type InternalError struct {
	public   error
	internal error
}

func (e InternalError) Error() string {
	return e.public.Error()
}

func (e InternalError) Unwrap() error {
	return e.internal
}

// GRPCStatus lets status.Convert see the public error only.
func (e InternalError) GRPCStatus() *status.Status {
	return status.Convert(e.public)
}

func NewInternalError(public string, internal error) InternalError {
	if public == "" {
		public = InternalServerErrorMsg
	}

	return InternalError{
		public:   status.Error(codes.Internal, public),
		internal: internal,
	}
}

// HandleError translates err into an error the client may see. Expansion
// and validation failures are client errors, a missing row is not found, and
// everything else is an internal error hiding its cause.
func HandleError(public string, err error) error {
	var (
		internal   InternalError
		encoded    *EncodedError
		validation *serializer.ValidationError
	)

	switch {
	case err == nil:
		return nil
	case errors.As(err, &internal):
		return internal
	case errors.As(err, &encoded):
		return encoded
	case errors.As(err, &validation):
		return validation
	case errors.Is(err, expander.ErrDepthBreached):
		return NewEncodedError(http.StatusBadRequest, ExpansionDepthBreachedCode, err.Error())
	case errors.Is(err, expander.ErrFieldMissing):
		return NewEncodedError(http.StatusBadRequest, ExpansionFieldMissingCode, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrCancelled), errors.Is(err, context.Canceled):
		return ErrRequestCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrRequestTimeout
	}

	if _, ok := status.FromError(err); ok {
		return err
	}

	return NewInternalError(public, err)
}

// MethodNotAllowed is returned for a known path requested with an
// unsupported method.
func MethodNotAllowed(method string) error {
	return NewEncodedError(http.StatusMethodNotAllowed, MethodNotAllowedCode, fmt.Sprintf("Method %q not allowed.", method))
}
