package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfga/expander/pkg/serializer"
)

const (
	ValidationErrorCode        = "validation_error"
	ExpansionDepthBreachedCode = "expansion_depth_breached"
	ExpansionFieldMissingCode  = "expansion_field_missing"
	MethodNotAllowedCode       = "method_not_allowed"
	InternalErrorCode          = "internal_error"
)

type ErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// EncodedError allows customized error with code in string and specified http status field
type EncodedError struct {
	HTTPStatusCode int
	ActualError    ErrorResponse
}

// Error returns the encoded message
func (e *EncodedError) Error() string {
	return e.ActualError.Message
}

// HTTPStatus returns the HTTP Status code
func (e *EncodedError) HTTPStatus() int {
	return e.HTTPStatusCode
}

// Code returns the encoded code in string
func (e *EncodedError) Code() string {
	return e.ActualError.Code
}

var (
	rpcPrefix = regexp.MustCompile(`rpc error: code = [a-zA-Z0-9\(\)]* desc = `)
	eofError  = regexp.MustCompile(`unexpected EOF`)
)

func sanitizedMessage(message string) string {
	message = eofError.ReplaceAllString(message, "malformed JSON")
	message = rpcPrefix.ReplaceAllString(message, "")
	return strings.TrimSpace(message)
}

func NewEncodedError(httpStatus int, code, message string) *EncodedError {
	return &EncodedError{
		HTTPStatusCode: httpStatus,
		ActualError: ErrorResponse{
			Code:    code,
			Message: sanitizedMessage(message),
		},
	}
}

// Encode converts an error returned by HandleError into the response sent to
// the client.
func Encode(err error) *EncodedError {
	var encoded *EncodedError
	if errors.As(err, &encoded) {
		return encoded
	}

	var validation *serializer.ValidationError
	if errors.As(err, &validation) {
		e := NewEncodedError(http.StatusBadRequest, ValidationErrorCode, "Invalid input.")
		e.ActualError.Fields = validation.Fields
		return e
	}

	st := status.Convert(err)
	return NewEncodedError(runtime.HTTPStatusFromCode(st.Code()), codeName(st.Code()), st.Message())
}

func codeName(c codes.Code) string {
	switch c {
	case codes.InvalidArgument:
		return "invalid_argument"
	case codes.NotFound:
		return "not_found"
	case codes.Canceled:
		return "cancelled"
	case codes.DeadlineExceeded:
		return "deadline_exceeded"
	case codes.Internal, codes.Unknown:
		return InternalErrorCode
	default:
		return strings.ToLower(c.String())
	}
}

// Write encodes e as the JSON body of w.
func (e *EncodedError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatusCode)
	_ = json.NewEncoder(w).Encode(e.ActualError)
}
