package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfga/expander/pkg/expander"
	"github.com/openfga/expander/pkg/serializer"
	"github.com/openfga/expander/pkg/storage"
)

func TestInternalErrorDontLeakInternals(t *testing.T) {
	err := NewInternalError("public", errors.New("internal"))

	require.NotContains(t, err.Error(), "internal")
	require.EqualError(t, err.Unwrap(), "internal")
}

func TestInternalErrorsWithNoMessageReturnsInternalServiceError(t *testing.T) {
	err := NewInternalError("", errors.New("internal"))

	require.Contains(t, err.Error(), InternalServerErrorMsg)
}

func TestHandleErrorAndEncode(t *testing.T) {
	tests := map[string]struct {
		err            error
		expectedStatus int
		expectedCode   string
	}{
		`depth_breached`: {
			err:            fmt.Errorf("parse: %w", expander.ErrDepthBreached),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   ExpansionDepthBreachedCode,
		},
		`field_missing`: {
			err:            fmt.Errorf("parse: %w", expander.ErrFieldMissing),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   ExpansionFieldMissingCode,
		},
		`validation`: {
			err:            &serializer.ValidationError{Fields: map[string]string{"content": "this field is required"}},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   ValidationErrorCode,
		},
		`not_found`: {
			err:            fmt.Errorf("third 9: %w", storage.ErrNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "not_found",
		},
		`cancelled`: {
			err:            context.Canceled,
			expectedStatus: 499,
			expectedCode:   "cancelled",
		},
		`timeout`: {
			err:            fmt.Errorf("query: %w", context.DeadlineExceeded),
			expectedStatus: http.StatusGatewayTimeout,
			expectedCode:   "deadline_exceeded",
		},
		`adapter_missing`: {
			err:            expander.ErrAdapterMissing,
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   InternalErrorCode,
		},
		`unknown`: {
			err:            errors.New("sql error: disk full"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   InternalErrorCode,
		},
		`status`: {
			err:            status.Error(codes.InvalidArgument, "bad page size"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "invalid_argument",
		},
		`method_not_allowed`: {
			err:            MethodNotAllowed(http.MethodDelete),
			expectedStatus: http.StatusMethodNotAllowed,
			expectedCode:   MethodNotAllowedCode,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			encoded := Encode(HandleError("", test.err))

			require.Equal(t, test.expectedStatus, encoded.HTTPStatus())
			require.Equal(t, test.expectedCode, encoded.Code())
		})
	}
}

func TestInternalErrorsHideTheirCause(t *testing.T) {
	encoded := Encode(HandleError("", errors.New("sql error: secret table")))

	require.Equal(t, InternalServerErrorMsg, encoded.Error())
}

func TestEncodedErrorWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	e := Encode(&serializer.ValidationError{Fields: map[string]string{"second": "object 9 does not exist"}})
	e.Write(rec)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"code":"validation_error","message":"Invalid input.","fields":{"second":"object 9 does not exist"}}`, rec.Body.String())
}

func TestSanitizedMessage(t *testing.T) {
	require.Equal(t, "malformed JSON", sanitizedMessage("unexpected EOF"))
	require.Equal(t, "boom", sanitizedMessage("rpc error: code = Internal desc = boom"))
}
