package recovery

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/openfga/expander/pkg/logger"
	"github.com/openfga/expander/pkg/server/errors"
)

// HTTPPanicRecoveryHandler recover from panic for http services.
func HTTPPanicRecoveryHandler(next http.Handler, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				if p == http.ErrAbortHandler {
					panic(p)
				}

				l.ErrorWithContext(r.Context(), "HTTPPanicRecoveryHandler has recovered a panic",
					zap.Error(fmt.Errorf("%v", p)),
					zap.ByteString("stacktrace", debug.Stack()),
				)

				errors.NewEncodedError(http.StatusInternalServerError, errors.InternalErrorCode, errors.InternalServerErrorMsg).Write(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
