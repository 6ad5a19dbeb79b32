package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfga/expander/pkg/logger"
)

func TestTimeoutHandler(t *testing.T) {
	l, logs := logger.NewObserverLogger("warn")

	t.Run("deadline_is_set", func(t *testing.T) {
		h := NewTimeoutHandler(time.Second, l).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deadline, ok := r.Context().Deadline()
			require.True(t, ok)
			require.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/thirds", nil))
		require.Zero(t, logs.Len())
	})

	t.Run("exceeded", func(t *testing.T) {
		h := NewTimeoutHandler(time.Millisecond, l).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/thirds", nil))
		require.Equal(t, 1, logs.FilterMessage("request exceeded its timeout").Len())
	})

	t.Run("disabled", func(t *testing.T) {
		h := NewTimeoutHandler(0, l).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, ok := r.Context().Deadline()
			require.False(t, ok)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/thirds", nil))
	})
}
