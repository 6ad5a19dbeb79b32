// Package health serves the readiness of the API over HTTP.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	healthv1pb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/openfga/expander/pkg/logger"
)

const DefaultTimeout = 3 * time.Second

// TargetService defines an interface that services can implement for server health checks.
type TargetService interface {
	IsReady(ctx context.Context) (bool, error)
}

type response struct {
	Status string `json:"status"`
}

// Checker answers with 200 and SERVING while the target is ready, and 503
// with NOT_SERVING otherwise.
type Checker struct {
	TargetService
	Logger  logger.Logger
	Timeout time.Duration
}

var _ http.Handler = (*Checker)(nil)

func (c *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status := healthv1pb.HealthCheckResponse_SERVING
	code := http.StatusOK

	ready, err := c.IsReady(ctx)
	if err != nil && c.Logger != nil {
		c.Logger.WarnWithContext(ctx, "readiness check failed", zap.Error(err))
	}
	if err != nil || !ready {
		status = healthv1pb.HealthCheckResponse_NOT_SERVING
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response{Status: status.String()})
}
