package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPChecker GETs a URL; healthy iff the status code matches
// ExpectedStatus and the body contains ExpectedContent (when set).
// Response time determines healthy/degraded/unhealthy banding.
type HTTPChecker struct {
	Client *http.Client
}

func (c *HTTPChecker) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *HTTPChecker) Evaluate(ctx context.Context, spec CheckSpec) Result {
	start := time.Now()
	method := spec.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, spec.URL, nil)
	if err != nil {
		return Result{Status: StatusUnknown, Timestamp: start, Message: "bad request: " + err.Error()}
	}

	resp, err := c.client().Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Result{Status: StatusUnknown, Timestamp: start, ResponseTimeMs: elapsed.Milliseconds(), Message: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	expectedStatus := spec.ExpectedStatus
	if expectedStatus == 0 {
		expectedStatus = http.StatusOK
	}

	if resp.StatusCode != expectedStatus {
		return Result{
			Status:         StatusUnhealthy,
			ResponseTimeMs: elapsed.Milliseconds(),
			Timestamp:      start,
			Message:        "unexpected status code",
			Details:        map[string]string{"status_code": http.StatusText(resp.StatusCode)},
		}
	}

	if spec.ExpectedContent != "" && !strings.Contains(string(body), spec.ExpectedContent) {
		return Result{
			Status:         StatusUnhealthy,
			ResponseTimeMs: elapsed.Milliseconds(),
			Timestamp:      start,
			Message:        "response body missing expected content",
		}
	}

	return Result{
		Status:         responseBand(elapsed),
		ResponseTimeMs: elapsed.Milliseconds(),
		Timestamp:      start,
		Message:        "ok",
	}
}
