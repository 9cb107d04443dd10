package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func TestHTTPChecker_HealthyAndContentMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("all good"))
	}))
	defer server.Close()

	checker := &HTTPChecker{}
	result := checker.Evaluate(context.Background(), CheckSpec{
		Kind:            KindHTTP,
		URL:             server.URL,
		ExpectedStatus:  http.StatusOK,
		ExpectedContent: "good",
	})

	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s: %s", result.Status, result.Message)
	}
}

func TestHTTPChecker_UnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := &HTTPChecker{}
	result := checker.Evaluate(context.Background(), CheckSpec{Kind: KindHTTP, URL: server.URL, ExpectedStatus: http.StatusOK})

	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
}

func TestHTTPChecker_MissingContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("nope"))
	}))
	defer server.Close()

	checker := &HTTPChecker{}
	result := checker.Evaluate(context.Background(), CheckSpec{
		Kind: KindHTTP, URL: server.URL, ExpectedStatus: http.StatusOK, ExpectedContent: "good",
	})

	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
}

func TestTCPChecker(t *testing.T) {
	ln := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer ln.Close()

	checker := &TCPChecker{}
	result := checker.Evaluate(context.Background(), CheckSpec{Kind: KindTCP, Host: "127.0.0.1", Port: tcpPortOf(t, ln.URL)})
	if result.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s: %s", result.Status, result.Message)
	}
}

func TestTCPChecker_Unreachable(t *testing.T) {
	checker := &TCPChecker{}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result := checker.Evaluate(ctx, CheckSpec{Kind: KindTCP, Host: "127.0.0.1", Port: 1})
	if result.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", result.Status)
	}
}

func TestProber_FallbackOnTransportError(t *testing.T) {
	tcpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer tcpServer.Close()

	prober := NewProber(10)
	result := prober.Check(context.Background(), "svc-a", CheckSpec{
		Kind: KindHTTP,
		URL:  "http://127.0.0.1:1/unreachable",
		Fallback: &CheckSpec{
			Kind: KindTCP, Host: "127.0.0.1", Port: tcpPortOf(t, tcpServer.URL),
		},
	})
	if result.Status != StatusHealthy {
		t.Fatalf("expected fallback to report healthy, got %s: %s", result.Status, result.Message)
	}
}

func TestProber_SummaryThresholds(t *testing.T) {
	prober := NewProber(10)
	for i := 0; i < 10; i++ {
		status := StatusHealthy
		if i >= 9 { // one unhealthy out of 10 -> 90% -> degraded
			status = StatusUnhealthy
		}
		prober.history("svc-b").Record(Result{Status: status, Timestamp: time.Now()})
	}

	summary := prober.Summary("svc-b")
	if summary.Status != StatusDegraded {
		t.Fatalf("expected degraded at 90%% success rate, got %s", summary.Status)
	}
	if summary.ChecksCount != 10 {
		t.Fatalf("expected 10 checks counted, got %d", summary.ChecksCount)
	}
}

func tcpPortOf(t *testing.T, rawURL string) int {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return port
}
