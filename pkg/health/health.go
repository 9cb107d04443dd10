// Package health implements the declarative liveness checks used by the
// Process Supervisor and the Cluster Coordinator: HTTP, TCP, process, and
// external-script probes, plus a bounded rolling history per service so
// that operators can ask for a success-rate summary over a window.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetctl/pkg/metrics"
)

// Status is the outcome classification of a single check invocation.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Kind is the tagged-union discriminant for a CheckSpec.
type Kind string

const (
	KindHTTP    Kind = "http"
	KindTCP     Kind = "tcp"
	KindProcess Kind = "process"
	KindScript  Kind = "script"
)

// Result is the outcome of one check invocation.
type Result struct {
	Status         Status
	ResponseTimeMs int64
	Timestamp      time.Time
	Message        string
	Details        map[string]string
}

// CheckSpec is a declarative check configuration. Exactly one of the
// kind-specific field groups is populated, selected by Kind. An HTTP spec
// may carry a Fallback TCP spec, consulted only when the primary check
// errors outright (not merely returns an unexpected status).
type CheckSpec struct {
	Kind Kind

	// HTTP
	URL             string
	Method          string
	ExpectedStatus  int
	ExpectedContent string

	// TCP
	Host string
	Port int

	// Process
	PID int

	// Script
	Command []string

	Timeout  time.Duration
	Fallback *CheckSpec
}

// Checker evaluates a CheckSpec once.
type Checker interface {
	Evaluate(ctx context.Context, spec CheckSpec) Result
}

// Prober dispatches a CheckSpec to the matching Checker implementation
// and records the outcome in a per-service rolling History.
type Prober struct {
	http    Checker
	tcp     Checker
	process Checker
	script  Checker

	mu          sync.Mutex
	historySize int
	histories   map[string]*History
}

// NewProber builds a Prober with the default production checkers and a
// history ring of the given size (0 selects the default of 100 entries).
func NewProber(historySize int) *Prober {
	if historySize <= 0 {
		historySize = 100
	}
	return &Prober{
		http:        &HTTPChecker{},
		tcp:         &TCPChecker{},
		process:     &ProcessChecker{},
		script:      &ScriptChecker{},
		historySize: historySize,
		histories:   make(map[string]*History),
	}
}

// Check evaluates spec for the named service, falling back to spec.Fallback
// when the primary checker errors outright, and records the result in the
// service's rolling history.
func (p *Prober) Check(ctx context.Context, service string, spec CheckSpec) Result {
	result := p.dispatch(ctx, spec)
	if result.Status == StatusUnknown && spec.Fallback != nil {
		result = p.dispatch(ctx, *spec.Fallback)
	}
	metrics.HealthChecksTotal.WithLabelValues(string(spec.Kind), string(result.Status)).Inc()
	p.history(service).Record(result)
	return result
}

func (p *Prober) dispatch(ctx context.Context, spec CheckSpec) Result {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch spec.Kind {
	case KindHTTP:
		return p.http.Evaluate(cctx, spec)
	case KindTCP:
		return p.tcp.Evaluate(cctx, spec)
	case KindProcess:
		return p.process.Evaluate(cctx, spec)
	case KindScript:
		return p.script.Evaluate(cctx, spec)
	default:
		return Result{Status: StatusUnknown, Timestamp: time.Now(), Message: "unrecognized check kind"}
	}
}

func (p *Prober) history(service string) *History {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histories[service]
	if !ok {
		h = NewHistory(p.historySize)
		p.histories[service] = h
	}
	return h
}

// Summary is a per-service rollup over the retained history.
type Summary struct {
	Status            Status
	ChecksCount       int
	SuccessRate       float64
	AvgResponseTimeMs float64
	LastStatus        Status
}

// Summary derives a Summary from the service's retained history. An empty
// history yields StatusUnknown.
func (p *Prober) Summary(service string) Summary {
	p.mu.Lock()
	h, ok := p.histories[service]
	p.mu.Unlock()
	if !ok {
		return Summary{Status: StatusUnknown, LastStatus: StatusUnknown}
	}
	return h.Summary()
}

// responseBand classifies a response time into health bands.
func responseBand(d time.Duration) Status {
	switch {
	case d < time.Second:
		return StatusHealthy
	case d < 5*time.Second:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}
