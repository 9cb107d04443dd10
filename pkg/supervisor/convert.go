package supervisor

import (
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/types"
)

// toHealthSpec adapts a declarative types.HealthCheckSpec (as loaded
// from configuration) into the health package's CheckSpec.
func toHealthSpec(spec types.HealthCheckSpec) health.CheckSpec {
	out := health.CheckSpec{
		URL:             spec.URL,
		Method:          spec.Method,
		ExpectedStatus:  spec.ExpectedStatus,
		ExpectedContent: spec.ExpectedContent,
		Host:            spec.Host,
		Port:            spec.Port,
		PID:             spec.PID,
		Command:         spec.Command,
		Timeout:         spec.Timeout,
	}
	switch spec.Kind {
	case types.CheckHTTP:
		out.Kind = health.KindHTTP
	case types.CheckTCP:
		out.Kind = health.KindTCP
	case types.CheckProcess:
		out.Kind = health.KindProcess
	case types.CheckScript:
		out.Kind = health.KindScript
	}
	return out
}
