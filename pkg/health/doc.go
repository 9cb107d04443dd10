/*
Package health implements the health prober: stateless evaluation of
a declarative check spec against a running service, plus a bounded
rolling history per service for success-rate reporting.

Four check kinds share one dispatch point:

	┌──────────────┐
	│   Prober     │  Check(ctx, service, spec) → Result, recorded in History
	└──────┬───────┘
	       │
	  ┌────┴────┬─────────┬─────────┐
	  ▼         ▼         ▼         ▼
	HTTP      TCP      Process   Script

An HTTP spec may carry a Fallback TCP spec; the Prober falls back to it
only when the primary check errors outright, not when it returns a
non-expected status. Response time bands an HTTP result into
healthy/degraded/unhealthy; Summary derives an overall status from the
rolling history's success rate (≥95% healthy, ≥80% degraded, else
unhealthy).

The daemon builds a single Prober, which keeps one History per service
name. The Process Supervisor checks every supervised service through
it, and the Cluster Coordinator's failover loop uses the same Prober
for peer HTTP health checks.
*/
package health
