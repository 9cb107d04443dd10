/*
Package supervisor implements the process supervisor.

	stopped ──start──▶ starting ──(alive past grace)──▶ running
	starting ──(exits early)──▶ failed
	running ──(exits, or N health failures)──▶ failed
	running ──stop──▶ stopping ──(exits)──▶ stopped
	failed ──(restart_on_exit && attempts<max)──▶ backoff ──(delay elapsed)──▶ starting
	failed ──(attempts≥max)──▶ fatal

Two independently-ticked loops drive every declared service: a
check_interval supervision cycle walks services in priority order,
and a separate 60 s cycle pushes resource snapshots to Prometheus and
the persisted supervisor_metrics table. Resource limits are advisory;
breaching one raises a notification but never by itself restarts a
service, since restart policy is owned entirely by the state machine.
*/
package supervisor
