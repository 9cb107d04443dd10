/*
Package assigner implements the prompt dispatcher, the heart of the
platform: a priority-ordered prompt queue matched against idle
terminal sessions.

	SubmitPrompt ──▶ pending queue
	                     │  matchTick (priority desc, created_at asc)
	                     ▼
	              hard target? ──yes──▶ that session, or wait
	                     │no
	              provider + fallback walk
	                     │
	              load tie-break (oldest last_activity, then name)
	                     ▼
	                  assign() ── injection protocol
	                     ▼
	              completionTick ── classify via terminal markers
	                     │
	          idle ──▶ completed        busy past deadline ──▶ failed

Matching and completion run as two independently-ticked loops so a
slow completion scrape never stalls new assignments. Session state is
cached in memory and mirrored to storage.Store on every mutation. After
a restart, pending prompts are found again through ListPromptsByStatus
and in-flight prompts through each stored session's CurrentTaskID. The
prompt and session writes of one assignment are separate store calls,
so a crash between them can leave an assigned prompt that no session
references.
*/
package assigner
