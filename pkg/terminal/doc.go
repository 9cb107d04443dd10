/*
Package terminal implements the terminal adapter. It turns a named
terminal pane in an external multiplexer into a small capability —
SendText, SendKey, Capture, List — and classifies a captured pane as
idle/busy/waiting_input/unknown against per-session marker sets loaded
from configuration, never hard-coded per provider.

	Assigner ──SendText/SendKey──▶ Adapter ──▶ Muxer (tmux)
	Assigner ◀──Capture/Classify── Adapter ◀── Muxer (tmux)

Adapter serializes calls per pane so that a session never observes two
concurrent injections; calls against different panes proceed
independently. TmuxMuxer is the production Muxer, shelling out to
`tmux send-keys` and `tmux capture-pane`; tests substitute a fake
Muxer.
*/
package terminal
