// Package events is a non-blocking pub/sub broker for the core's
// fire-and-forget notifications: transport/timeout failures emit
// warning severity, Fatal emits critical. Publish never blocks the
// caller; slow or absent subscribers simply miss events.
package events
