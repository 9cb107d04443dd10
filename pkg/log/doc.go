// Package log provides structured, component-scoped logging on top of
// zerolog. Call Init once at startup, then use the With* helpers to
// attach component/entity fields to a child logger.
package log
