// Package log provides structured logging for the anchor node built on
// zerolog. Components obtain child loggers tagged with their component name
// via WithComponent.
package log
