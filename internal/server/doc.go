// Package server hosts the Fiber HTTP service, request middleware chain, and
// origin registry glue that wires Host resolution into proxy handlers.
package server
