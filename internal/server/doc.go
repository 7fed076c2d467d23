// Package server assembles the stream control HTTP surface behind a single
// multiplexer.
//
// The server builds a consistent middleware chain of request identification,
// rate limiting, metrics, security headers, and logging so handlers all share
// common protections and instrumentation.
package server
