// Package httpserver exposes the intake and operator API over plain
// net/http. The surface is deliberately thin: every write lands on the
// durable queue and returns 202; reads serve records, stats and the
// notification feed straight from storage.
package httpserver
