// Package serverrun boots the full node: storage, queues, the worker
// pool and the HTTP API, with signal-aware shutdown.
package serverrun
