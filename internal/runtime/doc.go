// Package runtime wires storage, queues, the record store and the
// event fan-out into a single-node instance. Everything shares one
// Pebble database; the runtime owns its lifecycle.
package runtime
