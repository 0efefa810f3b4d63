// Package pebblestore wraps a Pebble database with the fsync policy and
// small helpers shared by the queue, record store, stats, and
// notification packages. All roster state lives in one Pebble instance;
// packages carve out their own key prefixes.
package pebblestore
