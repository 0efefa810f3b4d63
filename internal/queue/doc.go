// Package queue implements roster's durable work queue on Pebble.
//
// Each tube is an independent FIFO with lease-based, one-of-N delivery:
//
//   - Put: item written, indexed ready (or delayed)
//   - Reserve: item leased to a worker for a time-to-run window
//   - Delete: item acknowledged and removed
//   - Release: item returned to the tube, optionally delayed, attempts+1
//   - Bury: item moved to the dead-letter set for operator inspection
//   - Kick: buried item returned to the ready index
//
// # Keyspace
//
// All keys are prefixed with q/{tube}/:
//
//	meta                        lastSeq(8B) | readyCount(4B)
//	msg/{seq_be8}               item bytes (crc32c framed)
//	ready/{seq_be8}             ready index, FIFO by sequence
//	delay/{fire_ms_be8}/{seq_be8}   delayed items
//	lease/{seq_be8}             expiry_ms(8B) | attempts(4B)
//	lease_idx/{exp_ms_be8}/{seq_be8} lease expiry index
//	buried/{seq_be8}            dead-lettered item bytes
//
// Leases that expire without Delete/Release/Bury are reclaimed by the
// background sweeper, which re-indexes the item as ready. That turns
// worker crashes into at-least-once redelivery; consumers must be
// idempotent.
package queue
