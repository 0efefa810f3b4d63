// Package stats aggregates submission outcome counters in Pebble:
// per-status, per-operation, per-source, hourly, and daily counts, plus
// a bounded top-100 ranking of the most duplicated emails. Counters are
// incremented with read-modify-write batches under a store-level mutex;
// at any quiescent point (nothing in flight) the completed counter
// equals the number of completed submission records.
//
// # Keyspace
//
//	stats/status/{status}        uvarint counter
//	stats/op/{operation}         uvarint counter
//	stats/source/{source}        uvarint counter
//	stats/hourly/{YYYYMMDDHH}    uvarint counter
//	stats/daily/{YYYYMMDD}       uvarint counter
//	stats/dup_emails             JSON map email -> count, top 100
package stats
