// Package id generates 128-bit, lexicographically sortable identifiers
// used for submission, person, and notification records. Sort order
// follows creation time, which lets stores scan records in time order
// without a secondary index.
package id
