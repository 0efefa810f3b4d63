package queue

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for tube data structures.
const (
	prefixMsg      = "msg/"
	prefixReady    = "ready/"
	prefixDelay    = "delay/"
	prefixLease    = "lease/"
	prefixLeaseIdx = "lease_idx/"
	prefixBuried   = "buried/"
)

// tubePrefix returns the base prefix for a tube.
// Format: q/{tube}/
func tubePrefix(tube string) string {
	return fmt.Sprintf("q/%s/", tube)
}

// MetaKey returns the tube metadata key.
// Format: q/{tube}/meta
func MetaKey(tube string) []byte {
	return []byte(tubePrefix(tube) + "meta")
}

// MsgKey returns the item body key.
// Format: q/{tube}/msg/{seq}
func MsgKey(tube string, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixMsg
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// ReadyKey returns the ready index key. Sequences sort FIFO.
// Format: q/{tube}/ready/{seq}
func ReadyKey(tube string, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixReady
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// DelayKey returns the delay index key.
// Format: q/{tube}/delay/{fire_ms}/{seq}
func DelayKey(tube string, fireMs uint64, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixDelay
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], fireMs)
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// LeaseKey returns the lease record key.
// Format: q/{tube}/lease/{seq}
func LeaseKey(tube string, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixLease
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// LeaseIdxKey returns the lease expiry index key.
// Format: q/{tube}/lease_idx/{expires_ms}/{seq}
func LeaseIdxKey(tube string, expiresMs uint64, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixLeaseIdx
	key := make([]byte, len(prefix)+16)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], expiresMs)
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// BuriedKey returns the dead-letter key for an item.
// Format: q/{tube}/buried/{seq}
func BuriedKey(tube string, seq uint64) []byte {
	prefix := tubePrefix(tube) + prefixBuried
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// ReadyPrefix returns the prefix for ready index scanning.
func ReadyPrefix(tube string) []byte {
	return []byte(tubePrefix(tube) + prefixReady)
}

// DelayPrefix returns the prefix for delay index scanning.
func DelayPrefix(tube string) []byte {
	return []byte(tubePrefix(tube) + prefixDelay)
}

// LeaseIdxPrefix returns the prefix for lease expiry scanning.
func LeaseIdxPrefix(tube string) []byte {
	return []byte(tubePrefix(tube) + prefixLeaseIdx)
}

// LeasePrefix returns the prefix for lease record scanning.
func LeasePrefix(tube string) []byte {
	return []byte(tubePrefix(tube) + prefixLease)
}

// BuriedPrefix returns the prefix for dead-letter scanning.
func BuriedPrefix(tube string) []byte {
	return []byte(tubePrefix(tube) + prefixBuried)
}

// seqFromKeyTail parses the trailing 8-byte sequence from an index key.
func seqFromKeyTail(key []byte) (uint64, bool) {
	if len(key) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), true
}
