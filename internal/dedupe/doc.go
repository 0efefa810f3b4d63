// Package dedupe detects duplicate emails before a create-path commit.
// The check covers two scopes: the record store (an existing person, or
// a completed create submission when the person write is still in
// flight on a redelivery) and the sibling rows already claimed earlier
// within the same batch. First occurrence by input order wins inside a
// batch.
package dedupe
