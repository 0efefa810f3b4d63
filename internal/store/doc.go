// Package store is roster's record store: a document-oriented layer on
// Pebble holding submission records and person records as independent
// collections. Documents are JSON; exact-match lookups by id, email,
// and status go through maintained indexes, and list queries accept an
// optional CEL filter expression.
//
// # Keyspace
//
//	doc/{collection}/{id}                     document JSON
//	idx/{collection}/email/{norm_email}/{id}  email index
//	idx/{collection}/status/{status}/{id}     submission status index
//
// Email index keys are normalized (trimmed, lowercased); the duplicate
// detector relies on that for case-insensitive matching. Index entries
// are written in the same batch as the document, so a document and its
// indexes never diverge.
package store
