package store

import (
	"fmt"
	"strings"
)

// Collection names.
const (
	CollectionSubmissions = "submissions"
	CollectionPersons     = "persons"
)

// DocKey returns the document key.
// Format: doc/{collection}/{id}
func DocKey(collection, id string) []byte {
	return []byte(fmt.Sprintf("doc/%s/%s", collection, id))
}

// DocPrefix returns the scan prefix for a collection.
func DocPrefix(collection string) []byte {
	return []byte(fmt.Sprintf("doc/%s/", collection))
}

// EmailIdxKey returns the email index key for a document.
// Format: idx/{collection}/email/{norm_email}/{id}
func EmailIdxKey(collection, email, id string) []byte {
	return []byte(fmt.Sprintf("idx/%s/email/%s/%s", collection, NormEmail(email), id))
}

// EmailIdxPrefix returns the scan prefix for all ids sharing an email.
func EmailIdxPrefix(collection, email string) []byte {
	return []byte(fmt.Sprintf("idx/%s/email/%s/", collection, NormEmail(email)))
}

// StatusIdxKey returns the status index key for a submission.
// Format: idx/{collection}/status/{status}/{id}
func StatusIdxKey(collection, status, id string) []byte {
	return []byte(fmt.Sprintf("idx/%s/status/%s/%s", collection, status, id))
}

// StatusIdxPrefix returns the scan prefix for a status.
func StatusIdxPrefix(collection, status string) []byte {
	return []byte(fmt.Sprintf("idx/%s/status/%s/", collection, status))
}

// NormEmail canonicalizes an email for uniqueness comparison:
// surrounding whitespace dropped, lowercased.
func NormEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
