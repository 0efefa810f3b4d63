package validate

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/rosterhq/roster/internal/submission"
)

// FieldError is one (field, reason) pair in an aggregated failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Failure aggregates all field errors found in one payload.
type Failure struct {
	Errors []FieldError `json:"errors"`
}

// Error joins the field errors into the human-readable form stored as
// a submission's error_message.
func (f *Failure) Error() string {
	parts := make([]string, len(f.Errors))
	for i, fe := range f.Errors {
		parts[i] = fe.Field + ": " + fe.Reason
	}
	return strings.Join(parts, "; ")
}

func (f *Failure) add(field, reason string) {
	f.Errors = append(f.Errors, FieldError{Field: field, Reason: reason})
}

// DateLayout is the accepted calendar date format for date fields.
const DateLayout = "2006-01-02"

var genders = map[string]bool{"male": true, "female": true, "other": true}

// knownFields is the closed set of candidate payload fields; anything
// else in the raw map is dropped during normalization.
var knownFields = []string{"name", "email", "gender", "phone", "dob", "address"}

// Payload validates a raw field map for the given operation and
// returns the normalized payload: trimmed, name NFC-normalized, empty
// fields pruned. For delete operations payload validation is skipped
// entirely (only the target identity matters, which the caller checks).
//
// The uniqueness pre-check against existing records is not done here;
// that is the duplicate detector's job. Update validation relaxes the
// required set to the fields present.
func Payload(op submission.Operation, raw map[string]string) (map[string]string, error) {
	if op == submission.OpDelete {
		return nil, nil
	}

	out := make(map[string]string, len(raw))
	for _, k := range knownFields {
		v := strings.TrimSpace(raw[k])
		if v == "" {
			continue
		}
		out[k] = v
	}
	if name, ok := out["name"]; ok {
		out["name"] = normalizeName(name)
	}

	fail := &Failure{}
	required := op == submission.OpCreate

	if name, ok := out["name"]; !ok {
		if required {
			fail.add("name", "is required")
		}
	} else if len(name) > 200 {
		fail.add("name", "must be at most 200 characters")
	}

	if email, ok := out["email"]; !ok {
		if required {
			fail.add("email", "is required")
		}
	} else if !validEmail(email) {
		fail.add("email", "is not a valid email address")
	}

	if gender, ok := out["gender"]; !ok {
		if required {
			fail.add("gender", "is required")
		}
	} else {
		g := strings.ToLower(gender)
		if !genders[g] {
			fail.add("gender", "must be one of male, female, other")
		} else {
			out["gender"] = g
		}
	}

	if phone, ok := out["phone"]; ok && !validPhone(phone) {
		fail.add("phone", "must be 7-15 digits, optionally prefixed with +")
	}

	if dob, ok := out["dob"]; ok {
		if _, err := time.Parse(DateLayout, dob); err != nil {
			fail.add("dob", fmt.Sprintf("must be a calendar date in %s form", DateLayout))
		}
	}

	if len(fail.Errors) > 0 {
		return nil, fail
	}
	return out, nil
}

// validEmail accepts addr-spec addresses without display names.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	// Require a dotted domain; mail.ParseAddress accepts bare hosts.
	return at > 0 && strings.Contains(s[at+1:], ".")
}

// validPhone accepts 7-15 digits with an optional leading +.
func validPhone(s string) bool {
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	if len(s) < 7 || len(s) > 15 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// normalizeName applies Unicode NFC and collapses interior runs of
// whitespace to single spaces.
func normalizeName(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
