package httpserver

import (
	"net/http"

	"github.com/rosterhq/roster/internal/ingest"
)

// submitReq is the body of POST /v1/submissions. A single-row request
// may use Payload; multi-row requests use Rows. Source defaults to api.
type submitReq struct {
	Operation string              `json:"operation"`
	Source    string              `json:"source"`
	TargetID  string              `json:"target_id"`
	Payload   map[string]string   `json:"payload"`
	Rows      []map[string]string `json:"rows"`
}

// requestMeta captures the caller identity stored on each record.
func requestMeta(r *http.Request) ingest.Meta {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ingest.Meta{IP: ip, UserAgent: r.UserAgent()}
}
