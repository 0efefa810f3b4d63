package httpserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rosterhq/roster/internal/runtime"
	"github.com/rosterhq/roster/internal/store"
	"github.com/rosterhq/roster/internal/submission"
)

// maxCSVBytes bounds an uploaded CSV file.
const maxCSVBytes = 32 << 20

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/submissions", s.handleSubmissions)
	mux.HandleFunc("/v1/submissions/", s.handleSubmissionByID)
	mux.HandleFunc("/v1/submissions/csv", s.handleSubmitCSV)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/notifications", s.handleNotifications)
	mux.Handle("/metrics", promhttp.Handler())
	return s
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows := req.Rows
	if rows == nil && req.Payload != nil {
		rows = []map[string]string{req.Payload}
	}
	source := req.Source
	if source == "" {
		source = string(submission.SourceAPI)
	}
	acc, err := s.rt.Ingest().Submit(r.Context(), req.Operation, source, req.TargetID, rows, requestMeta(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeAccepted(w, acc)
}

func (s *Server) handleSubmitCSV(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	fileName, data, err := readCSVUpload(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := s.rt.Ingest().SubmitCSV(r.Context(), fileName, data, requestMeta(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeAccepted(w, acc)
}

// readCSVUpload accepts either a multipart form with a "file" part or a
// raw body with an optional filename query parameter.
func readCSVUpload(r *http.Request) (string, []byte, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", nil, err
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxCSVBytes))
		if err != nil {
			return "", nil, err
		}
		return hdr.Filename, data, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxCSVBytes))
	if err != nil {
		return "", nil, err
	}
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = "upload.csv"
	}
	return name, data, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		Filter: q.Get("filter"),
		Limit:  parseLimit(q.Get("limit")),
	}
	if v := q.Get("status"); v != "" {
		status, err := submission.ParseStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Status = status
	}
	recs, err := s.rt.Store().ListSubmissions(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"submissions": recs})
}

// handleSubmissionByID serves /v1/submissions/{id} and
// /v1/submissions/{id}/requeue.
func (s *Server) handleSubmissionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/submissions/")
	id, tail, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "missing submission id")
		return
	}
	switch {
	case tail == "" && r.Method == http.MethodGet:
		s.handleGet(w, r, id)
	case tail == "requeue" && r.Method == http.MethodPost:
		s.handleRequeue(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.rt.Store().GetSubmission(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := s.rt.Ingest().Requeue(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "submission not found")
		return
	case err != nil:
		// Only failed submissions may be re-queued.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := s.rt.Stats().CurrentSnapshot(time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queues := make([]any, 0, 2)
	for _, tube := range s.rt.Tubes() {
		qs, err := tube.CurrentStats()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		queues = append(queues, qs)
	}
	writeJSON(w, map[string]any{"counters": snap, "queues": queues})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = s.rt.Config().Notify.Limit
	}
	items, err := s.rt.Notify().Recent(r.Context(), limit, time.Now().UnixMilli())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"notifications": items})
}
