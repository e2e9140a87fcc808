package sandbox

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/arrowship/arrowship/pkg/auth"
	"github.com/arrowship/arrowship/pkg/transport"
)

// maxBodyBytes bounds a decoded request body.
const maxBodyBytes = 64 << 20

// Handler returns the HTTP API: the rows endpoint behind the bearer check
// and the token endpoint.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	rows := RequireBearer(s.issuer.Enabled(), s.issuer.Valid, http.HandlerFunc(s.serveRows))
	mux.Handle("POST /v1/tables/{table}/rows", rows)
	mux.Handle(auth.TokenPath, s.issuer)
	return mux
}

func (s *Service) serveRows(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	fault, failed, err := s.awaitFault(r.Context())
	if err != nil {
		return
	}
	if failed {
		slog.Debug("sandbox: injected fault", "table", table, "status", fault.Status)
		http.Error(w, fault.message(), fault.Status)
		return
	}

	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := transport.Gunzip(r.Body)
		if err != nil {
			http.Error(w, "invalid gzip body: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer zr.Close()
		body = zr
	}
	data, err := io.ReadAll(io.LimitReader(body, maxBodyBytes+1))
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > maxBodyBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	codec := transport.CodecForContentType(r.Header.Get("Content-Type"))
	var req transport.WireRequest
	if err := codec.Unmarshal(data, &req); err != nil {
		http.Error(w, "decode body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := checkRows(req.Rows); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	out, err := codec.Marshal(s.ingest(table, &req))
	if err != nil {
		http.Error(w, "encode response: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", codec.ContentType())
	_, _ = io.Copy(w, bytes.NewReader(out))
}

// checkRows rejects requests with malformed row indices.
func checkRows(rows []transport.Row) error {
	seen := make(map[int]struct{}, len(rows))
	for _, r := range rows {
		if r.Index < 0 {
			return errors.New("negative row index")
		}
		if _, dup := seen[r.Index]; dup {
			return errors.New("duplicate row index")
		}
		seen[r.Index] = struct{}{}
	}
	return nil
}
