package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// Transport submits one batch of rows and reports per-row outcomes.
type Transport interface {
	// Ingest sends req. A non-nil error means the request as a whole failed
	// and carries no row outcomes.
	Ingest(ctx context.Context, req *Request) (*Response, error)

	// Close releases connections. It is safe to call more than once.
	Close() error
}

// Row is one converted row. Index is its position in the original batch.
type Row struct {
	Index  int            `json:"index"`
	Values map[string]any `json:"values"`
}

// Request is one submission.
type Request struct {
	Table     string
	Token     string
	RequestID string
	Rows      []Row
}

// Response holds the per-row outcome of a submission.
type Response struct {
	Accepted []int
	Rejected []ingesterr.FailedRow
}

// WireRequest is the request body shared by both transports.
type WireRequest struct {
	RequestID string `json:"request_id"`
	Table     string `json:"table"`
	Rows      []Row  `json:"rows"`
}

// WireRowResult is the service's verdict on one row. Error carries the
// "<Kind>: <message>" form when Accepted is false.
type WireRowResult struct {
	Index    int    `json:"index"`
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// WireResponse is the response body shared by both transports.
type WireResponse struct {
	Results []WireRowResult `json:"results"`
}

// New builds the transport selected by cfg.Transport.Kind.
func New(cfg config.Config) (Transport, error) {
	switch cfg.Transport.Kind {
	case config.TransportHTTP, "":
		return NewHTTP(cfg)
	case config.TransportGRPC:
		return NewGRPC(cfg)
	default:
		return nil, ingesterr.New(ingesterr.KindConfiguration, "unknown transport kind %q", cfg.Transport.Kind)
	}
}

// Outcomes matches the service's row results against the rows that were
// sent. Rows without a result are rejected as unacknowledged; results for
// rows that were not sent are ignored.
func Outcomes(sent []Row, results []WireRowResult) *Response {
	byIndex := make(map[int]WireRowResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}

	resp := &Response{}
	seen := make(map[int]bool, len(sent))
	for _, row := range sent {
		seen[row.Index] = true
		r, ok := byIndex[row.Index]
		switch {
		case !ok:
			resp.Rejected = append(resp.Rejected,
				ingesterr.NewFailedRow(row.Index, ingesterr.KindTransmission, "no acknowledgement"))
		case r.Accepted:
			resp.Accepted = append(resp.Accepted, row.Index)
		default:
			resp.Rejected = append(resp.Rejected, ingesterr.ParseFailedRow(row.Index, r.Error))
		}
	}

	extra := 0
	for idx := range byIndex {
		if !seen[idx] {
			extra++
		}
	}
	if extra > 0 {
		slog.Warn("transport: response referenced rows that were not sent", "count", extra)
	}

	sort.Ints(resp.Accepted)
	sort.Slice(resp.Rejected, func(i, j int) bool { return resp.Rejected[i].Index < resp.Rejected[j].Index })
	return resp
}

func wireRequest(req *Request) WireRequest {
	rows := req.Rows
	if rows == nil {
		rows = []Row{}
	}
	return WireRequest{RequestID: req.RequestID, Table: req.Table, Rows: rows}
}

func requestLabel(req *Request) string {
	return fmt.Sprintf("%s (%d rows, id %s)", req.Table, len(req.Rows), req.RequestID)
}
