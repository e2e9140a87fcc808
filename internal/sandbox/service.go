package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/arrowship/arrowship/pkg/transport"
)

// Options configures a Service.
type Options struct {
	// ClientID and ClientSecret enable the token endpoint and bearer checks.
	ClientID     string
	ClientSecret string
	TokenTTL     time.Duration

	// Retention bounds how long accepted rows are kept; zero keeps them.
	Retention time.Duration

	Rules []Rule
}

// Service is the sandbox ingestion service.
type Service struct {
	store  *Store
	issuer *Issuer
	rules  []Rule
	faults *Faults
}

// New returns a Service for opts.
func New(opts Options) *Service {
	return &Service{
		store:  NewStore(opts.Retention),
		issuer: NewIssuer(opts.ClientID, opts.ClientSecret, opts.TokenTTL),
		rules:  append([]Rule(nil), opts.Rules...),
		faults: &Faults{},
	}
}

// Store returns the accepted-row store.
func (s *Service) Store() *Store { return s.store }

// Issuer returns the token issuer.
func (s *Service) Issuer() *Issuer { return s.issuer }

// Faults returns the fault queue.
func (s *Service) Faults() *Faults { return s.faults }

// Run runs background maintenance until ctx is cancelled.
func (s *Service) Run(ctx context.Context) { s.store.Run(ctx) }

// awaitFault consumes the next fault and waits out its delay. It returns
// the fault when the request must fail.
func (s *Service) awaitFault(ctx context.Context) (Fault, bool, error) {
	f, ok := s.faults.next()
	if !ok {
		return Fault{}, false, nil
	}
	if f.Delay > 0 {
		t := time.NewTimer(f.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Fault{}, false, ctx.Err()
		case <-t.C:
		}
	}
	return f, f.Status != 0, nil
}

// ingest applies the rules to every row and stores the accepted ones.
func (s *Service) ingest(table string, req *transport.WireRequest) *transport.WireResponse {
	resp := &transport.WireResponse{Results: make([]transport.WireRowResult, 0, len(req.Rows))}
	accepted := make([]transport.Row, 0, len(req.Rows))

rows:
	for _, row := range req.Rows {
		for _, rule := range s.rules {
			if fr, rejected := rule.Apply(row); rejected {
				resp.Results = append(resp.Results, transport.WireRowResult{Index: row.Index, Error: fr.String()})
				continue rows
			}
		}
		accepted = append(accepted, row)
		resp.Results = append(resp.Results, transport.WireRowResult{Index: row.Index, Accepted: true})
	}

	stored := s.store.Put(table, req.RequestID, accepted)
	slog.Debug("sandbox: rows ingested",
		"table", table,
		"request_id", req.RequestID,
		"accepted", len(accepted),
		"rejected", len(req.Rows)-len(accepted),
		"duplicate", !stored,
	)
	return resp
}
