package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/ingesterr"
)

const maxResponseBody = 32 << 20

// RowsPath returns the ingest path for table.
func RowsPath(table string) string {
	return "/v1/tables/" + url.PathEscape(table) + "/rows"
}

// HTTPTransport posts rows to the ingestion REST endpoint.
type HTTPTransport struct {
	base     string
	client   *http.Client
	codec    Codec
	gzip     bool
	classify StatusClassifier
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient replaces the client built from transport.tls.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithStatusClassifier replaces DefaultStatusClassifier.
func WithStatusClassifier(f StatusClassifier) HTTPOption {
	return func(t *HTTPTransport) { t.classify = f }
}

// NewHTTP builds an HTTPTransport for cfg.
func NewHTTP(cfg config.Config, opts ...HTTPOption) (*HTTPTransport, error) {
	codec, err := CodecFor(cfg.Transport.Encoding)
	if err != nil {
		return nil, err
	}
	t := &HTTPTransport{
		base:     strings.TrimRight(cfg.Endpoint, "/"),
		codec:    codec,
		gzip:     cfg.Transport.Gzip,
		classify: DefaultStatusClassifier,
	}
	for _, o := range opts {
		o(t)
	}
	if t.client == nil {
		t.client, err = buildHTTPClient(cfg.Transport)
		if err != nil {
			return nil, ingesterr.Wrap(ingesterr.KindConfiguration, err, "transport: build http client")
		}
	}
	return t, nil
}

// buildHTTPClient constructs an http.Client for the transport's TLS settings.
// There is no client-level timeout; each attempt carries its own deadline.
func buildHTTPClient(tc config.TransportConfig) (*http.Client, error) {
	tlsCfg, err := TLSConfig(tc.TLS)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			TLSClientConfig:   tlsCfg,
			ForceAttemptHTTP2: true,
		},
	}, nil
}

// Ingest posts req and interprets the per-row results.
func (t *HTTPTransport) Ingest(ctx context.Context, req *Request) (*Response, error) {
	body, err := t.codec.Marshal(wireRequest(req))
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConversion, err, "encode request body")
	}
	if t.gzip {
		if body, err = Gzip(body); err != nil {
			return nil, ingesterr.Wrap(ingesterr.KindConversion, err, "compress request body")
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.base+RowsPath(req.Table), bytes.NewReader(body))
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConfiguration, err, "build request")
	}
	httpReq.Header.Set("Content-Type", t.codec.ContentType())
	httpReq.Header.Set("Accept", t.codec.ContentType())
	if t.gzip {
		httpReq.Header.Set("Content-Encoding", "gzip")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-Id", req.RequestID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "post %s", requestLabel(req))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		slog.Debug("transport: ingest rejected", "status", resp.StatusCode, "request_id", req.RequestID)
		if e := t.classify(resp.StatusCode, data); e != nil {
			return nil, e
		}
		return nil, ingesterr.New(ingesterr.KindTransmission, "ingest returned status %d", resp.StatusCode)
	}

	var wire WireResponse
	if err := CodecForContentType(resp.Header.Get("Content-Type")).Unmarshal(data, &wire); err != nil {
		// An unreadable 200 is handled like a dropped connection.
		return nil, ingesterr.Wrap(ingesterr.KindConnection, err, "decode response")
	}
	return Outcomes(req.Rows, wire.Results), nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) String() string {
	return fmt.Sprintf("http(%s, %s)", t.base, t.codec.ContentType())
}
