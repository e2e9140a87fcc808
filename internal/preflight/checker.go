package preflight

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/arrowship/arrowship/pkg/config"
	"github.com/arrowship/arrowship/pkg/transport"
)

// Certificate statuses.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// ExpiringWithin is how close to expiry a certificate is reported as expiring.
const ExpiringWithin = 30 * 24 * time.Hour

const dialTimeout = 10 * time.Second

// Report describes the endpoint's leaf certificate.
type Report struct {
	Endpoint string `json:"endpoint"`
	Address  string `json:"address"`
	Status   string `json:"status"`
	Issuer   string `json:"issuer,omitempty"`
	Subject  string `json:"subject,omitempty"`
	NotAfter string `json:"not_after,omitempty"`
	DaysLeft int    `json:"days_left"`
	Error    string `json:"error,omitempty"`
}

// Reachable reports whether the TLS handshake succeeded.
func (r *Report) Reachable() bool { return r.Status != StatusUnreachable }

// Check dials endpoint with the client TLS settings and inspects the leaf
// certificate. A dial or handshake failure yields StatusUnreachable; the
// returned error is reserved for an unusable endpoint or TLS configuration.
func Check(ctx context.Context, endpoint string, tlsCfg config.TLSConfig) (*Report, error) {
	return check(ctx, endpoint, tlsCfg, time.Now())
}

func check(ctx context.Context, endpoint string, tlsCfg config.TLSConfig, now time.Time) (*Report, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("preflight: parse endpoint: %w", err)
	}
	if u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("preflight: endpoint %q is not an https URL", endpoint)
	}

	cfg, err := transport.TLSConfig(tlsCfg)
	if err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}
	rep := &Report{Endpoint: endpoint, Address: host}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		rep.Status = StatusUnreachable
		rep.Error = err.Error()
		return rep, nil
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		rep.Status = StatusUnreachable
		rep.Error = "no peer certificates"
		return rep, nil
	}

	leaf := peerCerts[0]
	left := leaf.NotAfter.Sub(now)
	rep.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	rep.Issuer = leaf.Issuer.CommonName
	if rep.Issuer == "" && len(leaf.Issuer.Organization) > 0 {
		rep.Issuer = leaf.Issuer.Organization[0]
	}
	rep.Subject = leaf.Subject.CommonName
	rep.DaysLeft = int(math.Floor(left.Hours() / 24))
	rep.Status = status(left)
	return rep, nil
}

func status(left time.Duration) string {
	switch {
	case left <= 0:
		return StatusExpired
	case left <= ExpiringWithin:
		return StatusExpiring
	default:
		return StatusValid
	}
}
