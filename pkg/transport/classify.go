package transport

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/arrowship/arrowship/pkg/ingesterr"
)

// StatusClassifier maps a non-200 HTTP response to a request-level error.
type StatusClassifier func(code int, body []byte) *ingesterr.Error

// CodeClassifier maps a failed gRPC call to a request-level error.
type CodeClassifier func(st *status.Status) *ingesterr.Error

const maxErrorBody = 512

// DefaultStatusClassifier is the HTTP status mapping described in the
// package documentation. Unlisted statuses are permanent TransmissionErrors.
func DefaultStatusClassifier(code int, body []byte) *ingesterr.Error {
	msg := "ingest returned " + http.StatusText(code)
	if detail := strings.TrimSpace(string(body)); detail != "" {
		if len(detail) > maxErrorBody {
			detail = detail[:maxErrorBody]
		}
		msg += ": " + detail
	}

	switch {
	case code == http.StatusUnauthorized:
		return ingesterr.New(ingesterr.KindAuthentication, "%s", msg).Transient()
	case code == http.StatusForbidden:
		return ingesterr.New(ingesterr.KindAuthentication, "%s", msg)
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return ingesterr.New(ingesterr.KindConnection, "%s", msg)
	default:
		return ingesterr.New(ingesterr.KindTransmission, "%s", msg)
	}
}

// DefaultCodeClassifier is the gRPC code mapping described in the package
// documentation. Unknown and Internal are treated as connection failures.
func DefaultCodeClassifier(st *status.Status) *ingesterr.Error {
	const msg = "ingest rpc failed"

	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted,
		codes.Unknown, codes.Internal, codes.Canceled:
		return ingesterr.Wrap(ingesterr.KindConnection, st.Err(), "%s", msg)
	case codes.Unauthenticated:
		return ingesterr.Wrap(ingesterr.KindAuthentication, st.Err(), "%s", msg).Transient()
	case codes.PermissionDenied:
		return ingesterr.Wrap(ingesterr.KindAuthentication, st.Err(), "%s", msg)
	default:
		return ingesterr.Wrap(ingesterr.KindTransmission, st.Err(), "%s", msg)
	}
}
