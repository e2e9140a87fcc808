package sandbox

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arrowship/arrowship/pkg/transport"
)

// TokenValidator reports whether a bearer token is acceptable.
type TokenValidator func(token string) bool

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// value.
func bearerToken(header string) (string, bool) {
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || tok == "" {
		return "", false
	}
	return tok, true
}

// BearerInterceptor returns a gRPC UnaryServerInterceptor that checks the
// bearer token in the authorization metadata.
//
// When enabled is false all calls pass through. A missing, malformed or
// rejected token returns codes.Unauthenticated.
func BearerInterceptor(enabled bool, valid TokenValidator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !enabled {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}
		vals := md.Get(transport.MetadataAuthorization)
		if len(vals) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		tok, ok := bearerToken(vals[0])
		if !ok || !valid(tok) {
			return nil, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		return handler(ctx, req)
	}
}

// RequireBearer is the HTTP counterpart of BearerInterceptor; rejected
// requests get 401.
func RequireBearer(enabled bool, valid TokenValidator, next http.Handler) http.Handler {
	if !enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok || !valid(tok) {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
