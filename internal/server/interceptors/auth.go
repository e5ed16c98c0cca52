package interceptors

import (
	"context"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"saas-admin/backend/internal/security"
	"saas-admin/backend/internal/server/response"
	userdomain "saas-admin/backend/internal/user/domain"
)

const bearerPrefix = "bearer "

// AccessVerifier verifies access tokens. Satisfied by *security.TokenCodec.
type AccessVerifier interface {
	VerifyAccess(token string) (*security.AccessClaims, error)
}

// Authenticate returns HTTP middleware that requires a valid Bearer access token. Any failure
// short-circuits with 401; on success the Identity is attached to the request context.
func Authenticate(tokens AccessVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := verify(tokens, BearerFromHeader(r.Header.Get("Authorization")))
			if !ok {
				response.Unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// AuthUnary returns a unary server interceptor that validates the Bearer (access) token
// from gRPC metadata and sets the Identity in context for protected RPCs.
// publicMethods is the set of full method names that do not require a Bearer token
// (e.g. grpc.health.v1.Health/Check).
func AuthUnary(tokens AccessVerifier, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		public := publicMethods[info.FullMethod]
		id, ok := verify(tokens, extractBearer(ctx))
		if !ok {
			if public {
				return handler(ctx, req)
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(tokens AccessVerifier, publicMethods map[string]bool) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		id, ok := verify(tokens, extractBearer(ss.Context()))
		if !ok {
			if publicMethods[info.FullMethod] {
				return handler(srv, ss)
			}
			return status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: WithIdentity(ss.Context(), id)})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context { return s.ctx }

func verify(tokens AccessVerifier, token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	claims, err := tokens.VerifyAccess(token)
	if err != nil {
		return Identity{}, false
	}
	role := userdomain.Role(claims.Role)
	if !role.Valid() {
		return Identity{}, false
	}
	return Identity{UserID: claims.UserID, TenantID: claims.TenantID, Role: role}, true
}

// BearerFromHeader returns the token from an Authorization header value, or "" if missing or malformed.
func BearerFromHeader(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// extractBearer returns the Bearer token from ctx metadata, or "" if missing or malformed.
func extractBearer(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	return BearerFromHeader(vals[0])
}
