package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/identity/api/transport"
	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/pkg/httpcontext"
	"github.com/fastygo/identity/pkg/logger"
)

const identityKey = "identity"

// CurrentIdentityResolver turns a bearer token into the identity it was issued for.
type CurrentIdentityResolver interface {
	ResolveCurrentIdentity(ctx context.Context, token string) (*domain.Identity, error)
}

// Authenticate rejects requests without a valid bearer token and stores the resolved
// identity on the request for CurrentIdentity.
func Authenticate(resolver CurrentIdentityResolver, adapter *httpcontext.Adapter, log *zap.Logger) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if adapter == nil {
		adapter = httpcontext.NewAdapter(0)
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			stdCtx, cancel := adapter.Attach(ctx)
			identity, err := resolver.ResolveCurrentIdentity(stdCtx, extractToken(ctx))
			cancel()

			if err != nil {
				logger.WithRequestID(stdCtx, log).Debug("request not authenticated", zap.Error(err))
				reject(ctx, err)
				return
			}

			ctx.SetUserValue(identityKey, identity)
			next(ctx)
		}
	}
}

// CurrentIdentity returns the identity stored by Authenticate.
func CurrentIdentity(ctx *fasthttp.RequestCtx) (*domain.Identity, bool) {
	identity, ok := ctx.UserValue(identityKey).(*domain.Identity)
	return identity, ok && identity != nil
}

func reject(ctx *fasthttp.RequestCtx, err error) {
	status, code := http.StatusUnauthorized, domain.ErrCodeUnauthenticated
	message := domain.ErrUnauthenticated.Message
	switch {
	case domain.IsDomainError(err, domain.ErrCodeForbidden):
		status, code, message = http.StatusForbidden, domain.ErrCodeForbidden, domain.ErrInactiveIdentity.Message
	case domain.IsDomainError(err, domain.ErrCodeUnavailable):
		status, code, message = http.StatusServiceUnavailable, domain.ErrCodeUnavailable, domain.ErrStoreUnavailable.Message
	case !domain.IsDomainError(err, domain.ErrCodeUnauthenticated):
		status, code, message = http.StatusInternalServerError, domain.ErrCodeInternal, "internal error"
	}

	if status == http.StatusUnauthorized {
		ctx.Response.Header.Set("WWW-Authenticate", "Bearer")
	}
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(transport.Failure(string(code), message).Bytes())
}

func extractToken(ctx *fasthttp.RequestCtx) string {
	header := strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization")))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
