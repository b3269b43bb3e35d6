package httpcontext

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	appLogger "github.com/fastygo/identity/pkg/logger"
)

// Key represents a context value key exported for reuse.
type Key string

const (
	KeyRemoteAddr Key = "remote_addr"
	KeyUserAgent  Key = "user_agent"
)

const requestIDHeader = "X-Request-ID"

// Adapter converts fasthttp.RequestCtx into a stdlib context bounded by the request timeout.
type Adapter struct {
	timeout time.Duration
}

func NewAdapter(timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{timeout: timeout}
}

// Timeout reports the deadline applied to every attached context.
func (a *Adapter) Timeout() time.Duration {
	return a.timeout
}

// Attach derives a context for one request. Middleware and handler may both attach the
// same request; the request ID generated on the first call is reused by later ones.
func (a *Adapter) Attach(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	stdCtx, cancel := context.WithTimeout(context.Background(), a.timeout)
	if ctx == nil {
		return appLogger.ContextWithRequestID(stdCtx, uuid.NewString()), cancel
	}

	reqID := requestID(ctx)
	stdCtx = appLogger.ContextWithRequestID(stdCtx, reqID)
	ctx.Response.Header.Set(requestIDHeader, reqID)

	if remoteAddr := ctx.RemoteAddr(); remoteAddr != nil {
		stdCtx = context.WithValue(stdCtx, KeyRemoteAddr, remoteAddr.String())
	}
	if ua := string(ctx.Request.Header.UserAgent()); ua != "" {
		stdCtx = context.WithValue(stdCtx, KeyUserAgent, ua)
	}

	return stdCtx, cancel
}

func requestID(ctx *fasthttp.RequestCtx) string {
	if header := strings.TrimSpace(string(ctx.Request.Header.Peek(requestIDHeader))); header != "" {
		return header
	}
	id := uuid.NewString()
	ctx.Request.Header.Set(requestIDHeader, id)
	return id
}
