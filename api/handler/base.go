package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/identity/api/transport"
	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/pkg/httpcontext"
	"github.com/fastygo/identity/pkg/logger"
)

type baseHandler struct {
	adapter *httpcontext.Adapter
	logger  *zap.Logger
}

func newBaseHandler(adapter *httpcontext.Adapter, logger *zap.Logger) baseHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return baseHandler{adapter: adapter, logger: logger}
}

func (h baseHandler) requestContext(ctx *fasthttp.RequestCtx) (context.Context, context.CancelFunc) {
	if h.adapter != nil {
		return h.adapter.Attach(ctx)
	}
	return context.WithCancel(context.Background())
}

// decode reads a JSON body into dst and answers 400 itself when that fails.
func (h baseHandler) decode(ctx *fasthttp.RequestCtx, dst interface{}) bool {
	if err := json.Unmarshal(ctx.PostBody(), dst); err != nil {
		h.respondJSON(ctx, http.StatusBadRequest, transport.Failure(string(domain.ErrCodeInvalid), domain.ErrInvalidPayload.Message))
		return false
	}
	return true
}

func (h baseHandler) respondJSON(ctx *fasthttp.RequestCtx, status int, payload transport.Envelope) {
	ctx.Response.Header.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(payload.Bytes())
}

func (h baseHandler) respondSuccess(ctx *fasthttp.RequestCtx, status int, data interface{}) {
	h.respondJSON(ctx, status, transport.Success(data))
}

func (h baseHandler) respondError(stdCtx context.Context, ctx *fasthttp.RequestCtx, err error) {
	status, code := mapError(err)
	message := publicMessage(err)
	if status >= http.StatusInternalServerError {
		logger.WithRequestID(stdCtx, h.logger).Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	if status == http.StatusUnauthorized && code == string(domain.ErrCodeUnauthenticated) {
		ctx.Response.Header.Set("WWW-Authenticate", "Bearer")
	}
	h.respondJSON(ctx, status, transport.Failure(code, message))
}

func mapError(err error) (int, string) {
	code := domain.CodeOf(err)
	switch code {
	case domain.ErrCodeInvalid:
		return http.StatusBadRequest, string(code)
	case domain.ErrCodeInvalidEmail:
		return http.StatusUnprocessableEntity, string(code)
	case domain.ErrCodeAlreadyExists:
		return http.StatusConflict, string(code)
	case domain.ErrCodeNotFound:
		return http.StatusNotFound, string(code)
	case domain.ErrCodeInvalidCredentials, domain.ErrCodeUnauthenticated:
		return http.StatusUnauthorized, string(code)
	case domain.ErrCodeForbidden:
		return http.StatusForbidden, string(code)
	case domain.ErrCodeUnavailable:
		return http.StatusServiceUnavailable, string(code)
	default:
		return http.StatusInternalServerError, string(domain.ErrCodeInternal)
	}
}

// publicMessage keeps causes such as driver errors out of responses.
func publicMessage(err error) string {
	switch domain.CodeOf(err) {
	case domain.ErrCodeUnavailable:
		return domain.ErrStoreUnavailable.Message
	case domain.ErrCodeInternal:
		return "internal error"
	case domain.ErrCodeUnauthenticated:
		return domain.ErrUnauthenticated.Message
	}
	var dErr *domain.Error
	if errors.As(err, &dErr) {
		return dErr.Message
	}
	return "internal error"
}
