package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/internal/middleware"
	"github.com/fastygo/identity/pkg/httpcontext"
	identityUC "github.com/fastygo/identity/usecase/identity"
)

// Generated ids never equal this value.
const meIdentifier = "me"

type IdentityHandler struct {
	baseHandler
	resolver *identityUC.Resolver
}

func NewIdentityHandler(resolver *identityUC.Resolver, adapter *httpcontext.Adapter, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{
		baseHandler: newBaseHandler(adapter, logger),
		resolver:    resolver,
	}
}

// Get serves /users/{identifier}; the reserved identifier "me" selects the caller.
func (h *IdentityHandler) Get(ctx *fasthttp.RequestCtx) {
	if identifier, _ := ctx.UserValue("identifier").(string); identifier == meIdentifier {
		h.Me(ctx)
		return
	}
	h.Lookup(ctx)
}

// @Summary Current identity
// @Tags users
// @Router /api/v1/users/me [get]
func (h *IdentityHandler) Me(ctx *fasthttp.RequestCtx) {
	current, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		stdCtx, cancel := h.requestContext(ctx)
		defer cancel()
		h.respondError(stdCtx, ctx, domain.ErrUnauthenticated)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, current.Public())
}

// @Summary Look up an identity by email or id
// @Tags users
// @Router /api/v1/users/{identifier} [get]
func (h *IdentityHandler) Lookup(ctx *fasthttp.RequestCtx) {
	identifier, _ := ctx.UserValue("identifier").(string)

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	identity, err := h.resolver.Lookup(stdCtx, identifier)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, identity)
}
