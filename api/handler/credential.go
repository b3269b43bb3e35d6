package handler

import (
	"net/http"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/fastygo/identity/api/transport"
	"github.com/fastygo/identity/domain"
	"github.com/fastygo/identity/internal/middleware"
	"github.com/fastygo/identity/pkg/httpcontext"
	credentialUC "github.com/fastygo/identity/usecase/credential"
)

type CredentialHandler struct {
	baseHandler
	uc *credentialUC.Service
}

func NewCredentialHandler(uc *credentialUC.Service, adapter *httpcontext.Adapter, logger *zap.Logger) *CredentialHandler {
	return &CredentialHandler{
		baseHandler: newBaseHandler(adapter, logger),
		uc:          uc,
	}
}

// @Summary Create an identity
// @Tags auth
// @Router /api/v1/auth/sign-up [post]
func (h *CredentialHandler) SignUp(ctx *fasthttp.RequestCtx) {
	var req transport.CredentialsRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	identity, err := h.uc.SignUp(stdCtx, req.Email, req.Password)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusCreated, identity)
}

// @Summary Exchange email and password for a bearer token
// @Tags auth
// @Router /api/v1/auth/sign-in [post]
func (h *CredentialHandler) SignIn(ctx *fasthttp.RequestCtx) {
	var req transport.CredentialsRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	grant, err := h.uc.SignIn(stdCtx, req.Email, req.Password)
	if err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, grant)
}

// @Summary Replace the password of an account by email, without authentication
// @Tags auth
// @Router /api/v1/auth/reset-password [post]
func (h *CredentialHandler) ResetPassword(ctx *fasthttp.RequestCtx) {
	var req transport.ResetPasswordRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	if err := h.uc.ResetPassword(stdCtx, req.Email, req.NewPassword); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.Ack{Message: "password reset"})
}

// @Summary Change the password of the authenticated identity
// @Tags auth
// @Router /api/v1/auth/change-password [post]
func (h *CredentialHandler) ChangePassword(ctx *fasthttp.RequestCtx) {
	var req transport.ChangePasswordRequest
	if !h.decode(ctx, &req) {
		return
	}

	stdCtx, cancel := h.requestContext(ctx)
	defer cancel()

	current, ok := middleware.CurrentIdentity(ctx)
	if !ok {
		h.respondError(stdCtx, ctx, domain.ErrUnauthenticated)
		return
	}

	if err := h.uc.ChangePassword(stdCtx, current, req.OldPassword, req.NewPassword); err != nil {
		h.respondError(stdCtx, ctx, err)
		return
	}
	h.respondSuccess(ctx, http.StatusOK, transport.Ack{Message: "password changed"})
}
