package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/identity/api/handler"
)

type Handlers struct {
	Credential *apiHandler.CredentialHandler
	Identity   *apiHandler.IdentityHandler
	Health     *apiHandler.HealthHandler
	// Metrics is mounted on /metrics when set.
	Metrics fasthttp.RequestHandler
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	v1 := r.Group("/api/v1")

	// Credential routes
	v1.POST("/auth/sign-up", handlers.Credential.SignUp)
	v1.POST("/auth/sign-in", handlers.Credential.SignIn)
	v1.POST("/auth/reset-password", handlers.Credential.ResetPassword)

	// Protected routes
	v1.POST("/auth/change-password", authMiddleware(handlers.Credential.ChangePassword))
	v1.GET("/users/{identifier}", authMiddleware(handlers.Identity.Get))

	return r
}
