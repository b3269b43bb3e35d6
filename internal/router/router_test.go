package router

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/crypto/bcrypt"

	apiHandler "github.com/fastygo/identity/api/handler"
	"github.com/fastygo/identity/internal/infrastructure/monitor"
	"github.com/fastygo/identity/internal/metrics"
	"github.com/fastygo/identity/internal/middleware"
	"github.com/fastygo/identity/internal/security/password"
	"github.com/fastygo/identity/internal/security/token"
	"github.com/fastygo/identity/pkg/httpcontext"
	"github.com/fastygo/identity/repository/memory"
	credentialUC "github.com/fastygo/identity/usecase/credential"
	identityUC "github.com/fastygo/identity/usecase/identity"
)

type server struct {
	handler fasthttp.RequestHandler
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := memory.New()
	hasher, err := password.New(password.Config{Algorithm: password.AlgorithmBcrypt, BcryptCost: bcrypt.MinCost})
	if err != nil {
		t.Fatal(err)
	}
	codec, err := token.NewCodec(token.Config{Secret: []byte("router-test-secret-0123456789"), Algorithm: "HS256"})
	if err != nil {
		t.Fatal(err)
	}
	m := metrics.New("identity")
	resolver := identityUC.NewResolver(store, nil)
	svc := credentialUC.New(store, resolver, hasher, codec, credentialUC.Config{TokenTTL: time.Minute, Recorder: m}, nil)

	mon, err := monitor.New("@every 1h", nil, monitor.Probe{Name: "memory", Check: store.Ping})
	if err != nil {
		t.Fatal(err)
	}
	mon.Refresh()

	adapter := httpcontext.NewAdapter(time.Second)
	r := New(Handlers{
		Credential: apiHandler.NewCredentialHandler(svc, adapter, nil),
		Identity:   apiHandler.NewIdentityHandler(resolver, adapter, nil),
		Health:     apiHandler.NewHealthHandler(mon, adapter, nil),
		Metrics:    m.Handler(),
	}, middleware.Authenticate(svc, adapter, nil))
	return &server{handler: r.Handler}
}

func (s *server) do(method, path, bearer, body string) *fasthttp.RequestCtx {
	var rc fasthttp.RequestCtx
	rc.Request.Header.SetMethod(method)
	rc.Request.SetRequestURI(path)
	if bearer != "" {
		rc.Request.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != "" {
		rc.Request.SetBodyString(body)
	}
	s.handler(&rc)
	return &rc
}

func data(t *testing.T, rc *fasthttp.RequestCtx, dst interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rc.Response.Body(), &env); err != nil {
		t.Fatalf("decode %q: %v", rc.Response.Body(), err)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data %q: %v", env.Data, err)
	}
}

func TestCredentialFlow(t *testing.T) {
	s := newServer(t)

	rc := s.do(fasthttp.MethodPost, "/api/v1/auth/sign-up", "", `{"email":"linus@example.com","password":"old"}`)
	if rc.Response.StatusCode() != http.StatusCreated {
		t.Fatalf("sign up: %d %s", rc.Response.StatusCode(), rc.Response.Body())
	}
	var created struct {
		ID string `json:"id"`
	}
	data(t, rc, &created)

	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/sign-in", "", `{"email":"linus@example.com","password":"old"}`)
	var grant struct {
		AccessToken string `json:"access_token"`
	}
	data(t, rc, &grant)

	rc = s.do(fasthttp.MethodGet, "/api/v1/users/me", grant.AccessToken, "")
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	data(t, rc, &me)
	if me.ID != created.ID || me.Email != "linus@example.com" {
		t.Fatalf("unexpected me %+v", me)
	}

	rc = s.do(fasthttp.MethodGet, "/api/v1/users/linus@example.com", grant.AccessToken, "")
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("lookup by email: %d", rc.Response.StatusCode())
	}
	rc = s.do(fasthttp.MethodGet, "/api/v1/users/"+created.ID, grant.AccessToken, "")
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("lookup by id: %d", rc.Response.StatusCode())
	}

	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/change-password", grant.AccessToken, `{"old_password":"wrong","new_password":"new"}`)
	if rc.Response.StatusCode() != http.StatusUnauthorized {
		t.Fatalf("change with wrong password: %d", rc.Response.StatusCode())
	}
	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/change-password", grant.AccessToken, `{"old_password":"old","new_password":"new"}`)
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("change: %d %s", rc.Response.StatusCode(), rc.Response.Body())
	}

	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/sign-in", "", `{"email":"linus@example.com","password":"new"}`)
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("sign in with new password: %d", rc.Response.StatusCode())
	}

	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/reset-password", "", `{"email":"linus@example.com","new_password":"reset"}`)
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("reset: %d", rc.Response.StatusCode())
	}
	rc = s.do(fasthttp.MethodPost, "/api/v1/auth/sign-in", "", `{"email":"linus@example.com","password":"reset"}`)
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("sign in after reset: %d", rc.Response.StatusCode())
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	s := newServer(t)

	for _, tc := range []struct {
		method, path, bearer string
	}{
		{fasthttp.MethodGet, "/api/v1/users/me", ""},
		{fasthttp.MethodGet, "/api/v1/users/me", "not-a-token"},
		{fasthttp.MethodGet, "/api/v1/users/someone@example.com", ""},
		{fasthttp.MethodPost, "/api/v1/auth/change-password", ""},
	} {
		rc := s.do(tc.method, tc.path, tc.bearer, `{}`)
		if rc.Response.StatusCode() != http.StatusUnauthorized {
			t.Fatalf("%s %s: status %d", tc.method, tc.path, rc.Response.StatusCode())
		}
		if got := string(rc.Response.Header.Peek("WWW-Authenticate")); got != "Bearer" {
			t.Fatalf("%s %s: challenge %q", tc.method, tc.path, got)
		}
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	rc := s.do(fasthttp.MethodGet, "/health", "", "")
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("health: %d %s", rc.Response.StatusCode(), rc.Response.Body())
	}

	s.do(fasthttp.MethodPost, "/api/v1/auth/sign-in", "", `{"email":"nobody@example.com","password":"x"}`)
	rc = s.do(fasthttp.MethodGet, "/metrics", "", "")
	if rc.Response.StatusCode() != http.StatusOK {
		t.Fatalf("metrics: %d", rc.Response.StatusCode())
	}
	if body := string(rc.Response.Body()); !strings.Contains(body, "identity_credential_operations_total") || !strings.Contains(body, `operation="sign_in"`) {
		t.Fatalf("metrics body missing counters:\n%s", body)
	}
}
