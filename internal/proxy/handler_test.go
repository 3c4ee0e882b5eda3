package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/permission"
	"github.com/sapcc/registry-gateway/internal/upstream"
)

type allowAllChecker struct{}

func (allowAllChecker) Check(_ context.Context, _ string, _ []permission.Permission) (bool, []permission.Permission, error) {
	return true, nil, nil
}

func (allowAllChecker) ListImagePermissions(_ context.Context, _ string) ([]permission.Permission, error) {
	return nil, nil
}

type denyAllChecker struct{ missing []permission.Permission }

func (c denyAllChecker) Check(_ context.Context, _ string, _ []permission.Permission) (bool, []permission.Permission, error) {
	return false, c.missing, nil
}

func (c denyAllChecker) ListImagePermissions(_ context.Context, _ string) ([]permission.Permission, error) {
	return nil, nil
}

type fixedTokenAcquirer struct {
	calls int
	token string
}

func (a *fixedTokenAcquirer) CacheKey(scopes challenge.ScopeSet) string { return scopes.Key() }

func (a *fixedTokenAcquirer) Acquire(_ context.Context, _ challenge.ScopeSet) (upstream.Credential, error) {
	a.calls++
	return upstream.Credential{Kind: upstream.KindToken, Token: a.token, AsBearer: true}, nil
}

func newTestHandler(t *testing.T, upstreamURL string, checker permission.Checker, acquirer upstream.Acquirer) *Handler {
	t.Helper()
	return &Handler{
		Cluster:    "eu",
		Authorizer: &authz.Authorizer{Cluster: "eu", Checker: checker},
		Broker:     upstream.NewBroker(acquirer),
		Upstream:   gateway.UpstreamConfig{URL: upstreamURL, CatalogScope: "registry:catalog:*"},
	}
}

func TestHandleManifestRoundTrip(t *testing.T) {
	var gotAuth string
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.DeepEqual(t, "upstream path", r.URL.Path, "/v2/alice/alpine/manifests/latest")
		w.Header().Set("Docker-Content-Digest", "sha256:abc")
		w.Write([]byte(`{"schemaVersion":2}`)) //nolint:errcheck
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusOK)
	assert.DeepEqual(t, "digest header", rec.Header().Get("Docker-Content-Digest"), "sha256:abc")
	assert.DeepEqual(t, "authorization sent upstream", gotAuth, "Bearer tok")
}

func TestHandleMissingBasicAuthIsUnauthenticated(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid", allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusUnauthorized)
	assert.DeepEqual(t, "challenge header", rec.Header().Get("WWW-Authenticate"), `Basic realm="Registry"`)
}

func TestHandleDeniedPermission(t *testing.T) {
	checker := denyAllChecker{missing: []permission.Permission{{URI: "image://eu/alice/alpine", Action: permission.ActionRead}}}
	h := newTestHandler(t, "http://unused.invalid", checker, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusForbidden)

	var body struct {
		Errors []struct {
			Code string `json:"code"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "error count", len(body.Errors), 1)
	assert.DeepEqual(t, "error code", body.Errors[0].Code, "DENIED")
}

func TestHandleRootIsAlwaysOK(t *testing.T) {
	h := newTestHandler(t, "http://unused.invalid", allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusOK)
}

func TestHandleUpstream401RetriesOnceThenSucceeds(t *testing.T) {
	attempt := 0
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="https://auth.example/token",service="registry",scope="repository:alice/alpine:pull"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"schemaVersion":2}`)) //nolint:errcheck
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusOK)
	assert.DeepEqual(t, "upstream attempts", attempt, 2)
}

func TestHandleTagsListRewritesNameAndPreservesUnknownFields(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"name":  "registry/alice/alpine",
			"tags":  []string{"latest", "v1"},
			"child": []string{},
		})
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/tags/list", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusOK)

	var body map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "rewritten name", body["name"], "alice/alpine")
	if _, ok := body["child"]; !ok {
		t.Fatal(`expected unknown field "child" to be preserved`)
	}
}

func TestHandleUpstream401WithoutBearerChallengeSurfacesOriginalResponse(t *testing.T) {
	attempt := 0
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		w.Header().Set("WWW-Authenticate", `Basic realm="upstream"`)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"errors":[{"code":"UNAUTHORIZED"}]}`)) //nolint:errcheck
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusUnauthorized)
	assert.DeepEqual(t, "upstream attempts", attempt, 1)
	assert.DeepEqual(t, "challenge header passed through", rec.Header().Get("WWW-Authenticate"), `Basic realm="upstream"`)
}

func TestHandleUpstream401TwiceSurfacesAs502(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="https://auth.example/token",service="registry"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer upstreamSrv.Close()

	h := newTestHandler(t, upstreamSrv.URL, allowAllChecker{}, &fixedTokenAcquirer{token: "tok"})
	router := mux.NewRouter()
	h.AddTo(router)

	req := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	req.SetBasicAuth("alice", "platform-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.DeepEqual(t, "status", rec.Code, http.StatusBadGateway)
}
