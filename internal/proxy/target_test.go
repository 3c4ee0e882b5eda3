package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/registry-gateway/internal/gateway"
)

func withMuxVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestBuildTargetRoot(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/", nil)
	target, rerr := buildTarget(r)
	if rerr != nil {
		t.Fatal(rerr.Error())
	}
	assert.DeepEqual(t, "is root", target.IsRoot, true)
}

func TestBuildTargetCatalog(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/_catalog", nil)
	target, rerr := buildTarget(r)
	if rerr != nil {
		t.Fatal(rerr.Error())
	}
	assert.DeepEqual(t, "is catalog", target.IsCatalog, true)
}

func TestBuildTargetRepository(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/alice/alpine/manifests/latest", nil)
	r = withMuxVars(r, map[string]string{"name": "alice/alpine", "reference": "latest"})
	target, rerr := buildTarget(r)
	if rerr != nil {
		t.Fatal(rerr.Error())
	}
	assert.DeepEqual(t, "name", target.Name.TenantPath(), "alice/alpine")
	assert.DeepEqual(t, "mount from", target.MountFrom == nil, true)
}

func TestBuildTargetMount(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v2/alice/alpine/blobs/uploads/?mount=sha256:abc&from=bob/alpine", nil)
	r = withMuxVars(r, map[string]string{"name": "alice/alpine"})
	target, rerr := buildTarget(r)
	if rerr != nil {
		t.Fatal(rerr.Error())
	}
	if target.MountFrom == nil {
		t.Fatal("expected MountFrom to be set")
	}
	assert.DeepEqual(t, "mount source", target.MountFrom.TenantPath(), "bob/alpine")
}

func TestBuildTargetRejectsInvalidName(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/Alice/manifests/latest", nil)
	r = withMuxVars(r, map[string]string{"name": "Alice"})
	_, rerr := buildTarget(r)
	if rerr == nil {
		t.Fatal("expected an error for an invalid repository name")
	}
	assert.DeepEqual(t, "code", rerr.Code, gateway.ErrNameInvalid)
}

func TestBuildTargetRejectsTooDeepNameAsNotFound(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v2/alice/org/project/repo/manifests/latest", nil)
	r = withMuxVars(r, map[string]string{"name": "alice/org/project/repo"})
	_, rerr := buildTarget(r)
	if rerr == nil {
		t.Fatal("expected an error for a too-deep repository name")
	}
	assert.DeepEqual(t, "code", rerr.Code, gateway.ErrNameUnknown)
}
