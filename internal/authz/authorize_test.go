package authz

import (
	"context"
	"testing"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/permission"
	"github.com/sapcc/registry-gateway/internal/reponame"
)

type fakeChecker struct {
	allowed        bool
	missing        []permission.Permission
	imagePerms     []permission.Permission
	lastCheckCalls [][]permission.Permission
}

func (c *fakeChecker) Check(_ context.Context, _ string, required []permission.Permission) (bool, []permission.Permission, error) {
	c.lastCheckCalls = append(c.lastCheckCalls, required)
	return c.allowed, c.missing, nil
}

func (c *fakeChecker) ListImagePermissions(_ context.Context, _ string) ([]permission.Permission, error) {
	return c.imagePerms, nil
}

func mustName(t *testing.T, s string) reponame.Name {
	t.Helper()
	n, err := reponame.Parse(s)
	if err != nil {
		t.Fatal(err.Error())
	}
	return n
}

func TestRequiredPermissionsByMethod(t *testing.T) {
	a := &Authorizer{Cluster: "eu"}
	name := mustName(t, "alice/alpine")

	cases := []struct {
		method string
		action permission.Action
	}{
		{"GET", permission.ActionRead},
		{"HEAD", permission.ActionRead},
		{"PUT", permission.ActionWrite},
		{"POST", permission.ActionWrite},
		{"PATCH", permission.ActionWrite},
		{"DELETE", permission.ActionManage},
	}
	for _, c := range cases {
		perms := a.RequiredPermissions(Target{Method: c.method, Name: name})
		assert.DeepEqual(t, "permission count for "+c.method, len(perms), 1)
		assert.DeepEqual(t, "action for "+c.method, perms[0].Action, c.action)
		assert.DeepEqual(t, "uri for "+c.method, perms[0].URI, "image://eu/alice/alpine")
	}
}

func TestRequiredPermissionsForRootAndCatalog(t *testing.T) {
	a := &Authorizer{Cluster: "eu"}

	assert.DeepEqual(t, "root permissions", len(a.RequiredPermissions(Target{IsRoot: true})), 0)

	catalogPerms := a.RequiredPermissions(Target{IsCatalog: true})
	assert.DeepEqual(t, "catalog permission count", len(catalogPerms), 1)
	assert.DeepEqual(t, "catalog permission uri", catalogPerms[0].URI, "image://eu")
	assert.DeepEqual(t, "catalog permission action", catalogPerms[0].Action, permission.ActionManage)
}

func TestRequiredPermissionsForMount(t *testing.T) {
	a := &Authorizer{Cluster: "eu"}
	dst := mustName(t, "alice/alpine")
	src := mustName(t, "bob/alpine")

	perms := a.RequiredPermissions(Target{Method: "POST", Name: dst, MountFrom: &src})
	assert.DeepEqual(t, "permission count", len(perms), 2)
	assert.DeepEqual(t, "source uri", perms[0].URI, "image://eu/bob/alpine")
	assert.DeepEqual(t, "source action", perms[0].Action, permission.ActionRead)
	assert.DeepEqual(t, "dest uri", perms[1].URI, "image://eu/alice/alpine")
	assert.DeepEqual(t, "dest action", perms[1].Action, permission.ActionWrite)
}

func TestUpstreamScopesForRepository(t *testing.T) {
	a := &Authorizer{Cluster: "eu", Upstream: gateway.UpstreamConfig{Project: "myproject"}}
	name := mustName(t, "alice/alpine")

	scopes := a.UpstreamScopes(Target{Method: "GET", Name: name})
	assert.DeepEqual(t, "scope count", len(scopes), 1)
	assert.DeepEqual(t, "scope string", scopes[0].String(), "repository:myproject/alice/alpine:pull")

	scopes = a.UpstreamScopes(Target{Method: "PUT", Name: name})
	assert.DeepEqual(t, "scope string", scopes[0].String(), "repository:myproject/alice/alpine:push")

	scopes = a.UpstreamScopes(Target{Method: "DELETE", Name: name})
	assert.DeepEqual(t, "scope string", scopes[0].String(), "repository:myproject/alice/alpine:*")
}

func TestUpstreamScopesHonorsActionOverride(t *testing.T) {
	a := &Authorizer{Cluster: "eu", Upstream: gateway.UpstreamConfig{RepositoryScopeAction: []string{"pull", "push"}}}
	name := mustName(t, "alice/alpine")

	scopes := a.UpstreamScopes(Target{Method: "GET", Name: name})
	assert.DeepEqual(t, "scope string", scopes[0].String(), "repository:alice/alpine:pull,push")
}

func TestUpstreamScopesForCatalog(t *testing.T) {
	a := &Authorizer{Cluster: "eu", Upstream: gateway.UpstreamConfig{CatalogScope: "registry:catalog:*"}}
	scopes := a.UpstreamScopes(Target{IsCatalog: true})
	assert.DeepEqual(t, "scope count", len(scopes), 1)
	assert.DeepEqual(t, "scope string", scopes[0].String(), "registry:catalog:*")
}

func TestAuthorizeDenied(t *testing.T) {
	checker := &fakeChecker{allowed: false, missing: []permission.Permission{{URI: "image://eu/alice/alpine", Action: permission.ActionRead}}}
	a := &Authorizer{Cluster: "eu", Checker: checker}

	decision, err := a.Authorize(context.Background(), "usertoken", Target{Method: "GET", Name: mustName(t, "alice/alpine")})
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "allowed", decision.Allowed, false)
	assert.DeepEqual(t, "missing count", len(decision.Missing), 1)
}

func TestAuthorizeRootNeverCallsChecker(t *testing.T) {
	checker := &fakeChecker{allowed: false}
	a := &Authorizer{Cluster: "eu", Checker: checker}

	decision, err := a.Authorize(context.Background(), "usertoken", Target{IsRoot: true})
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "allowed", decision.Allowed, true)
	assert.DeepEqual(t, "checker calls", len(checker.lastCheckCalls), 0)
}

func TestVirtualizedCatalogFiltersAndSorts(t *testing.T) {
	checker := &fakeChecker{imagePerms: []permission.Permission{
		{URI: "image://eu/bob/zeta", Action: permission.ActionRead},
		{URI: "image://eu/alice/alpine", Action: permission.ActionManage},
		{URI: "image://eu/alice/nginx", Action: permission.ActionWrite},
		{URI: "image://otherclusteronly/x/y", Action: permission.ActionRead},
	}}
	a := &Authorizer{Cluster: "eu", Checker: checker}

	names, err := a.VirtualizedCatalog(context.Background(), "usertoken", "", "")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "names", names, []string{"alice/alpine", "alice/nginx", "bob/zeta"})
}

func TestVirtualizedCatalogProjectFilter(t *testing.T) {
	checker := &fakeChecker{imagePerms: []permission.Permission{
		{URI: "image://eu/alice/alpine", Action: permission.ActionRead},
		{URI: "image://eu/bob/alpine", Action: permission.ActionRead},
	}}
	a := &Authorizer{Cluster: "eu", Checker: checker}

	names, err := a.VirtualizedCatalog(context.Background(), "usertoken", "", "alice")
	if err != nil {
		t.Fatal(err.Error())
	}
	assert.DeepEqual(t, "names", names, []string{"alice/alpine"})
}

func TestPaginateRepositories(t *testing.T) {
	names := []string{"alice/alpine", "alice/nginx", "bob/x", "bob/y", "carol/z"}

	page, hasMore := PaginateRepositories(names, 2, "")
	assert.DeepEqual(t, "page", page, []string{"alice/alpine", "alice/nginx"})
	assert.DeepEqual(t, "has more", hasMore, true)

	page, hasMore = PaginateRepositories(names, 2, "alice/nginx")
	assert.DeepEqual(t, "page", page, []string{"bob/x", "bob/y"})
	assert.DeepEqual(t, "has more", hasMore, true)

	page, hasMore = PaginateRepositories(names, 100, "bob/y")
	assert.DeepEqual(t, "page", page, []string{"carol/z"})
	assert.DeepEqual(t, "has more", hasMore, false)
}
