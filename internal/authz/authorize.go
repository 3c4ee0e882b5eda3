/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package authz

import (
	"context"
	"fmt"

	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/permission"
)

// Authorizer implements the authorization decisions of 4.D: the required
// platform permissions and upstream Registry v2 scopes for a Target, plus
// the actual permission check against the identity service.
type Authorizer struct {
	Cluster  string
	Checker  permission.Checker
	Upstream gateway.UpstreamConfig
}

// Decision is the result of authorizing a Target for a caller.
type Decision struct {
	Allowed bool
	Missing []permission.Permission
	Scopes  challenge.ScopeSet
}

// RequiredPermissions derives the platform permissions needed for a Target,
// per spec.md §4.D:
//
//   - "/v2/" requires nothing.
//   - "/v2/_catalog" requires `manage` on the cluster root (only admins may
//     list the catalog unfiltered; non-admins instead get the virtualized
//     catalog, see catalog.go, which performs its own listing rather than a
//     single check).
//   - repository GET/HEAD requires `read`; PUT/POST/PATCH requires `write`;
//     DELETE requires `manage`.
//   - a blob mount requires `read` on the source repository and `write` on
//     the destination, checked together.
func (a *Authorizer) RequiredPermissions(t Target) []permission.Permission {
	switch {
	case t.IsRoot:
		return nil
	case t.IsCatalog:
		return []permission.Permission{{
			URI:    fmt.Sprintf("image://%s", a.Cluster),
			Action: permission.ActionManage,
		}}
	case t.MountFrom != nil:
		return []permission.Permission{
			{URI: t.MountFrom.PermissionURI(a.Cluster), Action: permission.ActionRead},
			{URI: t.Name.PermissionURI(a.Cluster), Action: permission.ActionWrite},
		}
	default:
		return []permission.Permission{{
			URI:    t.Name.PermissionURI(a.Cluster),
			Action: repositoryAction(t.Method),
		}}
	}
}

func repositoryAction(method string) permission.Action {
	switch method {
	case "DELETE":
		return permission.ActionManage
	default:
		if writeActions[method] {
			return permission.ActionWrite
		}
		return permission.ActionRead
	}
}

// UpstreamScopes derives the Registry v2 scope string(s) the broker must
// acquire a credential for, mirroring RequiredPermissions.
func (a *Authorizer) UpstreamScopes(t Target) challenge.ScopeSet {
	var scopes challenge.ScopeSet
	switch {
	case t.IsRoot:
		return nil
	case t.IsCatalog:
		if s, err := challenge.ParseScope(a.Upstream.CatalogScope); err == nil {
			scopes.Add(s)
		}
		return scopes
	case t.MountFrom != nil:
		scopes.Add(a.repositoryScope(t.MountFrom.UpstreamPath(a.Upstream.Project), "pull"))
		scopes.Add(a.repositoryScope(t.Name.UpstreamPath(a.Upstream.Project), "push"))
		return scopes
	default:
		scopes.Add(a.repositoryScope(t.Name.UpstreamPath(a.Upstream.Project), a.upstreamActionFor(t.Method)))
		return scopes
	}
}

// repositoryScope builds the "repository:<name>:<actions>" scope for a
// repository access, honoring upstream.repository_scope_actions when the
// deployment overrides the method-derived action list.
func (a *Authorizer) repositoryScope(upstreamPath, defaultAction string) challenge.Scope {
	actions := []string{defaultAction}
	if len(a.Upstream.RepositoryScopeAction) > 0 {
		actions = a.Upstream.RepositoryScopeAction
	}
	return challenge.Scope{ResourceType: "repository", ResourceName: upstreamPath, Actions: actions}
}

func (a *Authorizer) upstreamActionFor(method string) string {
	switch method {
	case "DELETE":
		return "*"
	default:
		if writeActions[method] {
			return "push"
		}
		return "pull"
	}
}

// Authorize checks whether userToken carries the permissions this Target
// requires, and returns the upstream scopes to acquire regardless of outcome
// (the caller only needs them when allowed, but deriving them is free).
func (a *Authorizer) Authorize(ctx context.Context, userToken string, t Target) (Decision, error) {
	required := a.RequiredPermissions(t)
	scopes := a.UpstreamScopes(t)

	if len(required) == 0 {
		return Decision{Allowed: true, Scopes: scopes}, nil
	}

	allowed, missing, err := a.Checker.Check(ctx, userToken, required)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Allowed: allowed, Missing: missing, Scopes: scopes}, nil
}

// IsAdmin reports whether userToken holds `manage` on the cluster root,
// which is the permission that unlocks the unfiltered, upstream-backed
// catalog listing instead of the virtualized one.
func (a *Authorizer) IsAdmin(ctx context.Context, userToken string) (bool, error) {
	allowed, _, err := a.Checker.Check(ctx, userToken, []permission.Permission{{
		URI:    fmt.Sprintf("image://%s", a.Cluster),
		Action: permission.ActionManage,
	}})
	return allowed, err
}
