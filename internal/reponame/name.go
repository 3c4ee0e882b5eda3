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

// Package reponame implements the pure, stateless rewriting between the
// tenant-facing repository namespace and the upstream registry's namespace.
package reponame

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// componentRx matches a single path component of a repository name: lowercase
// alphanumerics, optionally separated by single dots, underscores or hyphens.
// Uppercase letters are deliberately not allowed.
var componentRx = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// Name is the tenant-facing 4-tuple identifying a repository, minus the
// cluster (which is a single fixed value for the whole deployment and is
// therefore carried separately wherever a full permission URI is needed).
type Name struct {
	Org     string // optional
	Project string
	Repo    string
}

// ErrNameInvalid is returned by Parse when a path does not look like a
// well-formed repository name.
var ErrNameInvalid = errors.New("invalid repository name")

// ErrNameTooDeep is returned by Parse when a path has more components than
// `<org>/<project>/<repo>` allows.
var ErrNameTooDeep = errors.New("repository name has too many path components")

// Parse interprets the `<name>` segment of a tenant-facing Registry v2 URL
// (e.g. "alice/alpine" or "myteam/infra/alpine") into a Name. Names may
// contain dots and underscores but not uppercase letters; empty segments are
// rejected.
func Parse(path string) (Name, error) {
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return Name{}, ErrNameInvalid
		}
		if !componentRx.MatchString(p) {
			return Name{}, ErrNameInvalid
		}
	}

	switch len(parts) {
	case 2:
		return Name{Project: parts[0], Repo: parts[1]}, nil
	case 3:
		return Name{Org: parts[0], Project: parts[1], Repo: parts[2]}, nil
	case 0, 1:
		return Name{}, ErrNameInvalid
	default:
		return Name{}, ErrNameTooDeep
	}
}

// TenantPath renders the tenant-facing `<name>` path segment.
func (n Name) TenantPath() string {
	if n.Org == "" {
		return n.Project + "/" + n.Repo
	}
	return n.Org + "/" + n.Project + "/" + n.Repo
}

// UpstreamPath renders the path this name maps to on the upstream registry,
// given the configured upstream prefix (empty for basic/aws_ecr upstreams, a
// project id for token-service upstreams such as GCR).
func (n Name) UpstreamPath(prefix string) string {
	tenant := n.TenantPath()
	if prefix == "" {
		return tenant
	}
	return prefix + "/" + tenant
}

// ParseUpstreamPath is the inverse of UpstreamPath: it strips the configured
// prefix from an upstream repository path and parses what remains as a Name.
// It rejects paths that do not begin with the prefix, so that
// ParseUpstreamPath(n.UpstreamPath(prefix), prefix) == (n, nil) for every
// well-formed Name (the rewriter is a bijection on well-formed paths).
func ParseUpstreamPath(upstreamPath, prefix string) (Name, error) {
	if prefix == "" {
		return Parse(upstreamPath)
	}
	if upstreamPath == prefix || !strings.HasPrefix(upstreamPath, prefix+"/") {
		return Name{}, ErrNameInvalid
	}
	return Parse(strings.TrimPrefix(upstreamPath, prefix+"/"))
}

// PermissionURI renders the `image://<cluster>/<org?>/<project>/<repo>`
// permission URI for this name under the given cluster.
func (n Name) PermissionURI(cluster string) string {
	return fmt.Sprintf("image://%s/%s", cluster, n.TenantPath())
}
