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
	"sort"
	"strings"

	"github.com/sapcc/registry-gateway/internal/reponame"
)

// VirtualizedCatalog is the tenant-space view of the catalog synthesized for
// a non-admin caller: the subset of repositories they hold `read` (or
// stronger) on, per spec.md §4.E "Catalog virtualization".
func (a *Authorizer) VirtualizedCatalog(ctx context.Context, userToken, orgFilter, projectFilter string) ([]string, error) {
	perms, err := a.Checker.ListImagePermissions(ctx, userToken)
	if err != nil {
		return nil, fmt.Errorf("while listing image permissions: %w", err)
	}

	prefix := fmt.Sprintf("image://%s/", a.Cluster)
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		if !strings.HasPrefix(p.URI, prefix) {
			continue
		}
		tenantPath := strings.TrimPrefix(p.URI, prefix)
		n, err := reponame.Parse(tenantPath)
		if err != nil {
			continue
		}
		if orgFilter != "" && n.Org != orgFilter {
			continue
		}
		if projectFilter != "" && n.Project != projectFilter {
			continue
		}
		names = append(names, n.TenantPath())
	}

	sort.Strings(names)
	return dedupeSorted(names), nil
}

func dedupeSorted(names []string) []string {
	if len(names) == 0 {
		return names
	}
	result := names[:1]
	for _, n := range names[1:] {
		if n != result[len(result)-1] {
			result = append(result, n)
		}
	}
	return result
}

// PaginateRepositories applies the "n" (limit) and "last" (marker) query
// parameters to a sorted repository name list, in the style of the upstream
// registry's own catalog and tag-list pagination: returns at most n names
// that sort strictly after last, plus whether more names remain.
func PaginateRepositories(names []string, n int, last string) (page []string, hasMore bool) {
	start := 0
	if last != "" {
		start = sort.SearchStrings(names, last)
		if start < len(names) && names[start] == last {
			start++
		}
	}
	names = names[start:]

	if n <= 0 || n >= len(names) {
		return names, false
	}
	return names[:n], true
}
