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

package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/reponame"
	"github.com/sapcc/registry-gateway/internal/upstream"
)

// handleCatalog implements catalog virtualization (spec.md §4.E): admin
// callers see the upstream-backed, unfiltered catalog; everyone else sees
// the subset of repositories the identity service grants them read (or
// stronger) access to.
func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request, userToken string) {
	query := r.URL.Query()
	n, lastStr := 0, query.Get("last")
	if nStr := query.Get("n"); nStr != "" {
		parsed, err := strconv.Atoi(nStr)
		if err != nil || parsed <= 0 {
			gateway.ErrUnsupported.With(`invalid value for "n"`).WriteAsRegistryV2ResponseTo(w)
			return
		}
		n = parsed
	}

	isAdmin, err := h.Authorizer.IsAdmin(r.Context(), userToken)
	if err != nil {
		logg.Error("while checking admin status: %s", err.Error())
		gateway.AsRegistryV2Error(err).WriteAsRegistryV2ResponseTo(w)
		return
	}

	var names []string
	var extra map[string]json.RawMessage
	if isAdmin {
		names, extra, err = h.fetchUpstreamCatalog(r.Context(), userToken)
	} else {
		names, err = h.Authorizer.VirtualizedCatalog(r.Context(), userToken, query.Get("org"), query.Get("project"))
	}
	if err != nil {
		logg.Error("while building catalog: %s", err.Error())
		gateway.AsRegistryV2Error(err).WriteAsRegistryV2ResponseTo(w)
		return
	}

	page, hasMore := authz.PaginateRepositories(names, n, lastStr)
	if hasMore {
		linkQuery := url.Values{}
		if n > 0 {
			linkQuery.Set("n", strconv.Itoa(n))
		}
		linkQuery.Set("last", page[len(page)-1])
		linkURL := url.URL{Path: "/v2/_catalog", RawQuery: linkQuery.Encode()}
		w.Header().Set("Link", fmt.Sprintf(`<%s>; rel="next"`, linkURL.String()))
	}
	if page == nil {
		page = []string{}
	}

	// Any field the upstream's own _catalog response carried beyond
	// "repositories" is passed through verbatim; only "repositories" itself
	// reflects our own re-paginated, tenant-rewritten view.
	body := make(map[string]json.RawMessage, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	repositories, err := json.Marshal(page)
	if err != nil {
		logg.Error("while encoding catalog repositories: %s", err.Error())
		gateway.ErrUnknown.With(err.Error()).WriteAsRegistryV2ResponseTo(w)
		return
	}
	body["repositories"] = repositories

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// upstreamCatalogPage is one decoded page of the upstream's own _catalog
// response: Repositories drives pagination and name rewriting, Extra
// carries every other field verbatim so future upstream additions are not
// silently dropped.
type upstreamCatalogPage struct {
	Repositories []string
	Extra        map[string]json.RawMessage
}

// decodeCatalogPage decodes an upstream _catalog response body as a raw
// field map, pulling out "repositories" for processing and retaining every
// other field untouched.
func decodeCatalogPage(body io.Reader) (upstreamCatalogPage, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return upstreamCatalogPage{}, err
	}
	var page upstreamCatalogPage
	if reposRaw, ok := raw["repositories"]; ok {
		if err := json.Unmarshal(reposRaw, &page.Repositories); err != nil {
			return upstreamCatalogPage{}, err
		}
		delete(raw, "repositories")
	}
	page.Extra = raw
	return page, nil
}

// fetchUpstreamCatalog pages through the upstream registry's own _catalog
// endpoint until upstream.max_catalog_entries is reached, rewriting each
// returned name back into tenant space and dropping any entry that falls
// outside the configured upstream prefix (so the admin view never leaks
// repositories belonging to another tenant namespace sharing the same
// upstream).
func (h *Handler) fetchUpstreamCatalog(ctx context.Context, userToken string) ([]string, map[string]json.RawMessage, error) {
	var scopes challenge.ScopeSet
	if s, err := challenge.ParseScope(h.Upstream.CatalogScope); err == nil {
		scopes.Add(s)
	}
	cred, err := h.Broker.Acquire(ctx, scopes)
	if err != nil {
		return nil, nil, err
	}

	names := make([]string, 0, h.Upstream.MaxCatalogEntries)
	extra := map[string]json.RawMessage{}
	last := ""
	for len(names) < h.Upstream.MaxCatalogEntries {
		page, err := h.fetchUpstreamCatalogPage(ctx, cred, last)
		if err != nil {
			return nil, nil, err
		}
		for k, v := range page.Extra {
			extra[k] = v
		}
		if len(page.Repositories) == 0 {
			break
		}
		for _, upstreamName := range page.Repositories {
			n, err := reponame.ParseUpstreamPath(upstreamName, h.Upstream.Project)
			if err != nil {
				continue
			}
			names = append(names, n.TenantPath())
		}
		last = page.Repositories[len(page.Repositories)-1]
		if len(page.Repositories) < upstreamCatalogPageSize {
			break
		}
	}
	if len(names) > h.Upstream.MaxCatalogEntries {
		names = names[:h.Upstream.MaxCatalogEntries]
	}
	return names, extra, nil
}

const upstreamCatalogPageSize = 100

func (h *Handler) fetchUpstreamCatalogPage(ctx context.Context, cred upstream.Credential, last string) (upstreamCatalogPage, error) {
	upstreamURL, err := url.Parse(h.Upstream.URL)
	if err != nil {
		return upstreamCatalogPage{}, err
	}
	upstreamURL.Path = "/v2/_catalog"
	q := url.Values{}
	q.Set("n", strconv.Itoa(upstreamCatalogPageSize))
	if last != "" {
		q.Set("last", last)
	}
	upstreamURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, upstreamURL.String(), nil)
	if err != nil {
		return upstreamCatalogPage{}, err
	}
	cred.SetAuthHeader(req)

	resp, err := h.httpClient().Do(req)
	if err != nil {
		return upstreamCatalogPage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstreamCatalogPage{}, fmt.Errorf("upstream catalog request returned %s", resp.Status)
	}

	return decodeCatalogPage(resp.Body)
}
