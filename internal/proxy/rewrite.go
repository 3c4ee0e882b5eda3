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
	"encoding/json"
	"net/http"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/reponame"
)

// rewriteAndSendResponse implements step 7 of spec.md §4.E: copy through
// response headers (rewriting Location and Link to proxy-facing URLs), and
// for the tags/list body, rewrite the embedded repository name back to
// tenant space. All other bodies are streamed through verbatim.
func (h *Handler) rewriteAndSendResponse(w http.ResponseWriter, r *http.Request, target authz.Target, resp *http.Response) {
	proxyScheme := "https"
	if r.TLS == nil {
		proxyScheme = "http"
	}
	proxyHost := r.Host

	for k, vs := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		w.Header()[k] = vs
	}

	if loc := resp.Header.Get("Location"); loc != "" {
		rewritten, err := reponame.RewriteLocation(loc, proxyScheme, proxyHost, h.Upstream.Project)
		if err == nil {
			w.Header().Set("Location", rewritten)
		}
	}
	if link := resp.Header.Get("Link"); link != "" {
		rewritten, err := reponame.RewriteLinkHeader(link, proxyScheme, proxyHost)
		if err == nil {
			w.Header().Set("Link", rewritten)
		}
	}

	if isTagsListRequest(r) && resp.StatusCode == http.StatusOK {
		h.rewriteTagsListBody(w, resp, target)
		return
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := streamBody(w, resp.Body); err != nil {
		logg.Error("while streaming upstream response body: %s", err.Error())
	}
}

func isTagsListRequest(r *http.Request) bool {
	return r.Method == http.MethodGet && len(r.URL.Path) >= 10 && r.URL.Path[len(r.URL.Path)-10:] == "/tags/list"
}

// rewriteTagsListBody decodes the upstream tags/list body as a raw field map
// rather than a fixed {name, tags} struct, so that any field the upstream
// adds beyond those two survives the rewrite untouched; only "name" is
// overwritten, back into tenant space.
func (h *Handler) rewriteTagsListBody(w http.ResponseWriter, resp *http.Response, target authz.Target) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logg.Error("while decoding tags/list response body: %s", err.Error())
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	name, err := json.Marshal(target.Name.TenantPath())
	if err != nil {
		logg.Error("while encoding rewritten tags/list name: %s", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	body["name"] = name

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logg.Error("while encoding rewritten tags/list body: %s", err.Error())
	}
}
