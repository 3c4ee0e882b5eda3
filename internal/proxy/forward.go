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
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/reponame"
	"github.com/sapcc/registry-gateway/internal/upstream"
)

// copyBufferSize bounds how much of the request/response body is held in
// memory at once while streaming it through: bodies are never buffered in
// full, per spec.md §5.
const copyBufferSize = 64 * 1024

// hopByHopHeaders are stripped from both the outbound upstream request and
// the inbound response, per RFC 7230 §6.1; forwarding them across a proxy
// hop is meaningless and can break the next hop's own connection handling.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
	"Authorization", // client's Basic credential never reaches the upstream
	"Host",
}

// forward orchestrates steps 3-7 of spec.md §4.E: acquire an upstream
// credential, build and issue the upstream request with a streaming body,
// retry exactly once on a 401 from the upstream, and rewrite the response.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, target authz.Target, decision authz.Decision) {
	ctx := r.Context()

	cred, err := h.Broker.Acquire(ctx, decision.Scopes)
	if err != nil {
		logg.Error("while acquiring upstream credential: %s", err.Error())
		gateway.ErrUnauthorized.With("upstream credential acquisition failed").WithStatus(http.StatusBadGateway).WriteAsRegistryV2ResponseTo(w)
		return
	}

	resp, err := h.issueUpstreamRequest(r, target, cred)
	if err != nil {
		logg.Error("while contacting upstream registry: %s", err.Error())
		gateway.ErrUnknown.With(err.Error()).WithStatus(http.StatusBadGateway).WriteAsRegistryV2ResponseTo(w)
		return
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c, cerr := challenge.Parse(resp.Header)
		if cerr != nil || c == nil {
			// No parseable Bearer challenge: per the challenge grammar, an
			// unknown or absent auth-scheme means the caller surfaces the
			// original upstream response unmodified rather than guessing at
			// a scope to retry with.
			defer resp.Body.Close()
			h.rewriteAndSendResponse(w, r, target, resp)
			return
		}
		resp.Body.Close()

		refreshScopes := decision.Scopes
		if len(c.Scopes) > 0 {
			refreshScopes = c.Scopes
		}
		h.Broker.Invalidate(refreshScopes)

		cred, err = h.Broker.Acquire(ctx, refreshScopes)
		if err != nil {
			logg.Error("while re-acquiring upstream credential after 401: %s", err.Error())
			gateway.ErrUnauthorized.With("upstream credential refresh failed").WithStatus(http.StatusBadGateway).WriteAsRegistryV2ResponseTo(w)
			return
		}

		resp, err = h.issueUpstreamRequest(r, target, cred)
		if err != nil {
			logg.Error("while retrying request to upstream registry: %s", err.Error())
			gateway.ErrUnknown.With(err.Error()).WithStatus(http.StatusBadGateway).WriteAsRegistryV2ResponseTo(w)
			return
		}
		if resp.StatusCode == http.StatusUnauthorized {
			resp.Body.Close()
			gateway.UpstreamRetriesCounter.WithLabelValues("failed").Inc()
			logg.Error("upstream rejected credentials twice for %s %s", r.Method, r.URL.Path)
			gateway.ErrUnauthorized.With("upstream rejected credentials").WithStatus(http.StatusBadGateway).WriteAsRegistryV2ResponseTo(w)
			return
		}
		gateway.UpstreamRetriesCounter.WithLabelValues("recovered").Inc()
	}
	defer resp.Body.Close()

	h.rewriteAndSendResponse(w, r, target, resp)
}

// issueUpstreamRequest builds the outbound request to the upstream registry
// for the given target, attaches the credential, and issues it with the
// client's body piped through unbuffered.
func (h *Handler) issueUpstreamRequest(r *http.Request, target authz.Target, cred upstream.Credential) (*http.Response, error) {
	upstreamPath := "/v2/" + target.Name.UpstreamPath(h.Upstream.Project) + subResourceSuffix(r.URL.Path, target)

	upstreamURL, err := url.Parse(h.Upstream.URL)
	if err != nil {
		return nil, err
	}
	upstreamURL.Path = upstreamPath
	upstreamURL.RawQuery = rewriteMountQuery(r.URL.Query(), h.Upstream.Project)

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstreamURL.String(), r.Body)
	if err != nil {
		return nil, err
	}
	req.ContentLength = r.ContentLength

	for k, vs := range r.Header {
		if isHopByHop(k) {
			continue
		}
		req.Header[k] = vs
	}
	cred.SetAuthHeader(req)

	client := *h.httpClient()
	client.CheckRedirect = func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return client.Do(req)
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

// subResourceSuffix extracts the trailing path segment this request carries
// beyond the repository name itself (e.g. "/manifests/latest",
// "/blobs/sha256:...", "/tags/list").
func subResourceSuffix(inboundPath string, target authz.Target) string {
	idx := strings.Index(inboundPath, "/v2/"+target.Name.TenantPath())
	if idx < 0 {
		return ""
	}
	return strings.TrimPrefix(inboundPath[idx:], "/v2/"+target.Name.TenantPath())
}

// rewriteMountQuery rewrites the "from" query parameter of a blob-mount
// request into upstream namespace, passing all other parameters through.
func rewriteMountQuery(q url.Values, prefix string) string {
	if from := q.Get("from"); from != "" {
		if n, err := reponame.Parse(from); err == nil {
			q = cloneValues(q)
			q.Set("from", n.UpstreamPath(prefix))
		}
	}
	return q.Encode()
}

func cloneValues(q url.Values) url.Values {
	clone := make(url.Values, len(q))
	for k, v := range q {
		clone[k] = append([]string(nil), v...)
	}
	return clone
}

// streamBody copies src to dst in bounded chunks, never buffering the whole
// body in memory.
func streamBody(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, copyBufferSize)
	return io.CopyBuffer(dst, src, buf)
}
