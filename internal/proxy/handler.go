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
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sapcc/go-bits/logg"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/permission"
	"github.com/sapcc/registry-gateway/internal/upstream"
)

// Handler is the proxy's HTTP entry point: it holds everything needed to
// authorize, forward, and rewrite a single inbound Registry v2 request.
type Handler struct {
	Cluster    string
	Authorizer *authz.Authorizer
	Broker     *upstream.Broker
	Upstream   gateway.UpstreamConfig
	HTTPClient *http.Client
}

func (h *Handler) httpClient() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

// AddTo registers this handler's routes on the given router, in the same
// `AddTo(r *mux.Router)` convention used throughout the API layer this is
// grounded on.
func (h *Handler) AddTo(r *mux.Router) {
	r.Methods("GET").Path("/v2/").HandlerFunc(h.handle)
	r.Methods("GET").Path("/v2/_catalog").HandlerFunc(h.handle)

	rr := r.PathPrefix("/v2/{name:.+}/").Subrouter()
	rr.Methods("GET").Path("/tags/list").HandlerFunc(h.handle)
	rr.Methods("DELETE", "GET", "HEAD", "PUT").Path("/manifests/{reference}").HandlerFunc(h.handle)
	rr.Methods("DELETE", "GET", "HEAD").Path("/blobs/{digest}").HandlerFunc(h.handle)
	rr.Methods("POST").Path("/blobs/uploads/").HandlerFunc(h.handle)
	rr.Methods("DELETE", "GET", "PATCH", "PUT").Path("/blobs/uploads/{uuid}").HandlerFunc(h.handle)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")

	target, rerr := buildTarget(r)
	if rerr != nil {
		rerr.WriteAsRegistryV2ResponseTo(w)
		return
	}

	if target.IsRoot {
		w.WriteHeader(http.StatusOK)
		return
	}

	userName, userToken, ok := r.BasicAuth()
	if !ok {
		writeUnauthenticated(w)
		return
	}

	// the catalog performs its own admin check and otherwise serves the
	// virtualized per-caller view, so it is not gated on the `manage`
	// permission that Authorize requires for the unfiltered listing
	if target.IsCatalog {
		h.handleCatalog(w, r, userToken)
		return
	}

	ctx := r.Context()
	decision, err := h.Authorizer.Authorize(ctx, userToken, target)
	if err != nil {
		logg.Error("while checking permissions for user %q: %s", userName, err.Error())
		gateway.AsRegistryV2Error(err).WriteAsRegistryV2ResponseTo(w)
		return
	}
	if !decision.Allowed {
		writeDenied(w, decision.Missing)
		return
	}

	h.forward(w, r, target, decision)
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Registry"`)
	gateway.ErrUnauthorized.With("authentication required").WriteAsRegistryV2ResponseTo(w)
}

func writeDenied(w http.ResponseWriter, missing []permission.Permission) {
	uris := make([]string, len(missing))
	for i, p := range missing {
		uris[i] = fmt.Sprintf("%s (%s)", p.URI, p.Action)
	}
	gateway.ErrDenied.With("missing permissions: %s", strings.Join(uris, ", ")).WriteAsRegistryV2ResponseTo(w)
}
