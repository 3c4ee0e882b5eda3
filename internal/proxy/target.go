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

// Package proxy implements the HTTP entry point: routing, Basic-auth
// decoding, orchestration of authz/broker/forward, and response rewriting.
package proxy

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sapcc/registry-gateway/internal/authz"
	"github.com/sapcc/registry-gateway/internal/gateway"
	"github.com/sapcc/registry-gateway/internal/reponame"
)

// buildTarget classifies an inbound request into an authz.Target, after
// gorilla/mux has already matched it to one of the routes in AddTo.
func buildTarget(r *http.Request) (authz.Target, *gateway.RegistryV2Error) {
	if r.URL.Path == "/v2/" {
		return authz.Target{IsRoot: true}, nil
	}
	if r.URL.Path == "/v2/_catalog" {
		return authz.Target{IsCatalog: true}, nil
	}

	vars := mux.Vars(r)
	name, err := reponame.Parse(vars["name"])
	if err != nil {
		return authz.Target{}, nameParseError(err)
	}

	t := authz.Target{Method: r.Method, Name: name}

	if mountDigest := r.URL.Query().Get("mount"); mountDigest != "" {
		if from := r.URL.Query().Get("from"); from != "" {
			src, err := reponame.Parse(from)
			if err != nil {
				return authz.Target{}, nameParseError(err)
			}
			t.MountFrom = &src
		}
	}

	return t, nil
}

// nameParseError maps a reponame.Parse error onto the Registry v2 error that
// spec.md requires for it: a path with too many components names a resource
// that could never exist under the tenant's namespace, so it is reported as
// 404 NAME_UNKNOWN rather than 400 NAME_INVALID.
func nameParseError(err error) *gateway.RegistryV2Error {
	if errors.Is(err, reponame.ErrNameTooDeep) {
		return gateway.ErrNameUnknown.With(err.Error())
	}
	return gateway.ErrNameInvalid.With(err.Error())
}
