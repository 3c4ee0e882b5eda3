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

// Package authz implements the Authorizer: given a parsed Registry v2
// request and the authenticated caller, it derives the permissions the
// caller must hold and the upstream scopes the
// broker must acquire, and virtualizes the global catalog into a per-caller
// view.
package authz

import (
	"github.com/sapcc/registry-gateway/internal/reponame"
)

// Target describes the shape of a single inbound Registry v2 request, as
// classified by the proxy handler's routing before it reaches the
// Authorizer.
type Target struct {
	// Method is the inbound HTTP method.
	Method string

	// IsRoot is set for "GET /v2/", the API version check.
	IsRoot bool

	// IsCatalog is set for "GET /v2/_catalog".
	IsCatalog bool

	// Name is the repository this request addresses. Unset when IsRoot or
	// IsCatalog is set.
	Name reponame.Name

	// MountFrom is set for a blob-mount request
	// ("/v2/<dst>/blobs/uploads/?mount=<digest>&from=<src>"): Name is <dst>,
	// MountFrom is <src>.
	MountFrom *reponame.Name
}

// writeActions are the HTTP methods that require `write` instead of `read`
// on a repository.
var writeActions = map[string]bool{
	"PUT":   true,
	"POST":  true,
	"PATCH": true,
}
