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

// Package permission implements the adapter to the identity service that
// decides whether a platform user holds a given permission on a given
// image://... resource. The wire format of that service is outside this
// package's concern; Checker only needs two operations from it: a batch
// permission check, and a listing of all image permissions held by a user
// (used to synthesize the virtual catalog).
package permission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sapcc/go-bits/logg"
)

// Action is one of the three permission levels a caller can hold on an
// image:// resource.
type Action string

// Possible values for Action, ordered from weakest to strongest.
const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

// Permission is a single requirement or grant: "the caller may <Action> on
// <URI>", where URI has the form `image://<cluster>/<org?>/<project>/<repo>`
// (see package reponame for how repository names become that URI).
type Permission struct {
	URI    string `json:"uri"`
	Action Action `json:"action"`
}

// Checker is implemented by the HTTP client below and by test doubles.
type Checker interface {
	// Check reports whether userToken carries all of the required
	// permissions. If not, missing lists the subset that is absent. A single
	// inbound proxy request performs at most one Check call, batching every
	// permission it needs (e.g. the mount-from-another-repository case needs
	// both a read and a write permission checked together).
	Check(ctx context.Context, userToken string, required []Permission) (allowed bool, missing []Permission, err error)

	// ListImagePermissions returns every image:// permission userToken holds
	// at ActionRead or stronger, for catalog virtualization.
	ListImagePermissions(ctx context.Context, userToken string) ([]Permission, error)
}

// HTTPChecker is the production Checker: a thin client around an identity
// service reachable over HTTP, in the style of the teacher's OpenStack
// Keystone adapter but without any assumption about the service's identity
// beyond the two operations below.
type HTTPChecker struct {
	BaseURL      string
	ServiceToken string // credential this gateway uses to call the identity service itself
	HTTPClient   *http.Client
}

func (c *HTTPChecker) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

type checkRequest struct {
	UserToken   string       `json:"user_token"`
	Permissions []Permission `json:"permissions"`
}

type checkResponse struct {
	Allowed bool         `json:"allowed"`
	Missing []Permission `json:"missing"`
}

// Check implements the Checker interface.
func (c *HTTPChecker) Check(ctx context.Context, userToken string, required []Permission) (bool, []Permission, error) {
	if len(required) == 0 {
		return true, nil, nil
	}

	body, err := json.Marshal(checkRequest{UserToken: userToken, Permissions: required})
	if err != nil {
		return false, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/check", bytes.NewReader(body))
	if err != nil {
		return false, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.ServiceToken)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return false, nil, fmt.Errorf("while contacting identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil, fmt.Errorf("identity service returned %s for permission check", resp.Status)
	}

	var data checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return false, nil, fmt.Errorf("while decoding permission check response: %w", err)
	}

	if !data.Allowed {
		logg.Debug("permission check denied for user, missing %v", data.Missing)
	}
	return data.Allowed, data.Missing, nil
}

type listPermissionsResponse struct {
	Permissions []Permission `json:"permissions"`
}

// ListImagePermissions implements the Checker interface.
func (c *HTTPChecker) ListImagePermissions(ctx context.Context, userToken string) ([]Permission, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/permissions/image", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+userToken)
	if c.ServiceToken != "" {
		req.Header.Set("X-Service-Token", c.ServiceToken)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("while contacting identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned %s for permission listing", resp.Status)
	}

	var data listPermissionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("while decoding permission listing response: %w", err)
	}
	return data.Permissions, nil
}
