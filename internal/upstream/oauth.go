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

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
)

// tokenRetryBackoffs is the exponential backoff schedule applied to network
// errors and 5xx responses from the token service: the first retry waits
// 200ms, the second 800ms. A 4xx response is never retried.
var tokenRetryBackoffs = []time.Duration{200 * time.Millisecond, 800 * time.Millisecond}

// OAuthAcquirer implements Acquirer for upstreams speaking the Distribution
// token protocol (the "oauth" upstream type): it exchanges the configured
// service-account credentials, plus the requested scopes, for a bearer token
// at the upstream's token endpoint.
type OAuthAcquirer struct {
	TokenURL string
	Service  string
	Username string
	Password string

	HTTPClient *http.Client
}

func (a OAuthAcquirer) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

// CacheKey implements the Acquirer interface: token entries are cached under
// the exact scope set they were acquired for.
func (a OAuthAcquirer) CacheKey(scopes challenge.ScopeSet) string {
	return scopes.Key()
}

// Acquire implements the Acquirer interface.
func (a OAuthAcquirer) Acquire(ctx context.Context, scopes challenge.ScopeSet) (Credential, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		cred, retriable, err := a.acquireOnce(ctx, scopes)
		if err == nil {
			return cred, nil
		}
		lastErr = err
		if !retriable || attempt >= len(tokenRetryBackoffs) {
			return Credential{}, lastErr
		}
		select {
		case <-ctx.Done():
			return Credential{}, ctx.Err()
		case <-time.After(tokenRetryBackoffs[attempt]):
		}
	}
}

func (a OAuthAcquirer) acquireOnce(ctx context.Context, scopes challenge.ScopeSet) (cred Credential, retriable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.TokenURL, nil)
	if err != nil {
		return Credential{}, false, err
	}
	if a.Username != "" {
		req.SetBasicAuth(a.Username, a.Password)
	}
	q := make(url.Values)
	q.Set("service", a.Service)
	for _, s := range scopes {
		q.Add("scope", s.String())
	}
	req.URL.RawQuery = q.Encode()

	resp, err := a.httpClient().Do(req)
	if err != nil {
		// network error: retriable
		return Credential{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Credential{}, true, fmt.Errorf("token service returned %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return Credential{}, false, gateway.ErrUnauthorized.With("token service returned %s", resp.Status)
	}

	var data struct {
		Token     string `json:"token"`
		ExpiresIn *int   `json:"expires_in"`
		IssuedAt  string `json:"issued_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Credential{}, false, fmt.Errorf("while decoding token response: %w", err)
	}
	if data.Token == "" {
		return Credential{}, false, fmt.Errorf("token service response did not contain a token")
	}

	expiresIn := 60
	if data.ExpiresIn != nil {
		expiresIn = *data.ExpiresIn
	}

	return Credential{
		Kind:      KindToken,
		Token:     data.Token,
		AsBearer:  true,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, false, nil
}
