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

// Package upstream implements the credential broker: acquiring and caching
// upstream registry credentials on behalf of the proxy, across the three
// supported upstream flavors (basic, Distribution-token-protocol OAuth, and
// AWS ECR signed tokens).
package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/sapcc/registry-gateway/internal/challenge"
)

// Kind is the tag of the Credential sum type.
type Kind string

// Possible values for Kind.
const (
	KindBasic Kind = "basic"
	KindToken Kind = "token" // covers both "oauth" Bearer tokens and "aws_ecr" tokens, which differ in how they are presented (see AsBearer)
)

// Credential is the tagged union `Basic(user, pass) | Bearer(token,
// expires_at) | AwsEcrToken(token, expires_at)` from the data model: a Basic
// credential carries User/Pass and never expires; a token credential carries
// ExpiresAt plus either Token (a Distribution-protocol Bearer token) or
// User/Pass (a base64-decoded ECR Basic-style token).
type Credential struct {
	Kind Kind

	// set when Kind == KindBasic, or when Kind == KindToken but the upstream
	// is aws_ecr (ECR hands out a user:pass pair presented as Basic)
	User string
	Pass string

	// set when Kind == KindToken and the upstream is oauth (a bearer token
	// presented as `Authorization: Bearer <token>`)
	Token string

	// zero for credentials that never expire (basic, and aws_ecr/oauth
	// entries before their first acquisition)
	ExpiresAt time.Time

	// AsBearer distinguishes an ECR Basic-style token from an OAuth Bearer
	// token; both are KindToken, but only the OAuth one is sent as
	// "Authorization: Bearer ...". ECR tokens are sent as Basic auth.
	AsBearer bool
}

// Expired reports whether this credential is unusable at `now`, honoring the
// skew: a credential is considered expired if `now + skew >= ExpiresAt`.
// Credentials with a zero ExpiresAt (Basic; not-yet-populated cache entries)
// never expire by this check.
func (c Credential) Expired(now time.Time, skew time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(c.ExpiresAt)
}

// SetAuthHeader attaches this credential to an outbound request to the
// upstream registry.
func (c Credential) SetAuthHeader(req *http.Request) {
	switch c.Kind {
	case KindBasic:
		req.SetBasicAuth(c.User, c.Pass)
	case KindToken:
		if c.AsBearer {
			req.Header.Set("Authorization", "Bearer "+c.Token)
		} else {
			req.SetBasicAuth(c.User, c.Pass)
		}
	}
}

// Acquirer is implemented by each upstream flavor (basic, oauth, aws_ecr).
// Given the set of scopes the caller's request needs, it returns a fresh
// Credential bearing (at least) those scopes.
type Acquirer interface {
	Acquire(ctx context.Context, scopes challenge.ScopeSet) (Credential, error)

	// CacheKey returns the Broker cache key for an acquisition against the
	// given scopes. oauth keys by the exact scope set; basic and aws_ecr
	// acquire one credential regardless of scope, so they return a constant.
	CacheKey(scopes challenge.ScopeSet) string
}

// ExpirySkew is subtracted from a credential's advertised lifetime before the
// broker considers it usable, so that a credential is never handed out right
// as it's about to expire mid-request. The data model requires skew >= 10s.
const ExpirySkew = 15 * time.Second
