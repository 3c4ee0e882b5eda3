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

	"github.com/sapcc/registry-gateway/internal/challenge"
)

// BasicAcquirer implements Acquirer for plain basic-auth upstreams: it always
// returns the same fixed credential from configuration, regardless of which
// scopes were requested. There is no acquisition work to cache, but it still
// goes through the Broker for a uniform call site.
type BasicAcquirer struct {
	User string
	Pass string
}

// CacheKey implements the Acquirer interface. A basic credential is fixed
// configuration, so every request shares the same cache entry.
func (a BasicAcquirer) CacheKey(_ challenge.ScopeSet) string {
	return "basic"
}

// Acquire implements the Acquirer interface.
func (a BasicAcquirer) Acquire(_ context.Context, _ challenge.ScopeSet) (Credential, error) {
	return Credential{Kind: KindBasic, User: a.User, Pass: a.Pass}, nil
}
