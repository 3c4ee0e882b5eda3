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
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sapcc/registry-gateway/internal/challenge"
	"github.com/sapcc/registry-gateway/internal/gateway"
)

// Broker is the process-wide credential cache and acquisition coalescer
// described as "the broker" in the data model: a process-wide singleton by
// contract, but constructed explicitly here and injected into the proxy
// handler rather than kept as package-level state.
type Broker struct {
	acquirer Acquirer

	mu    sync.Mutex
	cache map[string]Credential

	group singleflight.Group
}

// NewBroker constructs a Broker around the given Acquirer (one of
// BasicAcquirer, OAuthAcquirer, or AwsECRAcquirer).
func NewBroker(acquirer Acquirer) *Broker {
	return &Broker{
		acquirer: acquirer,
		cache:    make(map[string]Credential),
	}
}

// Acquire returns a credential bearing the given scopes, from the cache if a
// live one is present, or via a fresh acquisition otherwise. Concurrent calls
// for an identical scope set coalesce into a single upstream token exchange;
// all callers observe the same resulting Credential.
func (b *Broker) Acquire(ctx context.Context, scopes challenge.ScopeSet) (Credential, error) {
	key := b.acquirer.CacheKey(scopes)

	b.mu.Lock()
	cred, ok := b.cache[key]
	b.mu.Unlock()
	if ok && !cred.Expired(time.Now(), ExpirySkew) {
		gateway.BrokerAcquisitionsCounter.WithLabelValues("hit").Inc()
		return cred, nil
	}

	// The single-flight call is deliberately started with a background
	// context, not the inbound request's context: if the client that
	// triggered this acquisition disconnects, other callers waiting on the
	// same key must still receive the in-flight result, and the cache should
	// still be populated for the next request.
	result, err, _ := b.group.Do(key, func() (interface{}, error) {
		// a flight that finished after the cache check above may already have
		// stored a live credential for this key
		b.mu.Lock()
		cached, ok := b.cache[key]
		b.mu.Unlock()
		if ok && !cached.Expired(time.Now(), ExpirySkew) {
			gateway.BrokerAcquisitionsCounter.WithLabelValues("hit").Inc()
			return cached, nil
		}

		acquireCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cred, err := b.acquirer.Acquire(acquireCtx, scopes)
		if err != nil {
			gateway.BrokerAcquisitionsCounter.WithLabelValues("error").Inc()
			return Credential{}, err
		}
		gateway.BrokerAcquisitionsCounter.WithLabelValues("miss").Inc()
		b.mu.Lock()
		b.cache[key] = cred
		b.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	// propagate the caller's own ctx cancellation even though the acquisition
	// itself was not tied to it
	select {
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	default:
	}
	return result.(Credential), nil
}

// Invalidate discards any cached credential for the given scope set, forcing
// the next Acquire call to perform a fresh acquisition. Used when the
// upstream responds 401 despite a credential the broker believed was valid.
func (b *Broker) Invalidate(scopes challenge.ScopeSet) {
	b.mu.Lock()
	delete(b.cache, b.acquirer.CacheKey(scopes))
	b.mu.Unlock()
}
