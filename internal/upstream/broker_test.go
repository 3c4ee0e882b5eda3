package upstream

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sapcc/go-bits/assert"

	"github.com/sapcc/registry-gateway/internal/challenge"
)

type countingAcquirer struct {
	calls     int32
	expiresIn time.Duration
}

func (a *countingAcquirer) CacheKey(scopes challenge.ScopeSet) string {
	return scopes.Key()
}

func (a *countingAcquirer) Acquire(_ context.Context, scopes challenge.ScopeSet) (Credential, error) {
	atomic.AddInt32(&a.calls, 1)
	expiresAt := time.Time{}
	if a.expiresIn > 0 {
		expiresAt = time.Now().Add(a.expiresIn)
	}
	return Credential{Kind: KindToken, Token: "tok-" + scopes.Key(), AsBearer: true, ExpiresAt: expiresAt}, nil
}

func scopesFor(names ...string) challenge.ScopeSet {
	var ss challenge.ScopeSet
	for _, n := range names {
		ss.Add(challenge.Scope{ResourceType: "repository", ResourceName: n, Actions: []string{"pull"}})
	}
	return ss
}

func TestBrokerCachesAcquisitions(t *testing.T) {
	acquirer := &countingAcquirer{}
	b := NewBroker(acquirer)
	scopes := scopesFor("alice/alpine")

	for i := 0; i < 5; i++ {
		_, err := b.Acquire(context.Background(), scopes)
		if err != nil {
			t.Fatal(err.Error())
		}
	}

	assert.DeepEqual(t, "acquisition count", int(acquirer.calls), 1)
}

func TestBrokerCoalescesConcurrentAcquisitions(t *testing.T) {
	acquirer := &countingAcquirer{}
	b := NewBroker(acquirer)
	scopes := scopesFor("alice/alpine")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Acquire(context.Background(), scopes)
			if err != nil {
				t.Error(err.Error())
			}
		}()
	}
	wg.Wait()

	assert.DeepEqual(t, "acquisition count", int(acquirer.calls), 1)
}

func TestBrokerReacquiresAfterExpiry(t *testing.T) {
	acquirer := &countingAcquirer{expiresIn: 1 * time.Millisecond}
	b := NewBroker(acquirer)
	scopes := scopesFor("alice/alpine")

	_, err := b.Acquire(context.Background(), scopes)
	if err != nil {
		t.Fatal(err.Error())
	}
	time.Sleep(5 * time.Millisecond)
	_, err = b.Acquire(context.Background(), scopes)
	if err != nil {
		t.Fatal(err.Error())
	}

	assert.DeepEqual(t, "acquisition count", int(acquirer.calls), 2)
}

func TestBrokerInvalidateForcesReacquisition(t *testing.T) {
	acquirer := &countingAcquirer{}
	b := NewBroker(acquirer)
	scopes := scopesFor("alice/alpine")

	_, err := b.Acquire(context.Background(), scopes)
	if err != nil {
		t.Fatal(err.Error())
	}
	b.Invalidate(scopes)
	_, err = b.Acquire(context.Background(), scopes)
	if err != nil {
		t.Fatal(err.Error())
	}

	assert.DeepEqual(t, "acquisition count", int(acquirer.calls), 2)
}

func TestBrokerDistinctScopesDoNotShareCacheEntries(t *testing.T) {
	acquirer := &countingAcquirer{}
	b := NewBroker(acquirer)

	_, err := b.Acquire(context.Background(), scopesFor("alice/alpine"))
	if err != nil {
		t.Fatal(err.Error())
	}
	_, err = b.Acquire(context.Background(), scopesFor("bob/x"))
	if err != nil {
		t.Fatal(err.Error())
	}

	assert.DeepEqual(t, "acquisition count", int(acquirer.calls), 2)
}
