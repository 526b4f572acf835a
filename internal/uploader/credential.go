package uploader

import (
	"context"
	"sync"
	"time"
)

// StaticCredentialProvider wraps a fixed connection string, per spec.md
// §6's ConfigSchema.UploadConnectionString. It never expires.
type StaticCredentialProvider struct {
	token string
}

// NewStaticCredentialProvider returns a CredentialProvider backed by a
// fixed, non-expiring token.
func NewStaticCredentialProvider(token string) *StaticCredentialProvider {
	return &StaticCredentialProvider{token: token}
}

// Get returns the static credential. ctx is accepted to satisfy
// CredentialProvider but is never used.
func (p *StaticCredentialProvider) Get(ctx context.Context) (Credential, error) {
	return Credential{Token: p.token}, nil
}

// RefreshingCredentialProvider wraps a fetch function and proactively
// refreshes at RefreshFraction of the credential's TTL using a background
// goroutine, per SPEC_FULL.md §6's "STS-style refreshable token" binding.
type RefreshingCredentialProvider struct {
	fetch           func(ctx context.Context) (Credential, error)
	refreshFraction float64

	mu  sync.RWMutex
	cur Credential

	stop chan struct{}
	once sync.Once
}

// NewRefreshingCredentialProvider constructs a provider that calls fetch on
// first use and then proactively again at refreshFraction of the returned
// credential's remaining TTL.
func NewRefreshingCredentialProvider(fetch func(ctx context.Context) (Credential, error), refreshFraction float64) *RefreshingCredentialProvider {
	if refreshFraction <= 0 || refreshFraction >= 1 {
		refreshFraction = 0.8
	}
	return &RefreshingCredentialProvider{fetch: fetch, refreshFraction: refreshFraction, stop: make(chan struct{})}
}

// Get returns the current cached credential, fetching synchronously if none
// has been obtained yet.
func (p *RefreshingCredentialProvider) Get(ctx context.Context) (Credential, error) {
	p.mu.RLock()
	cur := p.cur
	p.mu.RUnlock()
	if cur.Token != "" {
		return cur, nil
	}
	return p.refresh(ctx)
}

func (p *RefreshingCredentialProvider) refresh(ctx context.Context) (Credential, error) {
	cred, err := p.fetch(ctx)
	if err != nil {
		return Credential{}, err
	}
	p.mu.Lock()
	p.cur = cred
	p.mu.Unlock()
	p.scheduleNextRefresh(cred)
	return cred, nil
}

func (p *RefreshingCredentialProvider) scheduleNextRefresh(cred Credential) {
	if cred.ExpiresAt.IsZero() {
		return
	}
	ttl := time.Until(cred.ExpiresAt)
	if ttl <= 0 {
		return
	}
	delay := time.Duration(float64(ttl) * p.refreshFraction)
	go func() {
		select {
		case <-time.After(delay):
			_, _ = p.refresh(context.Background())
		case <-p.stop:
		}
	}()
}

// Close stops any pending background refresh.
func (p *RefreshingCredentialProvider) Close() {
	p.once.Do(func() { close(p.stop) })
}
