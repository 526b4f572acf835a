package uploader

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticCredentialProviderReturnsFixedToken(t *testing.T) {
	p := NewStaticCredentialProvider("tok-123")
	cred, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", cred.Token)
}

func TestRefreshingCredentialProviderFetchesOnFirstUse(t *testing.T) {
	var calls int32
	p := NewRefreshingCredentialProvider(func(ctx context.Context) (Credential, error) {
		atomic.AddInt32(&calls, 1)
		return Credential{Token: "tok"}, nil
	}, 0.8)
	defer p.Close()

	cred, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", cred.Token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	_, _ = p.Get(context.Background())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second Get should use the cached credential")
}

func TestRefreshingCredentialProviderSchedulesProactiveRefresh(t *testing.T) {
	var calls int32
	p := NewRefreshingCredentialProvider(func(ctx context.Context) (Credential, error) {
		n := atomic.AddInt32(&calls, 1)
		exp := time.Now().Add(20 * time.Millisecond)
		if n > 1 {
			exp = time.Time{}
		}
		return Credential{Token: "tok", ExpiresAt: exp}, nil
	}, 0.5)
	defer p.Close()

	_, err := p.Get(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond)
}
