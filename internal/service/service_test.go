package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"iap-entitlement-api/internal/billing"
	"iap-entitlement-api/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type keyStore map[string]string

func (k keyStore) GetVerificationKey(_ context.Context, pkg, name string) (string, error) {
	if v, ok := k[pkg+"/"+name]; ok {
		return v, nil
	}
	if pkg == "broken" {
		return "", errors.New("connection refused")
	}
	return "", repository.ErrKeyNotFound
}

func TestKeyResolverOrder(t *testing.T) {
	ctx := context.Background()
	store := keyStore{"app/billing_key_param": "stored-param", "app/billing_key": "stored-key", "other/billing_key": "other-key"}

	r := &KeyResolver{PackageName: "app", ParamKey: "p", Key: "k", Store: store}
	key, err := r.VerificationKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p", key)

	r.ParamKey = ""
	key, _ = r.VerificationKey(ctx)
	assert.Equal(t, "k", key)

	r.Key = ""
	key, _ = r.VerificationKey(ctx)
	assert.Equal(t, "stored-param", key)

	r.PackageName = "other"
	key, _ = r.VerificationKey(ctx)
	assert.Equal(t, "other-key", key)

	r.PackageName = "none"
	key, err = r.VerificationKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)

	r.PackageName = "broken"
	_, err = r.VerificationKey(ctx)
	assert.ErrorContains(t, err, "connection refused")

	key, err = (&KeyResolver{}).VerificationKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)
}

type refresher struct {
	calls atomic.Int32
	err   error
}

func (r *refresher) Refresh(context.Context) error {
	r.calls.Add(1)
	return r.err
}

func TestRunNowSkipsBusyAndUninitialized(t *testing.T) {
	for _, err := range []error{billing.ErrBusy, billing.ErrNotInitialized} {
		s := NewRefreshScheduler(&refresher{err: err}, RefreshConfig{})
		assert.NoError(t, s.RunNow())
	}

	boom := errors.New("boom")
	s := NewRefreshScheduler(&refresher{err: boom}, RefreshConfig{})
	assert.ErrorIs(t, s.RunNow(), boom)
}

func TestSchedulerDisabledByDefault(t *testing.T) {
	r := &refresher{}
	s := NewRefreshScheduler(r, RefreshConfig{})
	s.Start()
	s.Stop()
	assert.Zero(t, r.calls.Load())
}

func TestSchedulerTicks(t *testing.T) {
	r := &refresher{}
	s := NewRefreshScheduler(r, RefreshConfig{Interval: 10 * time.Millisecond})
	s.Start()
	s.Start()

	assert.Eventually(t, func() bool { return r.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	stopped := r.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, r.calls.Load())
}
