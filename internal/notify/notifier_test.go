package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"iap-entitlement-api/internal/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailureAndSuccess(t *testing.T) {
	f := Failure(3, "boom")
	require.NotNil(t, f.Error)
	assert.Equal(t, "boom", *f.Error)
	assert.Nil(t, f.Result)
	assert.False(t, f.OK())

	s := Success(4, []byte(`[]`))
	assert.Nil(t, s.Error)
	assert.JSONEq(t, `[]`, string(s.Result))
	assert.True(t, s.OK())
}

func TestNotificationJSONShape(t *testing.T) {
	data, err := json.Marshal(Failure(1, "nope"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "nope", decoded["error"])
	assert.Nil(t, decoded["result"])
}

func TestMultiSkipsNil(t *testing.T) {
	var got []int
	rec := NotifierFunc(func(n Notification) { got = append(got, n.CallbackID) })

	Multi(rec, nil, rec).Notify(Failure(9, "x"))
	assert.Equal(t, []int{9, 9}, got)
}

func TestCacheNotifierLookup(t *testing.T) {
	mem := cache.NewMemoryCache(time.Hour)
	defer mem.Close()
	n := NewCacheNotifier(mem, time.Minute)
	ctx := context.Background()

	_, ok, err := n.Lookup(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	n.Notify(Success(5, []byte(`{}`)))

	note, ok, err := n.Lookup(ctx, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, note.CallbackID)
	assert.JSONEq(t, `{}`, string(note.Result))

	require.NoError(t, n.Forget(ctx, 5))
	_, ok, _ = n.Lookup(ctx, 5)
	assert.False(t, ok)
}

func TestCacheNotifierWait(t *testing.T) {
	mem := cache.NewMemoryCache(time.Hour)
	defer mem.Close()
	n := NewCacheNotifier(mem, time.Minute)

	go func() {
		time.Sleep(30 * time.Millisecond)
		n.Notify(Failure(8, "late"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	note, ok, err := n.Wait(ctx, 8, 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "late", *note.Error)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, ok, err = n.Wait(short, 99, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

type memoryRecorder struct {
	mu    sync.Mutex
	notes []Notification
	fail  bool
}

func (r *memoryRecorder) InsertNotification(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("write failed")
	}
	r.notes = append(r.notes, n)
	return nil
}

func TestAuditNotifierDrainsOnClose(t *testing.T) {
	rec := &memoryRecorder{}
	a := NewAuditNotifier(rec)

	for i := 0; i < 10; i++ {
		a.Notify(Failure(i, "x"))
	}
	a.Close()
	a.Notify(Failure(100, "after close"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.notes, 10)
	assert.Zero(t, a.Dropped())
}

func TestAuditNotifierSurvivesRecorderErrors(t *testing.T) {
	rec := &memoryRecorder{fail: true}
	a := NewAuditNotifier(rec)
	a.Notify(Failure(1, "x"))
	a.Close()
}
