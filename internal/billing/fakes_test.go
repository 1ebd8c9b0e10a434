package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/internal/notify"

	"github.com/stretchr/testify/require"
)

const testKey = "MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEAtest"

// fakeBackend answers from fixed data. With hold set, blocking calls wait for
// a token on release before answering.
type fakeBackend struct {
	mu         sync.Mutex
	connectErr error
	queryErr   error
	consumeErr error
	inv        *model.Inventory
	subs       bool
	hold       bool
	release    chan struct{}
	calls      chan string

	keys      []string
	queries   []backend.QueryRequest
	consumed  []string
	disposals int
	debug     bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		inv:     model.NewInventory(),
		subs:    true,
		release: make(chan struct{}, 16),
		calls:   make(chan string, 64),
	}
}

func (f *fakeBackend) wait(name string) {
	f.calls <- name
	f.mu.Lock()
	hold := f.hold
	f.mu.Unlock()
	if hold {
		<-f.release
	}
}

func (f *fakeBackend) setHold(hold bool) {
	f.mu.Lock()
	f.hold = hold
	f.mu.Unlock()
}

// expectCall waits until the backend received name.
func (f *fakeBackend) expectCall(t *testing.T, name string) {
	t.Helper()
	select {
	case got := <-f.calls:
		require.Equal(t, name, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("backend call %q not received", name)
	}
}

func (f *fakeBackend) Connect(_ context.Context, key string) error {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()
	f.wait("connect")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeBackend) SubscriptionsSupported() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs
}

func (f *fakeBackend) QueryInventory(_ context.Context, req backend.QueryRequest) (*model.Inventory, error) {
	f.mu.Lock()
	f.queries = append(f.queries, req)
	f.mu.Unlock()
	f.wait("query")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := model.NewInventory()
	for _, p := range f.inv.Products() {
		out.AddProduct(p)
	}
	for _, p := range f.inv.Purchases() {
		out.AddPurchase(p)
	}
	return out, nil
}

func (f *fakeBackend) Consume(_ context.Context, p model.Purchase) error {
	f.wait("consume")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return f.consumeErr
	}
	f.consumed = append(f.consumed, p.SKU)
	f.inv.ErasePurchase(p.SKU)
	return nil
}

func (f *fakeBackend) SetDebugLogging(enabled bool) {
	f.mu.Lock()
	f.debug = enabled
	f.mu.Unlock()
}

func (f *fakeBackend) Dispose() {
	f.mu.Lock()
	f.disposals++
	f.mu.Unlock()
}

// fakeLauncher records launched flows; results are injected through the listener.
type fakeLauncher struct {
	mu       sync.Mutex
	listener backend.ResultListener
	err      error
	flows    chan backend.FlowRequest
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{flows: make(chan backend.FlowRequest, 16)}
}

func (l *fakeLauncher) LaunchPurchaseFlow(_ context.Context, req backend.FlowRequest) error {
	l.mu.Lock()
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return err
	}
	l.flows <- req
	return nil
}

func (l *fakeLauncher) SetResultListener(fn backend.ResultListener) {
	l.mu.Lock()
	l.listener = fn
	l.mu.Unlock()
}

func (l *fakeLauncher) nextFlow(t *testing.T) backend.FlowRequest {
	t.Helper()
	select {
	case req := <-l.flows:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("purchase flow not launched")
		return backend.FlowRequest{}
	}
}

func (l *fakeLauncher) deliver(r backend.ActivityResult) bool {
	l.mu.Lock()
	fn := l.listener
	l.mu.Unlock()
	if fn == nil {
		return false
	}
	return fn(r)
}

type recorder struct {
	ch chan notify.Notification
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan notify.Notification, 64)}
}

func (r *recorder) Notify(n notify.Notification) { r.ch <- n }

func (r *recorder) next(t *testing.T) notify.Notification {
	t.Helper()
	select {
	case n := <-r.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("no notification delivered")
		return notify.Notification{}
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case n := <-r.ch:
		t.Fatalf("unexpected notification: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func requireError(t *testing.T, n notify.Notification, id int, msg string) {
	t.Helper()
	require.Equal(t, id, n.CallbackID)
	require.NotNil(t, n.Error, "expected error notification, got result %s", n.Result)
	require.Equal(t, msg, *n.Error)
}

func requireResult(t *testing.T, n notify.Notification, id int) []byte {
	t.Helper()
	require.Equal(t, id, n.CallbackID)
	require.Nil(t, n.Error, "expected result notification, got error %v", n.Error)
	return n.Result
}

type harness struct {
	t        *testing.T
	client   *Client
	backend  *fakeBackend
	launcher *fakeLauncher
	notes    *recorder
}

func newHarness(t *testing.T, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, backend: newFakeBackend(), launcher: newFakeLauncher(), notes: newRecorder()}
	o := Options{
		Backend:  h.backend,
		Launcher: h.launcher,
		Notifier: h.notes,
		Keys:     StaticKey(testKey),
	}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	require.NoError(t, err)
	h.client = c
	t.Cleanup(c.Close)
	return h
}

// accepted unwraps a request result of an open client.
func (h *harness) accepted(ok bool, err error) bool {
	h.t.Helper()
	require.NoError(h.t, err)
	return ok
}

// snapshot reads the cached purchases and products as their notified JSON.
func (h *harness) snapshot(t *testing.T, id int) (purchases, products string) {
	t.Helper()
	require.True(t, h.accepted(h.client.GetPurchases(id)))
	purchases = string(requireResult(t, h.notes.next(t), id))
	require.True(t, h.accepted(h.client.GetAvailableProducts(id+1)))
	products = string(requireResult(t, h.notes.next(t), id+1))
	return purchases, products
}

// initialize runs a successful Initialize and consumes its notification.
func (h *harness) initialize(t *testing.T) {
	t.Helper()
	ok, err := h.client.Initialize(context.Background(), 1, nil, false)
	require.NoError(t, err)
	require.True(t, ok)
	h.backend.expectCall(t, "connect")
	h.backend.expectCall(t, "query")
	requireResult(t, h.notes.next(t), 1)
}

func purchaseOf(t *testing.T, itemType, sku, token string) model.Purchase {
	t.Helper()
	payload, err := model.NewPurchasePayload("order-"+sku, "com.example.app", sku, 1700000000000, "", token)
	require.NoError(t, err)
	p, err := model.ParsePurchase(itemType, payload, "sig-"+sku)
	require.NoError(t, err)
	return p
}

func okResult(t *testing.T, requestCode int, sku string) backend.ActivityResult {
	t.Helper()
	payload, err := model.NewPurchasePayload("order-"+sku, "com.example.app", sku, 1700000000000, "dev", "tok-"+sku)
	require.NoError(t, err)
	return backend.ActivityResult{
		RequestCode:   requestCode,
		ResultCode:    backend.ActivityResultOK,
		ResponseCode:  backend.ResponseOK,
		PurchaseData:  payload,
		DataSignature: "sig-" + sku,
	}
}
