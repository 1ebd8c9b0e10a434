// Package billing implements the entitlement cache and async gate: it owns the
// purchase/product inventory, allows at most one billing operation in flight and
// turns every request into exactly one completion notification.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/metrics"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/internal/notify"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FirstRequestCode is the request code of the first purchase flow of a client.
const FirstRequestCode = 10001

// ErrClosed is returned by blocking calls after Close.
var ErrClosed = errors.New("billing client is closed")

type opKind string

const (
	opInitialize   opKind = "initialize"
	opQuery        opKind = "get_product_details"
	opPurchase     opKind = "buy"
	opSubscribe    opKind = "subscribe"
	opConsume      opKind = "consume_purchase"
	opRefresh      opKind = "refresh"
	opGetPurchases opKind = "get_purchases"
	opGetProducts  opKind = "get_available_products"
)

// operation is an async request occupying a session's pending slot.
type operation struct {
	kind       opKind
	callbackID int
	sess       *session
	started    time.Time

	// purchase flows
	requestCode int
	marker      string
	itemType    string

	// internal requests complete here instead of the notifier
	done chan error
}

// session is one connection lifetime, from Initialize until Teardown.
type session struct {
	ctx      context.Context
	cancel   context.CancelFunc
	disposed atomic.Bool
	ready    bool
	pending  *operation
}

func newSession() *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{ctx: ctx, cancel: cancel}
}

func (s *session) isDisposed() bool {
	return s == nil || s.disposed.Load()
}

// Options configures a Client.
type Options struct {
	Backend  backend.Backend
	Launcher backend.FlowLauncher
	Notifier notify.Notifier
	// Keys resolves the verification key. Required only when receipts are verified.
	Keys KeySource
	// Verifier checks developer payloads. Defaults to AcceptAllPayloads.
	Verifier PayloadVerifier
	Logger   *zerolog.Logger
	// Debug starts with verbose logging; it is applied to the backend on the next session.
	Debug bool
}

// Client is the entitlement cache. All state below the sequencing fields is owned
// by a single goroutine; public methods and backend completions run on it as tasks.
type Client struct {
	backend  backend.Backend
	launcher backend.FlowLauncher
	notifier notify.Notifier
	keys     KeySource
	verifier PayloadVerifier
	baseLog  zerolog.Logger

	tasks        chan func()
	quit         chan struct{}
	done         chan struct{}
	closeOnce    sync.Once
	listenerOnce sync.Once

	logger          zerolog.Logger
	inv             *model.Inventory
	sess            *session
	flows           map[int]*operation
	nextRequestCode int
	debug           bool
}

// New creates a client and starts its sequencing goroutine.
func New(opts Options) (*Client, error) {
	if opts.Backend == nil {
		return nil, errors.New("billing: backend is required")
	}
	if opts.Launcher == nil {
		return nil, errors.New("billing: flow launcher is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("billing: notifier is required")
	}
	if opts.Verifier == nil {
		opts.Verifier = AcceptAllPayloads
	}
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}
	base = base.With().Str("component", "billing").Logger()
	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}

	c := &Client{
		backend:         opts.Backend,
		launcher:        opts.Launcher,
		notifier:        opts.Notifier,
		keys:            opts.Keys,
		verifier:        opts.Verifier,
		baseLog:         base,
		logger:          base.Level(level),
		tasks:           make(chan func()),
		quit:            make(chan struct{}),
		done:            make(chan struct{}),
		flows:           make(map[int]*operation),
		nextRequestCode: FirstRequestCode,
		debug:           opts.Debug,
	}
	go c.loop()
	return c, nil
}

func (c *Client) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.tasks:
			fn()
		case <-c.quit:
			return
		}
	}
}

// call runs fn on the sequencing goroutine and waits for it. It returns false if the client is closed.
func (c *Client) call(fn func()) bool {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case c.tasks <- task:
	case <-c.done:
		return false
	}
	<-finished
	return true
}

// dispatch runs a request on the sequencing goroutine. fn reports whether the
// request was accepted; a rejected request has already notified its callback id.
// The error is ErrClosed once the client is closed.
func (c *Client) dispatch(fn func() bool) (bool, error) {
	accepted := false
	if !c.call(func() { accepted = fn() }) {
		return false, ErrClosed
	}
	return accepted, nil
}

// post queues fn on the sequencing goroutine without waiting for it.
func (c *Client) post(fn func()) {
	select {
	case c.tasks <- fn:
	case <-c.done:
	}
}

// Close disposes the session and stops the sequencing goroutine.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.call(c.disposeSession)
		close(c.quit)
		<-c.done
	})
}

// begin occupies the session's pending slot.
func (c *Client) begin(sess *session, kind opKind, callbackID int) *operation {
	op := &operation{kind: kind, callbackID: callbackID, sess: sess, started: time.Now()}
	sess.pending = op
	metrics.PendingOperation.Set(1)
	return op
}

func (c *Client) release(op *operation) {
	if op.sess.pending == op {
		op.sess.pending = nil
	}
	if c.sess == nil || c.sess.pending == nil {
		metrics.PendingOperation.Set(0)
	}
	if op.requestCode != 0 && c.flows[op.requestCode] == op {
		delete(c.flows, op.requestCode)
	}
}

// complete releases the slot and delivers the single completion of op.
func (c *Client) complete(op *operation, result json.RawMessage, err error) {
	c.release(op)
	metrics.OperationDuration.WithLabelValues(string(op.kind)).Observe(time.Since(op.started).Seconds())

	if op.done != nil {
		metrics.OperationsTotal.WithLabelValues(string(op.kind), outcome(err)).Inc()
		op.done <- err
		return
	}
	if err != nil {
		c.fail(op.kind, op.callbackID, err)
		return
	}
	c.succeed(op.kind, op.callbackID, result)
}

func (c *Client) fail(kind opKind, callbackID int, err error) {
	metrics.OperationsTotal.WithLabelValues(string(kind), outcome(err)).Inc()
	c.logger.Debug().Str("operation", string(kind)).Int("callback_id", callbackID).Err(err).Msg("Request failed")
	c.notifier.Notify(notify.Failure(callbackID, err.Error()))
}

func (c *Client) succeed(kind opKind, callbackID int, result json.RawMessage) {
	metrics.OperationsTotal.WithLabelValues(string(kind), outcome(nil)).Inc()
	c.notifier.Notify(notify.Success(callbackID, result))
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(kindOf(err))
}

// disposeSession tears down the current session. In-flight completions of the
// disposed session report ErrDisposed when they arrive.
func (c *Client) disposeSession() {
	if c.sess == nil {
		return
	}
	c.logger.Debug().Msg("Destroying helper.")
	c.sess.disposed.Store(true)
	c.sess.cancel()
	c.backend.Dispose()
	c.sess = nil
	metrics.PendingOperation.Set(0)
}

func (c *Client) registerListener() {
	c.listenerOnce.Do(func() {
		c.launcher.SetResultListener(c.HandleActivityResult)
	})
}

func (c *Client) updateGauges() {
	if c.inv == nil {
		return
	}
	products, purchases := c.inv.Counts()
	metrics.CachedItems.WithLabelValues("products").Set(float64(products))
	metrics.CachedItems.WithLabelValues("purchases").Set(float64(purchases))
}

// checkSession fails unless a session finished setup.
func (c *Client) checkSession() error {
	if c.sess == nil || !c.sess.ready || c.sess.isDisposed() {
		return ErrNotInitialized
	}
	return nil
}

// checkInitialized fails unless a session is ready and the inventory was populated.
func (c *Client) checkInitialized() error {
	if err := c.checkSession(); err != nil {
		return err
	}
	if c.inv == nil {
		return ErrNotInitialized
	}
	return nil
}

func (c *Client) checkFree(kind opKind) error {
	if c.sess.pending != nil {
		metrics.BusyRejectionsTotal.WithLabelValues(string(kind)).Inc()
		return ErrBusy
	}
	return nil
}

// Stats is a point-in-time view of the client.
type Stats struct {
	Initialized bool     `json:"initialized"`
	SessionOpen bool     `json:"session_open"`
	Pending     string   `json:"pending,omitempty"`
	Products    int      `json:"products"`
	Purchases   int      `json:"purchases"`
	Owned       []string `json:"owned,omitempty"`
	OpenFlows   int      `json:"open_flows"`
	Debug       bool     `json:"debug"`
}

// Stats returns the current state of the client.
func (c *Client) Stats() Stats {
	var st Stats
	c.call(func() {
		st.Initialized = c.inv != nil
		st.SessionOpen = c.sess != nil && c.sess.ready
		if c.sess != nil && c.sess.pending != nil {
			st.Pending = string(c.sess.pending.kind)
		}
		if c.inv != nil {
			st.Products, st.Purchases = c.inv.Counts()
			st.Owned = c.inv.OwnedSKUs("")
		}
		st.OpenFlows = len(c.flows)
		st.Debug = c.debug
	})
	return st
}
