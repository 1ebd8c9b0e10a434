package billing

import (
	"context"
	"encoding/json"
	"fmt"

	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/model"

	"github.com/rs/zerolog"
)

// Initialize opens a new session: it connects to the backend and populates the
// inventory, then notifies {} to callbackID. An empty skus queries all products.
//
// When verifyReceipts is set and no usable key is available, Initialize returns a
// configuration error without notifying; the client cannot be used until a key is configured.
func (c *Client) Initialize(ctx context.Context, callbackID int, skus []string, verifyReceipts bool) (bool, error) {
	var key string
	if verifyReceipts {
		if c.keys == nil {
			return false, ErrConfiguration
		}
		k, err := c.keys.VerificationKey(ctx)
		if err != nil {
			return false, configurationError(fmt.Sprintf("failed to load verification key: %v", err))
		}
		if err := ValidateKey(k); err != nil {
			return false, err
		}
		key = k
	}

	skus = append([]string(nil), skus...)
	accepted := c.call(func() {
		if verifyReceipts {
			c.logger.Debug().Msg("Purchase verification enabled")
		} else {
			c.logger.Warn().Msg("Purchase verification disabled")
		}
		c.startInitialize(callbackID, skus, key)
	})
	if !accepted {
		return false, ErrClosed
	}
	return true, nil
}

func (c *Client) startInitialize(callbackID int, skus []string, key string) {
	c.registerListener()
	c.disposeSession()

	sess := newSession()
	c.sess = sess
	c.backend.SetDebugLogging(c.debug)

	op := c.begin(sess, opInitialize, callbackID)
	c.logger.Debug().Msg("Starting setup.")
	go func() {
		err := c.backend.Connect(sess.ctx, key)
		c.post(func() { c.finishConnect(op, skus, err) })
	}()
}

func (c *Client) finishConnect(op *operation, skus []string, err error) {
	c.logger.Debug().Msg("Setup finished.")
	if op.sess.isDisposed() {
		c.complete(op, nil, ErrDisposed)
		return
	}
	if err != nil {
		c.complete(op, nil, backendError("Problem setting up in-app billing: ", backend.ResultOf(err)))
		return
	}

	op.sess.ready = true
	if len(skus) == 0 {
		c.logger.Debug().Msg("Setup successful. Querying inventory.")
	} else {
		c.logger.Debug().Strs("skus", skus).Msg("Setup successful. Querying inventory w/ SKUs.")
	}
	c.dispatchQuery(op, backend.QueryRequest{Details: true, SKUs: skus})
}

func (c *Client) dispatchQuery(op *operation, req backend.QueryRequest) {
	go func() {
		inv, err := c.backend.QueryInventory(op.sess.ctx, req)
		c.post(func() { c.finishQuery(op, req, inv, err) })
	}()
}

// finishQuery replaces the inventory wholesale on success and leaves it untouched otherwise.
func (c *Client) finishQuery(op *operation, req backend.QueryRequest, inv *model.Inventory, err error) {
	if op.sess.isDisposed() {
		c.complete(op, nil, ErrDisposed)
		return
	}
	if err != nil {
		c.complete(op, nil, backendError("Failed to query inventory: ", backend.ResultOf(err)))
		return
	}
	if inv == nil {
		inv = model.NewInventory()
	}
	c.inv = inv
	c.updateGauges()

	products, purchases := inv.Counts()
	c.logger.Debug().Int("products", products).Int("purchases", purchases).Msg("Query inventory was successful.")

	switch op.kind {
	case opQuery:
		records, err := ProductRecords(filterProducts(inv.Products(), req.SKUs))
		c.complete(op, records, err)
	default:
		c.complete(op, json.RawMessage(`{}`), nil)
	}
}

func filterProducts(products []model.Product, skus []string) []model.Product {
	if len(skus) == 0 {
		return products
	}
	wanted := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		wanted[sku] = struct{}{}
	}
	out := make([]model.Product, 0, len(skus))
	for _, p := range products {
		if _, ok := wanted[p.SKU]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SetDebugLogging toggles verbose logging of the client and the backend.
// It returns false when no session exists.
func (c *Client) SetDebugLogging(enabled bool) bool {
	applied := false
	c.call(func() {
		if c.sess == nil {
			return
		}
		c.debug = enabled
		c.backend.SetDebugLogging(enabled)
		if enabled {
			c.logger = c.baseLog.Level(zerolog.DebugLevel)
		} else {
			c.logger = c.baseLog.Level(zerolog.InfoLevel)
		}
		applied = true
	})
	return applied
}

// GetPurchases notifies the cached purchases as a JSON array. It reports false
// when the request was rejected; the rejection is notified to callbackID.
func (c *Client) GetPurchases(callbackID int) (bool, error) {
	return c.dispatch(func() bool {
		if c.inv == nil {
			c.fail(opGetPurchases, callbackID, ErrNotInitialized)
			return false
		}
		records, err := PurchaseRecords(c.inv.Purchases())
		if err != nil {
			c.fail(opGetPurchases, callbackID, err)
			return false
		}
		c.succeed(opGetPurchases, callbackID, records)
		return true
	})
}

// GetAvailableProducts notifies the cached products as a JSON array.
func (c *Client) GetAvailableProducts(callbackID int) (bool, error) {
	return c.dispatch(func() bool {
		if c.inv == nil {
			c.fail(opGetProducts, callbackID, ErrNotInitialized)
			return false
		}
		records, err := ProductRecords(c.inv.Products())
		if err != nil {
			c.fail(opGetProducts, callbackID, err)
			return false
		}
		c.succeed(opGetProducts, callbackID, records)
		return true
	})
}

// GetProductDetails queries metadata for skus, replaces the cached inventory and
// notifies the matching products.
func (c *Client) GetProductDetails(callbackID int, skus []string) (bool, error) {
	skus = append([]string(nil), skus...)
	return c.dispatch(func() bool {
		if err := c.checkSession(); err != nil {
			c.fail(opQuery, callbackID, err)
			return false
		}
		if err := c.checkFree(opQuery); err != nil {
			c.fail(opQuery, callbackID, err)
			return false
		}
		c.logger.Debug().Strs("skus", skus).Msg("Beginning Sku(s) Query!")
		op := c.begin(c.sess, opQuery, callbackID)
		c.dispatchQuery(op, backend.QueryRequest{Details: true, SKUs: skus})
		return true
	})
}

// ConsumePurchase consumes the cached purchase of sku and notifies its original payload.
func (c *Client) ConsumePurchase(callbackID int, sku string) (bool, error) {
	return c.dispatch(func() bool {
		if err := c.checkInitialized(); err != nil {
			c.fail(opConsume, callbackID, err)
			return false
		}
		if err := c.checkFree(opConsume); err != nil {
			c.fail(opConsume, callbackID, err)
			return false
		}
		purchase, owned := c.inv.Purchase(sku)
		if !owned {
			c.fail(opConsume, callbackID, notOwnedError(sku))
			return false
		}

		op := c.begin(c.sess, opConsume, callbackID)
		go func() {
			err := c.backend.Consume(op.sess.ctx, purchase)
			c.post(func() { c.finishConsume(op, purchase, err) })
		}()
		return true
	})
}

func (c *Client) finishConsume(op *operation, purchase model.Purchase, err error) {
	c.logger.Debug().Str("sku", purchase.SKU).Msg("Consumption finished.")
	if op.sess.isDisposed() {
		c.complete(op, nil, ErrDisposed)
		return
	}
	if err != nil {
		c.complete(op, nil, backendError("Error while consuming: ", backend.ResultOf(err)))
		return
	}

	c.inv.ErasePurchase(purchase.SKU)
	c.updateGauges()
	c.logger.Debug().Str("sku", purchase.SKU).Msg("Consumption successful.")

	if !json.Valid([]byte(purchase.OriginalJSON)) {
		c.complete(op, nil, serializationError("Could not create JSON object from purchase object"))
		return
	}
	c.complete(op, json.RawMessage(purchase.OriginalJSON), nil)
}

// Refresh re-queries the full inventory when the gate is free and waits for the result.
// It returns ErrBusy without waiting when another operation is in flight.
func (c *Client) Refresh(ctx context.Context) error {
	done := make(chan error, 1)
	var startErr error
	if !c.call(func() {
		if err := c.checkSession(); err != nil {
			startErr = err
			return
		}
		if c.sess.pending != nil {
			startErr = ErrBusy
			return
		}
		op := c.begin(c.sess, opRefresh, 0)
		op.done = done
		c.dispatchQuery(op, backend.QueryRequest{Details: true})
	}) {
		return ErrClosed
	}
	if startErr != nil {
		return startErr
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Teardown disposes the current session. Completions still in flight report
// "The billing helper has been disposed"; the cached inventory is kept.
func (c *Client) Teardown() bool {
	return c.call(c.disposeSession)
}
