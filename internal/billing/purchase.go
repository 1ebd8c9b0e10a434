package billing

import (
	"iap-entitlement-api/internal/backend"
	"iap-entitlement-api/internal/model"
	"iap-entitlement-api/pkg/uid"
)

// Buy launches the purchase flow of a one-time product. The completion carries the
// purchase record once the flow returns through HandleActivityResult.
func (c *Client) Buy(callbackID int, sku, developerPayload string) (bool, error) {
	return c.launch(opPurchase, callbackID, sku, model.ItemTypeInApp, nil, developerPayload)
}

// Subscribe launches the purchase flow of a subscription. oldSKUs names
// subscriptions the new one replaces.
func (c *Client) Subscribe(callbackID int, sku, developerPayload string, oldSKUs []string) (bool, error) {
	return c.launch(opSubscribe, callbackID, sku, model.ItemTypeSubs, append([]string(nil), oldSKUs...), developerPayload)
}

func (c *Client) launch(kind opKind, callbackID int, sku, itemType string, oldSKUs []string, payload string) (bool, error) {
	return c.dispatch(func() bool {
		if err := c.checkInitialized(); err != nil {
			c.fail(kind, callbackID, err)
			return false
		}
		if itemType == model.ItemTypeSubs && !c.backend.SubscriptionsSupported() {
			c.fail(kind, callbackID, ErrUnsupported)
			return false
		}
		if err := c.checkFree(kind); err != nil {
			c.fail(kind, callbackID, err)
			return false
		}

		op := c.begin(c.sess, kind, callbackID)
		op.requestCode = c.nextRequestCode
		c.nextRequestCode++
		op.marker = uid.New()
		op.itemType = itemType
		c.flows[op.requestCode] = op

		req := backend.FlowRequest{
			RequestCode:      op.requestCode,
			Marker:           op.marker,
			SKU:              sku,
			ItemType:         itemType,
			OldSKUs:          oldSKUs,
			DeveloperPayload: payload,
		}
		c.logger.Debug().Str("sku", sku).Str("type", itemType).Int("request_code", req.RequestCode).Msg("Launching purchase flow.")
		go func() {
			if err := c.launcher.LaunchPurchaseFlow(op.sess.ctx, req); err != nil {
				c.post(func() { c.finishLaunchFailure(op, err) })
			}
		}()
		return true
	})
}

func (c *Client) finishLaunchFailure(op *operation, err error) {
	if c.flows[op.requestCode] != op {
		return
	}
	delete(c.flows, op.requestCode)
	if op.sess.isDisposed() {
		c.complete(op, nil, ErrDisposed)
		return
	}
	c.complete(op, nil, backendError("Error purchasing: ", backend.ResultOf(err)))
}

// HandleActivityResult routes a platform activity result to the purchase flow that
// started it. It returns false when no flow of this client owns the request code.
func (c *Client) HandleActivityResult(r backend.ActivityResult) bool {
	handled := false
	if !c.call(func() { handled = c.finishFlow(r) }) {
		return false
	}
	return handled
}

func (c *Client) finishFlow(r backend.ActivityResult) bool {
	op, ok := c.flows[r.RequestCode]
	if !ok {
		c.logger.Debug().Int("request_code", r.RequestCode).Msg("Activity result not handled.")
		return false
	}
	delete(c.flows, r.RequestCode)

	if op.sess.isDisposed() {
		c.complete(op, nil, ErrDisposed)
		return true
	}
	purchase, err := backend.ParseActivityResult(op.itemType, r)
	if err != nil {
		c.complete(op, nil, backendError("Error purchasing: ", backend.ResultOf(err)))
		return true
	}
	if !c.verifier.VerifyDeveloperPayload(purchase) {
		c.complete(op, nil, ErrAuthenticity)
		return true
	}

	if c.inv == nil {
		c.inv = model.NewInventory()
	}
	c.inv.AddPurchase(purchase)
	c.updateGauges()
	c.logger.Debug().Str("sku", purchase.SKU).Str("order_id", purchase.OrderID).Msg("Purchase successful.")

	record, err := PurchaseRecord(purchase)
	c.complete(op, record, err)
	return true
}
