// Package notify implements the uniform completion channel: every billing request
// produces exactly one Notification addressed by the caller's callback id.
package notify

import (
	"encoding/json"
	"time"
)

// Notification is a single completion addressed to a callback id.
// Exactly one of Error and Result is set.
type Notification struct {
	CallbackID  int             `json:"callback_id" bson:"callback_id"`
	Error       *string         `json:"error" bson:"error"`
	Result      json.RawMessage `json:"result" bson:"result"`
	DeliveredAt time.Time       `json:"delivered_at" bson:"delivered_at"`
}

// Failure creates an error notification.
func Failure(callbackID int, msg string) Notification {
	return Notification{CallbackID: callbackID, Error: &msg, DeliveredAt: time.Now().UTC()}
}

// Success creates a result notification. result must be valid JSON.
func Success(callbackID int, result []byte) Notification {
	raw := make(json.RawMessage, len(result))
	copy(raw, result)
	return Notification{CallbackID: callbackID, Result: raw, DeliveredAt: time.Now().UTC()}
}

// OK reports whether the notification carries a result.
func (n Notification) OK() bool {
	return n.Error == nil
}

// Notifier receives completions. Implementations are called from the billing
// client's sequencing goroutine and must not call back into the client.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

// Multi fans a notification out to several notifiers in order.
func Multi(notifiers ...Notifier) Notifier {
	out := make([]Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return NotifierFunc(func(n Notification) {
		for _, target := range out {
			target.Notify(n)
		}
	})
}
