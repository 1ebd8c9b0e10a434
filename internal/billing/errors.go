package billing

import (
	"fmt"

	"iap-entitlement-api/internal/backend"
)

// Kind classifies billing errors.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindNotInitialized Kind = "not_initialized"
	KindBusy           Kind = "busy"
	KindBackend        Kind = "backend"
	KindAuthenticity   Kind = "authenticity"
	KindDisposed       Kind = "disposed"
	KindNotOwned       Kind = "not_owned"
	KindUnsupported    Kind = "unsupported"
	KindSerialization  Kind = "serialization"
)

// Error is the single error type surfaced through the completion channel.
type Error struct {
	Kind    Kind
	Code    int // backend response code, KindBackend only
	Message string
}

func (e *Error) Error() string {
	if e.Kind == KindBackend {
		return fmt.Sprintf("%d|%s", e.Code, e.Message)
	}
	return e.Message
}

// Is matches billing errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel errors for errors.Is checks.
var (
	ErrConfiguration  = &Error{Kind: KindConfiguration, Message: "billing verification key is not configured"}
	ErrNotInitialized = &Error{Kind: KindNotInitialized, Message: "Billing plugin was not initialized"}
	ErrBusy           = &Error{Kind: KindBusy, Message: "Another async operation in progress!"}
	ErrBackend        = &Error{Kind: KindBackend}
	ErrAuthenticity   = &Error{Kind: KindAuthenticity, Message: "Error purchasing. Authenticity verification failed."}
	ErrDisposed       = &Error{Kind: KindDisposed, Message: "The billing helper has been disposed"}
	ErrNotOwned       = &Error{Kind: KindNotOwned}
	ErrUnsupported    = &Error{Kind: KindUnsupported, Message: "Subscriptions not supported on your device yet. Sorry!"}
	ErrSerialization  = &Error{Kind: KindSerialization}
)

func configurationError(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg}
}

func backendError(prefix string, r backend.Result) *Error {
	return &Error{Kind: KindBackend, Code: r.Response, Message: prefix + r.String()}
}

func notOwnedError(sku string) *Error {
	return &Error{Kind: KindNotOwned, Message: sku + " is not owned so it cannot be consumed"}
}

func serializationError(msg string) *Error {
	return &Error{Kind: KindSerialization, Message: msg}
}

// kindOf returns the error kind, or "" for nil.
func kindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindSerialization
}
