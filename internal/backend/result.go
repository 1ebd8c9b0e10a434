package backend

import (
	"errors"
	"fmt"
)

// Billing response codes.
const (
	ResponseOK                 = 0
	ResponseUserCanceled       = 1
	ResponseServiceUnavailable = 2
	ResponseBillingUnavailable = 3
	ResponseItemUnavailable    = 4
	ResponseDeveloperError     = 5
	ResponseError              = 6
	ResponseItemAlreadyOwned   = 7
	ResponseItemNotOwned       = 8
)

// Helper response codes for failures that happen on the client side.
const (
	HelperRemoteException       = -1001
	HelperBadResponse           = -1002
	HelperVerificationFailed    = -1003
	HelperSendIntentFailed      = -1004
	HelperUserCancelled         = -1005
	HelperUnknownPurchaseResult = -1006
	HelperMissingToken          = -1007
	HelperUnknownError          = -1008
	HelperSubscriptionsNotAvail = -1009
	HelperInvalidConsumption    = -1010
	HelperSubscriptionUpdate    = -1011
)

var responseDescriptions = []string{
	"0:OK",
	"1:User Canceled",
	"2:Unknown",
	"3:Billing Unavailable",
	"4:Item unavailable",
	"5:Developer Error",
	"6:Error",
	"7:Item Already Owned",
	"8:Item not owned",
}

var helperDescriptions = []string{
	"0:OK",
	"-1001:Remote exception during initialization",
	"-1002:Bad response received",
	"-1003:Purchase signature verification failed",
	"-1004:Send intent failed",
	"-1005:User cancelled",
	"-1006:Unknown purchase response",
	"-1007:Missing token",
	"-1008:Unknown error",
	"-1009:Subscriptions not available",
	"-1010:Invalid consumption attempt",
	"-1011:Subscription update not available",
}

// ResponseDesc returns a human-readable description for a response code.
func ResponseDesc(code int) string {
	if code <= -1000 {
		index := -1000 - code
		if index >= 0 && index < len(helperDescriptions) {
			return helperDescriptions[index]
		}
		return fmt.Sprintf("%d:Unknown IAB Helper Error", code)
	}
	if code < 0 || code >= len(responseDescriptions) {
		return fmt.Sprintf("%d:Unknown", code)
	}
	return responseDescriptions[code]
}

// Result is the outcome of a backend operation.
type Result struct {
	Response int
	Message  string
}

// NewResult creates a Result, deriving the message from the code when msg is empty.
func NewResult(response int, msg string) Result {
	if msg == "" {
		msg = ResponseDesc(response)
	} else {
		msg = msg + " (response: " + ResponseDesc(response) + ")"
	}
	return Result{Response: response, Message: msg}
}

// IsSuccess reports whether the result represents success.
func (r Result) IsSuccess() bool { return r.Response == ResponseOK }

// IsFailure reports whether the result represents failure.
func (r Result) IsFailure() bool { return !r.IsSuccess() }

func (r Result) String() string {
	return "IabResult: " + r.Message
}

// ResultError is returned by backends for failed operations.
type ResultError struct {
	Result Result
}

// Fail creates a ResultError with the given code and message.
func Fail(response int, msg string) *ResultError {
	return &ResultError{Result: NewResult(response, msg)}
}

func (e *ResultError) Error() string {
	return e.Result.String()
}

// ResultOf converts an error returned by a backend into a Result.
// A nil error is success; errors that are not ResultErrors map to HelperUnknownError.
func ResultOf(err error) Result {
	if err == nil {
		return NewResult(ResponseOK, "")
	}
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result
	}
	return NewResult(HelperUnknownError, err.Error())
}
