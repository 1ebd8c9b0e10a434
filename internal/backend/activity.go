package backend

import (
	"iap-entitlement-api/internal/model"
)

// Activity result codes reported by the platform.
const (
	ActivityResultOK       = -1
	ActivityResultCanceled = 0
)

// ActivityResult is the platform's answer to a launched purchase flow.
type ActivityResult struct {
	RequestCode   int    `json:"request_code"`
	ResultCode    int    `json:"result_code"`
	ResponseCode  int    `json:"response_code"`
	PurchaseData  string `json:"purchase_data"`
	DataSignature string `json:"data_signature"`
}

// ParseActivityResult turns an activity result into a purchase.
// Failures are returned as *ResultError.
func ParseActivityResult(itemType string, r ActivityResult) (model.Purchase, error) {
	switch {
	case r.ResultCode == ActivityResultOK && r.ResponseCode == ResponseOK:
		if r.PurchaseData == "" || r.DataSignature == "" {
			return model.Purchase{}, Fail(HelperUnknownError, "IAB returned null purchaseData or dataSignature")
		}
		p, err := model.ParsePurchase(itemType, r.PurchaseData, r.DataSignature)
		if err != nil {
			return model.Purchase{}, Fail(HelperBadResponse, "Failed to parse purchase data.")
		}
		return p, nil
	case r.ResultCode == ActivityResultOK:
		return model.Purchase{}, Fail(r.ResponseCode, "Problem purchasing item.")
	case r.ResultCode == ActivityResultCanceled:
		return model.Purchase{}, Fail(HelperUserCancelled, "User canceled.")
	default:
		return model.Purchase{}, Fail(HelperUnknownPurchaseResult, "Unknown purchase response.")
	}
}
