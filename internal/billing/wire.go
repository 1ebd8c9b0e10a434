package billing

import (
	"encoding/json"

	"iap-entitlement-api/internal/model"
)

// PurchaseRecord renders a purchase as its original backend fields plus
// "signature" and "receipt", where receipt repeats the raw payload as a string.
func PurchaseRecord(p model.Purchase) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(p.OriginalJSON), &fields); err != nil || fields == nil {
		return nil, serializationError("Could not create JSON object from purchase object")
	}

	signature, err := json.Marshal(p.Signature)
	if err != nil {
		return nil, serializationError("Could not create JSON object from purchase object")
	}
	receipt, err := json.Marshal(p.OriginalJSON)
	if err != nil {
		return nil, serializationError("Could not create JSON object from purchase object")
	}
	fields["signature"] = signature
	fields["receipt"] = receipt

	out, err := json.Marshal(fields)
	if err != nil {
		return nil, serializationError("Could not create JSON object from purchase object")
	}
	return out, nil
}

// PurchaseRecords renders purchases as a JSON array. An empty slice renders as [].
func PurchaseRecords(purchases []model.Purchase) (json.RawMessage, error) {
	records := make([]json.RawMessage, 0, len(purchases))
	for _, p := range purchases {
		rec, err := PurchaseRecord(p)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	out, err := json.Marshal(records)
	if err != nil {
		return nil, serializationError(err.Error())
	}
	return out, nil
}

// ProductRecords renders products as a JSON array. An empty slice renders as [].
func ProductRecords(products []model.Product) (json.RawMessage, error) {
	if products == nil {
		products = []model.Product{}
	}
	out, err := json.Marshal(products)
	if err != nil {
		return nil, serializationError(err.Error())
	}
	return out, nil
}
