package order

import (
	"encoding/json"
	"fmt"
)

// Decode unmarshals raw into the order family named by kind.
func Decode(kind Kind, raw json.RawMessage) (Order, error) {
	var (
		o   Order
		err error
	)
	switch kind {
	case KindSingle:
		var v Single
		err = json.Unmarshal(raw, &v)
		o = v
	case KindDivisibleSeller:
		var v DivisibleSeller
		err = json.Unmarshal(raw, &v)
		o = v
	case KindDivisibleBuyer:
		var v DivisibleBuyer
		err = json.Unmarshal(raw, &v)
		o = v
	case KindBookSeller:
		var v BookSeller
		err = json.Unmarshal(raw, &v)
		o = v
	case KindBookBuyer:
		var v BookBuyer
		err = json.Unmarshal(raw, &v)
		o = v
	default:
		return nil, fmt.Errorf("unknown order kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s order: %w", kind, err)
	}
	return o, nil
}
