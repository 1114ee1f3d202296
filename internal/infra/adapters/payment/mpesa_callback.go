package payment

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"hotspot-billing/internal/domain"
	"hotspot-billing/internal/domain/ports/adapter"
)

// StkCallback is the Daraja webhook body. The simulator emits the same shape.
type StkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []CallbackItem `json:"Item"`
			} `json:"CallbackMetadata,omitempty"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackItem values are numbers or strings depending on the field.
type CallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

func (g *MpesaGateway) ParseCallback(raw []byte) (adapter.CallbackResult, error) {
	return ParseStkCallback(raw)
}

// ParseStkCallback validates and normalizes a Daraja STK callback. Amount is
// converted from shillings to minor units.
func ParseStkCallback(raw []byte) (adapter.CallbackResult, error) {
	var cb StkCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return adapter.CallbackResult{}, fmt.Errorf("%w: callback body: %v", domain.ErrInvalidArgument, err)
	}
	s := cb.Body.StkCallback
	if strings.TrimSpace(s.CheckoutRequestID) == "" {
		return adapter.CallbackResult{}, fmt.Errorf("%w: callback without CheckoutRequestID", domain.ErrInvalidArgument)
	}

	res := adapter.CallbackResult{
		CorrelationID: s.CheckoutRequestID,
		Success:       s.ResultCode == 0,
		ResultCode:    s.ResultCode,
		ResultDesc:    s.ResultDesc,
	}
	if s.CallbackMetadata == nil {
		return res, nil
	}
	for _, it := range s.CallbackMetadata.Item {
		v := itemString(it.Value)
		switch it.Name {
		case "MpesaReceiptNumber":
			res.Receipt = v
		case "PhoneNumber":
			res.Phone = v
		case "Amount":
			amt, err := shillingsToMinor(v)
			if err != nil {
				return adapter.CallbackResult{}, err
			}
			res.Amount = amt
		}
	}
	return res, nil
}

func itemString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func shillingsToMinor(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: callback amount %q", domain.ErrInvalidArgument, v)
	}
	return int64(math.Round(f * 100)), nil
}

// NewStkCallback builds a callback body; used by the simulator.
func NewStkCallback(merchantRequestID, checkoutRequestID string, code int, desc string, items ...CallbackItem) ([]byte, error) {
	var cb StkCallback
	s := &cb.Body.StkCallback
	s.MerchantRequestID = merchantRequestID
	s.CheckoutRequestID = checkoutRequestID
	s.ResultCode = code
	s.ResultDesc = desc
	if len(items) > 0 {
		s.CallbackMetadata = &struct {
			Item []CallbackItem `json:"Item"`
		}{Item: items}
	}
	return json.Marshal(cb)
}

// Item builds a metadata entry from a string or number.
func Item(name string, value any) CallbackItem {
	b, _ := json.Marshal(value)
	return CallbackItem{Name: name, Value: b}
}
