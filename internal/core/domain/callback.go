package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

const (
	ResultCodeSuccess         = "0"
	ResultCodeCancelledByUser = "1032"
)

// ProviderTimeLayout is the provider's timestamp format (YYYYMMDDHHmmss).
const ProviderTimeLayout = "20060102150405"

// EAT is the provider's wall clock (East Africa Time, no DST).
var EAT = time.FixedZone("EAT", 3*60*60)

// STKCallbackEnvelope is the webhook body posted by the provider.
type STKCallbackEnvelope struct {
	Body struct {
		STKCallback *STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

// STKCallback carries the outcome of one push request.
type STKCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *ResultCode       `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// ResultCode accepts both numeric and string encodings.
type ResultCode string

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ResultCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = ResultCode(n.String())
	return nil
}

// CallbackMetadata is the provider's unordered name/value list.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem is one entry. Value may be a number, a string or absent.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Lookup returns the textual value of the named item. Names match case-insensitively.
func (m *CallbackMetadata) Lookup(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, item := range m.Item {
		if !strings.EqualFold(item.Name, name) {
			continue
		}
		raw := bytes.TrimSpace(item.Value)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return "", false
		}
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return "", false
			}
			return s, true
		}
		return string(raw), true
	}
	return "", false
}

// StatusForResultCode maps a final provider result code to a terminal status.
func StatusForResultCode(code string) TransactionStatus {
	switch code {
	case ResultCodeSuccess:
		return TransactionStatusCompleted
	case ResultCodeCancelledByUser:
		return TransactionStatusCancelled
	default:
		return TransactionStatusFailed
	}
}
