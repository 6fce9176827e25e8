package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successPayload = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Amount", "Value": 1.00},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestSTKCallbackEnvelope_Decode(t *testing.T) {
	var env STKCallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successPayload), &env))

	cb := env.Body.STKCallback
	require.NotNil(t, cb)
	require.NotNil(t, cb.ResultCode)
	assert.Equal(t, ResultCode("0"), *cb.ResultCode)
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)

	receipt, ok := cb.CallbackMetadata.Lookup("MpesaReceiptNumber")
	assert.True(t, ok)
	assert.Equal(t, "NLJ7RT61SV", receipt)

	amount, ok := cb.CallbackMetadata.Lookup("amount")
	assert.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "1.00", amount)

	phone, ok := cb.CallbackMetadata.Lookup("PhoneNumber")
	assert.True(t, ok)
	assert.Equal(t, "254708374149", phone)

	_, ok = cb.CallbackMetadata.Lookup("Balance")
	assert.False(t, ok, "items without a value are absent")

	_, ok = cb.CallbackMetadata.Lookup("Missing")
	assert.False(t, ok)
}

func TestResultCode_StringEncoding(t *testing.T) {
	var cb STKCallback
	require.NoError(t, json.Unmarshal([]byte(`{"ResultCode":"1032"}`), &cb))
	assert.Equal(t, ResultCode("1032"), *cb.ResultCode)
}

func TestCallbackMetadata_NilLookup(t *testing.T) {
	var m *CallbackMetadata
	_, ok := m.Lookup("Amount")
	assert.False(t, ok)
}

func TestStatusForResultCode(t *testing.T) {
	assert.Equal(t, TransactionStatusCompleted, StatusForResultCode("0"))
	assert.Equal(t, TransactionStatusCancelled, StatusForResultCode("1032"))
	assert.Equal(t, TransactionStatusFailed, StatusForResultCode("1"))
	assert.Equal(t, TransactionStatusFailed, StatusForResultCode("2001"))
}
