package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/shopspring/decimal"
)

// AddressActivityType is the only envelope type accepted by the strict shape
const AddressActivityType = "ADDRESS_ACTIVITY"

// defaultRawDecimals applies when rawContract omits decimals (native coin precision)
const defaultRawDecimals = 18

// Amount decodes a JSON number literal straight into a decimal.
// Quoted strings are rejected so a numeric field cannot be smuggled in as text.
type Amount struct {
	decimal.Decimal
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == '"' || bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) {
		return &json.UnmarshalTypeError{Value: "non-number", Type: reflect.TypeOf(decimal.Decimal{})}
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("parse amount: %w", err)
	}
	a.Decimal = d
	return nil
}

// addressActivityEnvelope is the strict webhook shape (selected when "type" is present)
type addressActivityEnvelope struct {
	WebhookID string `json:"webhookId" validate:"required"`
	ID        string `json:"id" validate:"required"`
	CreatedAt string `json:"createdAt" validate:"required"`
	Type      string `json:"type" validate:"required,eq=ADDRESS_ACTIVITY"`
	Event     struct {
		Network  string            `json:"network"`
		Activity []json.RawMessage `json:"activity" validate:"required"`
	} `json:"event"`
}

type strictActivity struct {
	Hash        string       `json:"hash" validate:"required"`
	FromAddress string       `json:"fromAddress" validate:"required"`
	ToAddress   string       `json:"toAddress" validate:"required"`
	Value       *Amount      `json:"value" validate:"required"`
	Asset       string       `json:"asset" validate:"required"`
	RawContract *rawContract `json:"rawContract"`
}

// legacyEnvelope is the loose activity list accepted when no envelope type is sent
type legacyEnvelope struct {
	WebhookID string `json:"webhookId"`
	ID        string `json:"id"`
	Event     *struct {
		Activity []json.RawMessage `json:"activity"`
	} `json:"event"`
}

type legacyActivity struct {
	Hash        string       `json:"hash"`
	FromAddress string       `json:"fromAddress"`
	ToAddress   string       `json:"toAddress"`
	Value       *Amount      `json:"value"`
	Asset       string       `json:"asset"`
	RawContract *rawContract `json:"rawContract"`
}

type rawContract struct {
	RawValue *string `json:"rawValue"`
	Decimals *int32  `json:"decimals"`
}
