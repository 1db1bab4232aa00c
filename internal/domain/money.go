package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of fractional digits every amount and balance carries.
const MoneyPlaces = 2

// FormatMoney renders d with exactly MoneyPlaces fractional digits, e.g. "400.00".
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// The marshallers below only replace the money field; the outer field shadows
// the embedded one of the same JSON name. Decoding keeps the default behaviour.

func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account
	return json.Marshal(struct {
		plain
		Balance string `json:"balance"`
	}{plain(a), FormatMoney(a.Balance)})
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(t), FormatMoney(t.Amount)})
}

// MarshalJSON is required here: otherwise the promoted Transaction marshaller
// would drop direction and counterparty.
func (i TransactionHistoryItem) MarshalJSON() ([]byte, error) {
	type plain Transaction
	return json.Marshal(struct {
		plain
		Amount       string       `json:"amount"`
		Direction    string       `json:"direction"`
		Counterparty Counterparty `json:"counterparty"`
	}{plain(i.Transaction), FormatMoney(i.Amount), i.Direction, i.Counterparty})
}

func (e TransferCompletedEvent) MarshalJSON() ([]byte, error) {
	type plain TransferCompletedEvent
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(e), FormatMoney(e.Amount)})
}

func (p MoneySentPayload) MarshalJSON() ([]byte, error) {
	type plain MoneySentPayload
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(p), FormatMoney(p.Amount)})
}

func (p MoneyReceivedPayload) MarshalJSON() ([]byte, error) {
	type plain MoneyReceivedPayload
	return json.Marshal(struct {
		plain
		Amount string `json:"amount"`
	}{plain(p), FormatMoney(p.Amount)})
}
