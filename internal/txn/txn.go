// Package txn defines the transaction and prediction record types shared by
// the feature projector, the prediction stores and the HTTP layer.
package txn

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single financial movement between two accounts as
// submitted for scoring. It carries no identity of its own.
type Transaction struct {
	TimeIndex                int64           `json:"time_ind" db:"time_ind"`
	Type                     string          `json:"transac_type" db:"transac_type"`
	Amount                   decimal.Decimal `json:"amount" db:"amount"`
	SourceAccount            string          `json:"src_acc" db:"src_acc"`
	SourceBalanceBefore      decimal.Decimal `json:"src_bal" db:"src_bal"`
	SourceBalanceAfter       decimal.Decimal `json:"src_new_bal" db:"src_new_bal"`
	DestinationAccount       string          `json:"dst_acc" db:"dst_acc"`
	DestinationBalanceBefore decimal.Decimal `json:"dst_bal" db:"dst_bal"`
	DestinationBalanceAfter  decimal.Decimal `json:"dst_new_bal" db:"dst_new_bal"`
}

// transactionJSON is the wire form of a Transaction. Money fields are written
// as JSON numbers regardless of decimal.MarshalJSONWithoutQuotes.
type transactionJSON struct {
	TimeIndex                int64       `json:"time_ind"`
	Type                     string      `json:"transac_type"`
	Amount                   json.Number `json:"amount"`
	SourceAccount            string      `json:"src_acc"`
	SourceBalanceBefore      json.Number `json:"src_bal"`
	SourceBalanceAfter       json.Number `json:"src_new_bal"`
	DestinationAccount       string      `json:"dst_acc"`
	DestinationBalanceBefore json.Number `json:"dst_bal"`
	DestinationBalanceAfter  json.Number `json:"dst_new_bal"`
}

func (t Transaction) wire() transactionJSON {
	return transactionJSON{
		TimeIndex:                t.TimeIndex,
		Type:                     t.Type,
		Amount:                   json.Number(t.Amount.String()),
		SourceAccount:            t.SourceAccount,
		SourceBalanceBefore:      json.Number(t.SourceBalanceBefore.String()),
		SourceBalanceAfter:       json.Number(t.SourceBalanceAfter.String()),
		DestinationAccount:       t.DestinationAccount,
		DestinationBalanceBefore: json.Number(t.DestinationBalanceBefore.String()),
		DestinationBalanceAfter:  json.Number(t.DestinationBalanceAfter.String()),
	}
}

// MarshalJSON implements json.Marshaler.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.wire())
}

// Record is a persisted prediction. ID and PredictedAt are assigned by the
// store on insert and are never taken from the caller.
type Record struct {
	Transaction
	ID          int64     `json:"id" db:"id"`
	IsFraud     bool      `json:"is_fraud" db:"is_fraud"`
	PredictedAt time.Time `json:"predicted_at" db:"predicted_at"`
}

// MarshalJSON implements json.Marshaler. Without it the embedded
// Transaction's encoder is promoted and the record fields are lost.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		transactionJSON
		ID          int64     `json:"id"`
		IsFraud     bool      `json:"is_fraud"`
		PredictedAt time.Time `json:"predicted_at"`
	}{r.Transaction.wire(), r.ID, r.IsFraud, r.PredictedAt})
}

// Prediction is the boundary view of a scored transaction.
type Prediction struct {
	Transaction    Transaction `json:"transaction"`
	PredictedFraud bool        `json:"predicted_fraud"`
}

// Prediction returns the boundary view of the record.
func (r Record) Prediction() Prediction {
	return Prediction{Transaction: r.Transaction, PredictedFraud: r.IsFraud}
}

// Equal reports whether two transactions carry the same values. Decimal
// fields are compared numerically, so 5000 and 5000.0 are equal.
func (t Transaction) Equal(o Transaction) bool {
	return t.TimeIndex == o.TimeIndex &&
		t.Type == o.Type &&
		t.Amount.Equal(o.Amount) &&
		t.SourceAccount == o.SourceAccount &&
		t.SourceBalanceBefore.Equal(o.SourceBalanceBefore) &&
		t.SourceBalanceAfter.Equal(o.SourceBalanceAfter) &&
		t.DestinationAccount == o.DestinationAccount &&
		t.DestinationBalanceBefore.Equal(o.DestinationBalanceBefore) &&
		t.DestinationBalanceAfter.Equal(o.DestinationBalanceAfter)
}
