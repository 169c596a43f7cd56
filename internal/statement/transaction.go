package statement

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Transaction is one outgoing (debit) entry extracted from a statement.
type Transaction struct {
	Date      string  `json:"date"`   // DD/MM/YYYY
	Amount    float64 `json:"amount"` // positive, in the statement's currency unit
	Recipient string  `json:"recipient"`
}

// key identifies a transaction for deduplication. Amounts are normalized to
// two decimals so 12.5 and 12.50 collapse to one identity.
func (t Transaction) key() string {
	return fmt.Sprintf("%s|%.2f|%s", t.Date, t.Amount, t.Recipient)
}

// transactionSchema is the shape a candidate record must satisfy to survive
// aggregation.
var transactionSchema = jsonschema.MustCompileString("transaction.json", `{
	"type": "object",
	"required": ["date", "amount", "recipient"],
	"properties": {
		"date": {"type": "string", "pattern": "^[0-9]{2}/[0-9]{2}/[0-9]{4}$"},
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"recipient": {"type": "string", "minLength": 1}
	}
}`)

func (t Transaction) valid() bool {
	doc := map[string]any{
		"date":      t.Date,
		"amount":    t.Amount,
		"recipient": t.Recipient,
	}
	return transactionSchema.Validate(doc) == nil
}
