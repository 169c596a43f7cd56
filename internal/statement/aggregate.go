package statement

// Summary reports the aggregator's counters: raw candidates, survivors of
// validation, and the final deduplicated list.
type Summary struct {
	Total     int `json:"total_transactions"`
	Validated int `json:"validated_transactions"`
	Final     int `json:"final_transactions"`
}

// Aggregate concatenates per-chunk results in processing order, drops
// records that fail schema validation, and deduplicates the rest.
func Aggregate(chunkResults [][]Transaction) ([]Transaction, Summary) {
	var all []Transaction
	for _, transactions := range chunkResults {
		all = append(all, transactions...)
	}

	validated := make([]Transaction, 0, len(all))
	for _, t := range all {
		if t.valid() {
			validated = append(validated, t)
		}
	}

	final := dedup(validated)
	return final, Summary{
		Total:     len(all),
		Validated: len(validated),
		Final:     len(final),
	}
}

// dedup keeps the first occurrence of each (date, amount, recipient)
// identity, preserving order. Running it twice is a no-op.
func dedup(transactions []Transaction) []Transaction {
	seen := make(map[string]struct{}, len(transactions))
	out := make([]Transaction, 0, len(transactions))
	for _, t := range transactions {
		k := t.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
