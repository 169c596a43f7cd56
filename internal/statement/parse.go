package statement

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// parseStrategy turns free-form model output into candidate transactions.
// Strategies are tried in order; the first success wins.
type parseStrategy func(string) ([]Transaction, error)

var parseStrategies = []parseStrategy{parseArray, parseObjects}

// ParseTransactions extracts candidate transactions from a chunk's response
// text. A response that defeats every strategy yields an empty list rather
// than an error; parse failures are never fatal to the pipeline.
func ParseTransactions(text string, logger *slog.Logger) []Transaction {
	if logger == nil {
		logger = slog.Default()
	}
	text = stripFences(text)
	for _, strategy := range parseStrategies {
		if transactions, err := strategy(text); err == nil {
			return transactions
		}
	}
	logger.Warn("No transactions parsed from response", "length", len(text))
	return []Transaction{}
}

// stripFences removes markdown code blocks the model sometimes adds despite
// instructions.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// parseArray locates the outermost [...] span and decodes it. A span whose
// closing bracket is missing, or that fails to decode as written, is
// repaired by trimming to the last complete element and re-closing.
func parseArray(text string) ([]Transaction, error) {
	start := strings.Index(text, "[")
	if start == -1 {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	end := strings.LastIndex(text, "]")

	var span string
	if end > start {
		span = text[start : end+1]
	} else {
		span = repairArray(text[start:])
	}

	transactions, err := decodeArray(span)
	if err != nil && end > start {
		transactions, err = decodeArray(repairArray(text[start:]))
	}
	return transactions, err
}

// repairArray trims a truncated array to its last complete element and
// closes it.
func repairArray(span string) string {
	last := strings.LastIndex(span, "}")
	if last == -1 {
		return "[]"
	}
	return span[:last+1] + "]"
}

func decodeArray(span string) ([]Transaction, error) {
	var raw []map[string]any
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling array: %w", err)
	}
	transactions := make([]Transaction, 0, len(raw))
	for _, obj := range raw {
		transactions = append(transactions, coerceTransaction(obj))
	}
	return transactions, nil
}

var objectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// parseObjects is the fallback: pull out the individual {...} spans that
// look like transactions and decode each independently, so one broken
// element cannot sink the rest.
func parseObjects(text string) ([]Transaction, error) {
	matches := objectPattern.FindAllString(text, -1)
	transactions := make([]Transaction, 0, len(matches))
	for _, match := range matches {
		if !looksLikeTransaction(match) {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(match), &obj); err != nil {
			continue
		}
		transactions = append(transactions, coerceTransaction(obj))
	}
	if len(transactions) == 0 {
		return nil, fmt.Errorf("no transaction objects found in response")
	}
	return transactions, nil
}

func looksLikeTransaction(span string) bool {
	return strings.Contains(span, `"date"`) && strings.Contains(span, `"amount"`)
}

// coerceTransaction tolerates the field spellings and types models actually
// produce: payee/description for the recipient, amounts as strings.
// Validation proper happens during aggregation.
func coerceTransaction(obj map[string]any) Transaction {
	var t Transaction
	if s, ok := obj["date"].(string); ok {
		t.Date = strings.TrimSpace(s)
	}
	switch v := obj["amount"].(type) {
	case float64:
		t.Amount = v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			t.Amount = f
		}
	}
	for _, field := range []string{"recipient", "payee", "description"} {
		if s, ok := obj[field].(string); ok && strings.TrimSpace(s) != "" {
			t.Recipient = strings.TrimSpace(s)
			break
		}
	}
	return t
}
