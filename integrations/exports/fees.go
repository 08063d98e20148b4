// Package exports renders the fee ledger recorded by the event journal into
// audit files.
package exports

import (
	"math/big"
	"sort"
	"time"
)

// FeeRow is one routed fee leg as recorded by the journal.
type FeeRow struct {
	Seq        uint64
	EventID    string
	EventType  string
	Account    string
	Agent      string
	BatchID    string
	Role       string
	Asset      string
	Amount     string
	Recipient  string
	RecordedAt time.Time
}

// Total is the sum of fee legs paid to one recipient in one asset.
type Total struct {
	Recipient string
	Role      string
	Asset     string
	Amount    *big.Int
	Legs      int
}

// Summarize sums rows per recipient, role and asset. Rows with unparsable
// amounts are skipped.
func Summarize(rows []FeeRow) []Total {
	type key struct{ recipient, role, asset string }
	totals := make(map[key]*Total)
	for _, row := range rows {
		amount, ok := new(big.Int).SetString(row.Amount, 10)
		if !ok {
			continue
		}
		k := key{row.Recipient, row.Role, row.Asset}
		t, exists := totals[k]
		if !exists {
			t = &Total{Recipient: row.Recipient, Role: row.Role, Asset: row.Asset, Amount: new(big.Int)}
			totals[k] = t
		}
		t.Amount.Add(t.Amount, amount)
		t.Legs++
	}
	out := make([]Total, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Recipient != out[j].Recipient {
			return out[i].Recipient < out[j].Recipient
		}
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

func recordedAt(row FeeRow) string {
	ts := row.RecordedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
