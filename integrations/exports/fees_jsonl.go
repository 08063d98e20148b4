package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// FeesJSONL builds a JSON Lines export of the fee rows and returns the
// serialised payload alongside a checksum.
func FeesJSONL(rows []FeeRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"seq":         row.Seq,
			"event_id":    row.EventID,
			"event_type":  row.EventType,
			"account":     row.Account,
			"agent":       row.Agent,
			"batch_id":    row.BatchID,
			"role":        row.Role,
			"asset":       row.Asset,
			"amount":      row.Amount,
			"recipient":   row.Recipient,
			"recorded_at": recordedAt(row),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
