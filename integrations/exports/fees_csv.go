package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
)

var feeHeader = []string{"seq", "event_id", "event_type", "account", "agent", "batch_id", "role", "asset", "amount", "recipient", "recorded_at"}

// FeesCSV builds a CSV export of the fee rows and returns the serialised data
// alongside a SHA-256 checksum of the payload.
func FeesCSV(rows []FeeRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(feeHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		amount := row.Amount
		if amount == "" {
			amount = "0"
		}
		record := []string{
			strconv.FormatUint(row.Seq, 10),
			row.EventID,
			row.EventType,
			row.Account,
			row.Agent,
			row.BatchID,
			row.Role,
			row.Asset,
			amount,
			row.Recipient,
			recordedAt(row),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
