package exports

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetFeeRow struct {
	Seq        int64  `parquet:"name=seq, type=INT64"`
	EventID    string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventType  string `parquet:"name=event_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Agent      string `parquet:"name=agent, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchID    string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Role       string `parquet:"name=role, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset      string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient  string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteFeesParquet streams the fee rows to w as a snappy-compressed parquet
// file. Amounts stay decimal strings to keep full precision.
func WriteFeesParquet(w io.Writer, rows []FeeRow) error {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(parquetFeeRow), 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetFeeRow{
			Seq:        int64(row.Seq),
			EventID:    row.EventID,
			EventType:  row.EventType,
			Account:    row.Account,
			Agent:      row.Agent,
			BatchID:    row.BatchID,
			Role:       row.Role,
			Asset:      row.Asset,
			Amount:     row.Amount,
			Recipient:  row.Recipient,
			RecordedAt: recordedAt(row),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			return fmt.Errorf("exports: write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: finalise parquet: %w", err)
	}
	return nil
}
