package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"agentvault/integrations/exports"
	"agentvault/services/walletd/journal"
)

func parseQuery(r *http.Request) (journal.Query, error) {
	values := r.URL.Query()
	q := journal.Query{
		Account: strings.TrimSpace(values.Get("account")),
		Type:    strings.TrimSpace(values.Get("type")),
	}
	if raw := strings.TrimSpace(values.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, err
		}
		q.After = after
	}
	if raw := strings.TrimSpace(values.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, err
		}
		q.Limit = limit
	}
	return q, nil
}

// handleListEvents pages through the journal. The response cursor is the
// last returned sequence number.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query")
		return
	}
	entries, err := s.journal.Entries(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]eventMessage, 0, len(entries))
	cursor := q.After
	for _, entry := range entries {
		msg, err := messageFrom(entry)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, msg)
		cursor = entry.Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "cursor": cursor})
}

// handleFeesExport renders the fee legs journaled after the cursor as csv,
// jsonl, parquet or a per-recipient summary.
func (s *Server) handleFeesExport(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query")
		return
	}
	records, err := s.journal.Fees(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rows := make([]exports.FeeRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, rec.Row())
	}

	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	var (
		body        []byte
		checksum    string
		contentType string
	)
	switch format {
	case "", "csv":
		body, checksum, err = exports.FeesCSV(rows)
		contentType = "text/csv"
	case "jsonl":
		body, checksum, err = exports.FeesJSONL(rows)
		contentType = "application/x-ndjson"
	case "parquet":
		var buf bytes.Buffer
		err = exports.WriteFeesParquet(&buf, rows)
		body = buf.Bytes()
		contentType = "application/vnd.apache.parquet"
	case "summary":
		totals := exports.Summarize(rows)
		views := make([]map[string]any, 0, len(totals))
		for _, t := range totals {
			views = append(views, map[string]any{
				"recipient": t.Recipient,
				"role":      t.Role,
				"asset":     t.Asset,
				"amount":    formatAmount(t.Amount),
				"legs":      t.Legs,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"totals": views})
		return
	default:
		writeError(w, http.StatusBadRequest, "unsupported format "+strconv.Quote(format))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if checksum != "" {
		w.Header().Set("X-Content-SHA256", checksum)
	}
	if len(rows) > 0 {
		w.Header().Set("X-Export-Cursor", strconv.FormatUint(rows[len(rows)-1].Seq, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
