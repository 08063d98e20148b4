package server

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"agentvault/services/walletd/idempotency"
)

const (
	headerIdempotency = "Idempotency-Key"
	headerIdemCache   = "X-Idempotency-Cache"
	maxIdempotentBody = 1 << 20
)

// idempotent replays the first response for a repeated Idempotency-Key from
// the same caller. Keyed requests are serialized so a retry racing the
// original waits for its outcome. Server errors and throttles are not cached.
func (s *Server) idempotent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idem := strings.TrimSpace(r.Header.Get(headerIdempotency))
		if s.idem == nil || idem == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, _ := PrincipalFrom(r.Context())
		body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		key := idempotency.Key(principal.Address.Hex(), r.Method, r.URL.Path, idem)
		fingerprint := idempotency.Fingerprint(body)

		s.idemMu.Lock()
		defer s.idemMu.Unlock()
		record, found, err := s.idem.Get(key)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if found {
			if record.Fingerprint != fingerprint {
				writeError(w, http.StatusUnprocessableEntity, "idempotency key reused with a different request")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(headerIdemCache, "hit")
			w.WriteHeader(record.StatusCode)
			_, _ = w.Write(record.Body)
			return
		}

		var captured bytes.Buffer
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&captured)
		ww.Header().Set(headerIdemCache, "miss")
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return
		}
		if err := s.idem.Put(key, status, captured.Bytes(), fingerprint); err != nil {
			s.logger.Warn("walletd: cache idempotent response",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
		}
	})
}
