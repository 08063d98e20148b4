package server

import (
	"log/slog"
	"net/http"

	"agentvault/core/types"
	"agentvault/native/migration"
)

type pendingView struct {
	Target       string `json:"target"`
	InitiatedAt  uint64 `json:"initiatedAt"`
	ConfirmBlock uint64 `json:"confirmAt"`
}

func (s *Server) handleGetOwnership(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	pending, err := s.engine.PendingOwnership(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if pending.Target.IsZero() {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pendingView{
		Target:       pending.Target.Hex(),
		InitiatedAt:  pending.InitiatedAt,
		ConfirmBlock: pending.ConfirmBlock,
	}})
}

func (s *Server) handleInitiateOwnership(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	var req struct {
		NewOwner string `json:"newOwner"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	newOwner, err := parseOptionalAddress(req.NewOwner)
	if err != nil || newOwner.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid newOwner")
		return
	}
	if err := s.engine.InitiateOwnershipChange(id, caller.Address, newOwner); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConfirmOwnership(w http.ResponseWriter, r *http.Request) {
	s.accountAction(w, r, s.engine.ConfirmOwnershipChange)
}

func (s *Server) handleCancelOwnership(w http.ResponseWriter, r *http.Request) {
	s.accountAction(w, r, s.engine.CancelOwnershipChange)
}

func (s *Server) accountAction(w http.ResponseWriter, r *http.Request, fn func(account, caller types.Address) error) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	if err := fn(id, caller.Address); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	list, err := s.engine.Whitelist(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		out = append(out, addr.Hex())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"whitelist": out})
}

func (s *Server) handleInitiateWhitelist(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	var req struct {
		Recipient string `json:"recipient"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	recipient, err := parseOptionalAddress(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid recipient")
		return
	}
	if err := s.engine.InitiateWhitelist(id, caller.Address, recipient); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleConfirmWhitelist(w http.ResponseWriter, r *http.Request) {
	s.recipientAction(w, r, s.engine.ConfirmWhitelist)
}

func (s *Server) handleCancelWhitelist(w http.ResponseWriter, r *http.Request) {
	s.recipientAction(w, r, s.engine.CancelWhitelist)
}

func (s *Server) handleRemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	s.recipientAction(w, r, s.engine.RemoveWhitelist)
}

func (s *Server) recipientAction(w http.ResponseWriter, r *http.Request, fn func(account, caller, recipient types.Address) error) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	recipient, ok := addressParam(w, r, "recipient")
	if !ok {
		return
	}
	if err := fn(id, caller.Address, recipient); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type migrationRequest struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Assets      []string `json:"assets"`
	Whitelist   []string `json:"whitelist"`
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	var body migrationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	source, err := parseOptionalAddress(body.Source)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source")
		return
	}
	dest, err := parseOptionalAddress(body.Destination)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid destination")
		return
	}
	req := migration.Request{Source: source, Destination: dest, Assets: body.Assets}
	for _, raw := range body.Whitelist {
		addr, err := parseOptionalAddress(raw)
		if err != nil || addr.IsZero() {
			writeError(w, http.StatusBadRequest, "invalid whitelist entry")
			return
		}
		req.Whitelist = append(req.Whitelist, addr)
	}
	receipt, err := s.engine.Migrate(caller.Address, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	moved := make([]amountView, 0, len(receipt.Moved))
	for _, m := range receipt.Moved {
		moved = append(moved, amountView{Asset: m.Asset, Amount: formatAmount(m.Amount)})
	}
	carried := make([]string, 0, len(receipt.Whitelist))
	for _, addr := range receipt.Whitelist {
		carried = append(carried, addr.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          receipt.ID,
		"source":      receipt.Source.Hex(),
		"destination": receipt.Destination.Hex(),
		"at":          receipt.At,
		"moved":       moved,
		"whitelist":   carried,
	})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.engine.SetPaused(req.Paused) {
		writeError(w, http.StatusConflict, "pause table is not mutable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) handleSetDelay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Delay uint64 `json:"delay"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.engine.SetDelay(req.Delay) {
		cfg := s.engine.Config()
		writeError(w, http.StatusBadRequest, "delay outside configured bounds")
		s.logger.Warn("walletd: delay rejected",
			slog.Uint64("delay", req.Delay),
			slog.Uint64("min", cfg.MinDelay),
			slog.Uint64("max", cfg.MaxDelay))
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"delay": req.Delay})
}
