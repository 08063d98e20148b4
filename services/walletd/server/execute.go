package server

import (
	"net/http"

	"agentvault/native/wallet"
)

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	var env wallet.Envelope
	if !decodeBody(w, r, &env) {
		return
	}
	op, err := wallet.DecodeOperation(env)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Execute(id, caller.Address, op)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResult(res))
}

func (s *Server) handleExecuteBatch(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	var body struct {
		Operations []wallet.Envelope `json:"operations"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	ops := make([]wallet.Operation, 0, len(body.Operations))
	for _, env := range body.Operations {
		op, err := wallet.DecodeOperation(env)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ops = append(ops, op)
	}
	res, err := s.engine.ExecuteBatch(id, caller.Address, ops)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBatch(res))
}

// handleRelayInstruction submits an agent-signed instruction with the caller
// as relayer.
func (s *Server) handleRelayInstruction(w http.ResponseWriter, r *http.Request) {
	relayer, _ := PrincipalFrom(r.Context())
	var body wallet.InstructionJSON
	if !decodeBody(w, r, &body) {
		return
	}
	instr, err := body.Unmarshal()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.ExecuteSigned(relayer.Address, instr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewResult(res))
}

func (s *Server) handleRelayBatch(w http.ResponseWriter, r *http.Request) {
	relayer, _ := PrincipalFrom(r.Context())
	var body wallet.BatchJSON
	if !decodeBody(w, r, &body) {
		return
	}
	batch, err := body.Unmarshal()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.ExecuteBatchSigned(relayer.Address, batch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewBatch(res))
}
