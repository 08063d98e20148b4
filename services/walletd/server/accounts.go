package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"agentvault/core/types"
	"agentvault/native/wallet"
)

type createAccountRequest struct {
	Owner       string          `json:"owner"`
	Agent       string          `json:"agent"`
	AgentConfig agentConfigBody `json:"agentConfig"`
	Ambassador  string          `json:"ambassador"`
	SeedAsset   string          `json:"seedAsset"`
	SeedAmount  string          `json:"seedAmount"`
}

// handleCreateAccount opens an account with the caller as factory.
func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	var req createAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner, err := parseOptionalAddress(req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner")
		return
	}
	agent, err := parseOptionalAddress(req.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent")
		return
	}
	ambassador, err := parseOptionalAddress(req.Ambassador)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid ambassador")
		return
	}
	agentCfg, err := req.AgentConfig.config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec := wallet.AccountSpec{
		Owner:       owner,
		Agent:       agent,
		AgentConfig: agentCfg,
		Ambassador:  ambassador,
		SeedAsset:   req.SeedAsset,
	}
	if strings.TrimSpace(req.SeedAmount) != "" {
		if spec.SeedAmount, err = parseAmount(req.SeedAmount); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	account, err := s.engine.CreateAccount(caller.Address, spec)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewAccount(account))
}

func (s *Server) handleRecoverSeed(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	recovered, err := s.engine.RecoverSeedFunds(caller.Address, account)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"recovered": formatAmount(recovered)})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	account, found, err := s.engine.Account(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	writeJSON(w, http.StatusOK, viewAccount(account))
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	asset := types.NormalizeAsset(chi.URLParam(r, "asset"))
	balance, err := s.engine.Balance(id, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Asset: asset, Amount: formatAmount(balance)})
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	token := types.NormalizeAsset(chi.URLParam(r, "token"))
	pos, err := s.engine.Position(id, token)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     token,
		"shares":    formatAmount(pos.Shares),
		"costBasis": formatAmount(pos.CostBasis),
	})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	asset := types.NormalizeAsset(chi.URLParam(r, "asset"))
	reserve, err := s.engine.Reserve(id, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Asset: asset, Amount: formatAmount(reserve)})
}

func (s *Server) handleSetReserve(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset := types.NormalizeAsset(chi.URLParam(r, "asset"))
	if err := s.engine.SetReserve(id, caller.Address, asset, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountView{Asset: asset, Amount: amount.String()})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	agents, err := s.engine.Agents(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agent.Hex())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"agents": out})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	agent, ok := addressParam(w, r, "agent")
	if !ok {
		return
	}
	grant, found, err := s.engine.Grant(id, agent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, viewGrant(grant))
}

func (s *Server) handleUpsertAgent(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	agent, ok := addressParam(w, r, "agent")
	if !ok {
		return
	}
	var body agentConfigBody
	if !decodeBody(w, r, &body) {
		return
	}
	cfg, err := body.config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	grant, err := s.engine.UpsertAgent(id, caller.Address, agent, cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewGrant(grant))
}

func (s *Server) handleDisableAgent(w http.ResponseWriter, r *http.Request) {
	caller, _ := PrincipalFrom(r.Context())
	id, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	agent, ok := addressParam(w, r, "agent")
	if !ok {
		return
	}
	if err := s.engine.DisableAgent(id, caller.Address, agent); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
