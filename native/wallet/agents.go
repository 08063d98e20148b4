package wallet

import (
	"fmt"
	"log/slog"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/permissions"
)

func agentEvent(kind string, account, agent types.Address, grant *permissions.Grant) events.AgentChanged {
	evt := events.AgentChanged{Type: kind, Account: account, Agent: agent}
	if grant != nil {
		evt.Kinds = uint16(grant.EffectiveKinds())
		evt.AssetCount = len(grant.Assets)
		evt.IntegrationCount = len(grant.Integrations)
	}
	return evt
}

func (e *Engine) validIntegrations(ids []types.IntegrationID) error {
	for _, id := range ids {
		if !e.directory.IsValidIntegration(id) {
			return fmt.Errorf("%w: %d", ErrUnknownVenue, id)
		}
	}
	return nil
}

func (e *Engine) installAgent(tx *txn, account *types.Account, agent types.Address, cfg permissions.Config) error {
	if err := e.validIntegrations(cfg.Integrations); err != nil {
		return err
	}
	grant, added, err := tx.grants.Upsert(account, agent, cfg, tx.now)
	if err != nil {
		return err
	}
	kind := events.TypeAgentUpdated
	if added {
		kind = events.TypeAgentAdded
	}
	tx.buf.Emit(agentEvent(kind, account.ID, agent, grant))
	return nil
}

// owned runs fn for an owner-only management call.
func (e *Engine) owned(accountID, caller types.Address, fn func(tx *txn, account *types.Account) error) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		if err := e.ownerOnly(account, caller); err != nil {
			return err
		}
		return fn(tx, account)
	})
}

// UpsertAgent installs agent with cfg or replaces its settings. The grant is
// reactivated if it had been disabled.
func (e *Engine) UpsertAgent(accountID, caller, agent types.Address, cfg permissions.Config) (*permissions.Grant, error) {
	var grant *permissions.Grant
	err := e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		if err := e.installAgent(tx, account, agent, cfg); err != nil {
			return err
		}
		var err error
		grant, _, err = tx.grants.Get(account.ID, agent)
		return err
	})
	return grant, err
}

func (e *Engine) updateAgent(accountID, caller, agent types.Address, mutate func(tx *txn) (*permissions.Grant, error)) (*permissions.Grant, error) {
	var grant *permissions.Grant
	err := e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		var err error
		if grant, err = mutate(tx); err != nil {
			return err
		}
		tx.buf.Emit(agentEvent(events.TypeAgentUpdated, account.ID, agent, grant))
		return nil
	})
	return grant, err
}

// SetAgentAssets replaces the asset allow-list. An empty list lifts the
// restriction.
func (e *Engine) SetAgentAssets(accountID, caller, agent types.Address, assets []string) (*permissions.Grant, error) {
	return e.updateAgent(accountID, caller, agent, func(tx *txn) (*permissions.Grant, error) {
		return tx.grants.SetAssets(accountID, agent, assets)
	})
}

// SetAgentIntegrations replaces the integration allow-list.
func (e *Engine) SetAgentIntegrations(accountID, caller, agent types.Address, ids []types.IntegrationID) (*permissions.Grant, error) {
	return e.updateAgent(accountID, caller, agent, func(tx *txn) (*permissions.Grant, error) {
		if err := e.validIntegrations(ids); err != nil {
			return nil, err
		}
		return tx.grants.SetIntegrations(accountID, agent, ids)
	})
}

// SetAgentKinds replaces the allowed operation kinds.
func (e *Engine) SetAgentKinds(accountID, caller, agent types.Address, kinds []permissions.OperationKind) (*permissions.Grant, error) {
	return e.updateAgent(accountID, caller, agent, func(tx *txn) (*permissions.Grant, error) {
		return tx.grants.SetKinds(accountID, agent, kinds)
	})
}

// DisableAgent deactivates agent. Disabling an inactive agent fails.
func (e *Engine) DisableAgent(accountID, caller, agent types.Address) error {
	err := e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		grant, err := tx.grants.Disable(account.ID, agent)
		if err != nil {
			return err
		}
		tx.buf.Emit(agentEvent(events.TypeAgentDisabled, account.ID, agent, grant))
		return nil
	})
	if err == nil {
		e.logger.Info("wallet: agent disabled",
			slog.String("account", accountID.Hex()),
			slog.String("agent", agent.Hex()))
	}
	return err
}

// Agents lists every agent ever installed on the account, active or not.
func (e *Engine) Agents(accountID types.Address) ([]types.Address, error) {
	var agents []types.Address
	err := e.view(func(tx *txn) error {
		var err error
		agents, err = tx.grants.Agents(accountID)
		return err
	})
	return agents, err
}
