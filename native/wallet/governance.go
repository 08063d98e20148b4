package wallet

import (
	"fmt"
	"log/slog"
	"math/big"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/common"
)

var (
	ErrOwnershipPending = common.NewKind(common.ErrInvalidConfiguration, "wallet: ownership change already pending")
	ErrNotPendingOwner  = common.NewKind(common.ErrPermissionDenied, "wallet: caller is not the pending owner")
	ErrWhitelistPending = common.NewKind(common.ErrInvalidConfiguration, "wallet: whitelist entry already pending")
	ErrAlreadyListed    = common.NewKind(common.ErrInvalidConfiguration, "wallet: recipient already whitelisted")
	ErrNotWhitelisted   = common.NewKind(common.ErrInvalidConfiguration, "wallet: recipient not whitelisted")
	ErrInvalidRecipient = common.NewKind(common.ErrInvalidConfiguration, "wallet: invalid whitelist recipient")
	ErrNegativeReserve  = common.NewKind(common.ErrInvalidConfiguration, "wallet: reserve must not be negative")
)

func pendingEvent(kind string, account, actor types.Address, rec pendingRecord) events.PendingChange {
	return events.PendingChange{
		Type:         kind,
		Account:      account,
		Actor:        actor,
		Target:       rec.Target,
		InitiatedAt:  rec.InitiatedAt,
		ConfirmBlock: rec.ConfirmBlock,
	}
}

// InitiateOwnershipChange schedules newOwner to take over the account once
// the configured delay has elapsed.
func (e *Engine) InitiateOwnershipChange(accountID, caller, newOwner types.Address) error {
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		if newOwner.IsZero() || newOwner == account.Owner || newOwner == account.ID {
			return ErrInvalidOwner
		}
		s := store{st: tx.st}
		rec, err := s.pendingOwnership(account.ID)
		if err != nil {
			return err
		}
		if !rec.Empty() {
			return ErrOwnershipPending
		}
		rec = common.NewPendingChange(newOwner, tx.now, e.cfg.Delay)
		if err := s.putPendingOwnership(account.ID, rec); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeOwnershipChangeInitiated, account.ID, caller, rec))
		return nil
	})
}

// ConfirmOwnershipChange completes a matured ownership change. Only the
// incoming owner may confirm; any grant it held as an agent is deactivated.
func (e *Engine) ConfirmOwnershipChange(accountID, caller types.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	err := e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		s := store{st: tx.st}
		rec, err := s.pendingOwnership(account.ID)
		if err != nil {
			return err
		}
		if rec.Empty() {
			return common.ErrNoPendingChange
		}
		if caller != rec.Target {
			return ErrNotPendingOwner
		}
		snapshot := rec
		newOwner, err := rec.Confirm(tx.now)
		if err != nil {
			return err
		}
		if err := s.putPendingOwnership(account.ID, rec); err != nil {
			return err
		}
		if _, err := tx.grants.Deactivate(account.ID, newOwner); err != nil {
			return err
		}
		account.Owner = newOwner
		if err := tx.st.PutAccount(account); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeOwnershipChangeConfirmed, account.ID, caller, snapshot))
		return nil
	})
	if err == nil {
		e.logger.Info("wallet: ownership transferred",
			slog.String("account", accountID.Hex()),
			slog.String("owner", caller.Hex()))
	}
	return err
}

// CancelOwnershipChange drops a pending ownership change. Either the current
// owner or the incoming owner may cancel before the change matures.
func (e *Engine) CancelOwnershipChange(accountID, caller types.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		s := store{st: tx.st}
		rec, err := s.pendingOwnership(account.ID)
		if err != nil {
			return err
		}
		if !rec.Empty() && caller != account.Owner && caller != rec.Target {
			return ErrNotOwner
		}
		snapshot := rec
		if err := rec.Cancel(tx.now); err != nil {
			return err
		}
		if err := s.putPendingOwnership(account.ID, rec); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeOwnershipChangeCancelled, account.ID, caller, snapshot))
		return nil
	})
}

// PendingOwnership returns the ownership envelope, empty when none is
// pending.
func (e *Engine) PendingOwnership(accountID types.Address) (common.PendingChange[types.Address], error) {
	var rec pendingRecord
	err := e.view(func(tx *txn) error {
		var err error
		rec, err = store{st: tx.st}.pendingOwnership(accountID)
		return err
	})
	return rec, err
}

// InitiateWhitelist schedules recipient to become an allowed transfer
// target.
func (e *Engine) InitiateWhitelist(accountID, caller, recipient types.Address) error {
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		if recipient.IsZero() || recipient == account.ID {
			return ErrInvalidRecipient
		}
		s := store{st: tx.st}
		listed, err := s.whitelisted(account.ID, recipient)
		if err != nil {
			return err
		}
		if listed {
			return ErrAlreadyListed
		}
		rec, err := s.pendingWhitelist(account.ID, recipient)
		if err != nil {
			return err
		}
		if !rec.Empty() {
			return ErrWhitelistPending
		}
		rec = common.NewPendingChange(recipient, tx.now, e.cfg.Delay)
		if err := s.putPendingWhitelist(account.ID, recipient, rec); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeWhitelistPending, account.ID, caller, rec))
		return nil
	})
}

// ConfirmWhitelist activates a matured whitelist entry.
func (e *Engine) ConfirmWhitelist(accountID, caller, recipient types.Address) error {
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		s := store{st: tx.st}
		rec, err := s.pendingWhitelist(account.ID, recipient)
		if err != nil {
			return err
		}
		snapshot := rec
		if _, err := rec.Confirm(tx.now); err != nil {
			return err
		}
		if err := s.putPendingWhitelist(account.ID, recipient, rec); err != nil {
			return err
		}
		if err := s.addWhitelist(account.ID, recipient); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeWhitelistConfirmed, account.ID, caller, snapshot))
		return nil
	})
}

// CancelWhitelist drops a pending whitelist entry.
func (e *Engine) CancelWhitelist(accountID, caller, recipient types.Address) error {
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		s := store{st: tx.st}
		rec, err := s.pendingWhitelist(account.ID, recipient)
		if err != nil {
			return err
		}
		snapshot := rec
		if err := rec.Cancel(tx.now); err != nil {
			return err
		}
		if err := s.putPendingWhitelist(account.ID, recipient, rec); err != nil {
			return err
		}
		tx.buf.Emit(pendingEvent(events.TypeWhitelistCancelled, account.ID, caller, snapshot))
		return nil
	})
}

// RemoveWhitelist revokes a confirmed entry immediately.
func (e *Engine) RemoveWhitelist(accountID, caller, recipient types.Address) error {
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		s := store{st: tx.st}
		listed, err := s.whitelisted(account.ID, recipient)
		if err != nil {
			return err
		}
		if !listed {
			return ErrNotWhitelisted
		}
		if err := s.removeWhitelist(account.ID, recipient); err != nil {
			return err
		}
		tx.buf.Emit(events.PendingChange{Type: events.TypeWhitelistRemoved, Account: account.ID, Actor: caller, Target: recipient, InitiatedAt: tx.now})
		return nil
	})
}

// Whitelist returns the confirmed recipients of the account.
func (e *Engine) Whitelist(accountID types.Address) ([]types.Address, error) {
	var list []types.Address
	err := e.view(func(tx *txn) error {
		var err error
		list, err = store{st: tx.st}.whitelist(accountID)
		return err
	})
	return list, err
}

// SetReserve sets the floor below which transfers and agent outflows of
// asset are refused. A zero amount clears it.
func (e *Engine) SetReserve(accountID, caller types.Address, asset string, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return ErrNegativeReserve
	}
	return e.owned(accountID, caller, func(tx *txn, account *types.Account) error {
		if err := (store{st: tx.st}).setReserve(account.ID, asset, amount); err != nil {
			return err
		}
		value := big.NewInt(0)
		if amount != nil {
			value.Set(amount)
		}
		tx.buf.Emit(events.ReserveUpdated{Account: account.ID, Asset: asset, Amount: value})
		return nil
	})
}

// Reserve returns the configured floor of asset.
func (e *Engine) Reserve(accountID types.Address, asset string) (*big.Int, error) {
	var reserve *big.Int
	err := e.view(func(tx *txn) error {
		var err error
		reserve, err = store{st: tx.st}.reserve(accountID, asset)
		return err
	})
	return reserve, err
}

// recipientAllowed accepts the owner, a confirmed whitelist entry, or a
// live sibling account of the same owner when neither side has an ownership
// change pending. A sibling that has migrated out is frozen and refused.
func (e *Engine) recipientAllowed(tx *txn, account *types.Account, recipient types.Address) error {
	if recipient == account.Owner {
		return nil
	}
	s := store{st: tx.st}
	listed, err := s.whitelisted(account.ID, recipient)
	if err != nil {
		return err
	}
	if listed {
		return nil
	}
	sibling, ok, err := tx.st.GetAccount(recipient)
	if err != nil {
		return err
	}
	if ok && sibling.Owner == account.Owner && !sibling.Frozen() {
		pending, err := s.hasPendingOwnership(account.ID)
		if err != nil {
			return err
		}
		siblingPending, err := s.hasPendingOwnership(recipient)
		if err != nil {
			return err
		}
		if !pending && !siblingPending {
			return nil
		}
	}
	e.logger.Debug("wallet: recipient rejected",
		slog.String("account", account.ID.Hex()),
		slog.String("recipient", recipient.Hex()))
	return fmt.Errorf("%w: %s", ErrRecipientDenied, recipient)
}

// SetPaused pauses or resumes the wallet module when the engine uses a
// mutable pause table.
func (e *Engine) SetPaused(paused bool) bool {
	e.mu.Lock()
	p, ok := e.pauses.(*common.Pauses)
	emitter := e.emitter
	e.mu.Unlock()
	if !ok {
		return false
	}
	p.Set(ModuleName, paused)
	emitter.Emit(events.ModulePaused{Module: ModuleName, Paused: paused})
	e.logger.Info("wallet: module pause toggled", slog.Bool("paused", paused))
	return true
}
