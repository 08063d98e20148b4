package wallet

import (
	"agentvault/core/types"
	"agentvault/native/migration"
)

// governanceView adapts the wallet store to the migration engine.
type governanceView struct {
	s store
}

func (g governanceView) HasPendingOwnership(account types.Address) (bool, error) {
	return g.s.hasPendingOwnership(account)
}

func (g governanceView) Whitelisted(account, recipient types.Address) (bool, error) {
	return g.s.whitelisted(account, recipient)
}

func (g governanceView) AddWhitelist(account, recipient types.Address) error {
	return g.s.addWhitelist(account, recipient)
}

// Migrate moves the source account to its successor in one atomic step.
// Only the owner of both accounts may migrate, and only once.
func (e *Engine) Migrate(caller types.Address, req migration.Request) (migration.Receipt, error) {
	var receipt migration.Receipt
	if err := e.guard(); err != nil {
		return receipt, err
	}
	err := e.run(func(tx *txn) error {
		m := migration.NewEngine(tx.st, governanceView{s: store{st: tx.st}}, tx.yield, e.cfg.NativeAsset)
		m.SetLogger(e.logger)
		var err error
		if receipt, err = m.Migrate(caller, req, tx.now); err != nil {
			return err
		}
		tx.buf.Emit(receipt.Event())
		return nil
	})
	if err != nil {
		e.observeFailure(err)
		return migration.Receipt{}, err
	}
	e.metrics.IncMigration()
	return receipt, nil
}
