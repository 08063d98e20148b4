package wallet

import (
	"fmt"

	"github.com/google/uuid"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/permissions"
)

func (e *Engine) checkBatch(ops []Operation) error {
	if len(ops) == 0 {
		return ErrEmptyBatch
	}
	if len(ops) > e.cfg.MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ops), e.cfg.MaxBatchSize)
	}
	for i, op := range ops {
		if op == nil {
			return fmt.Errorf("%w: instruction %d is empty", ErrInvalidOperation, i)
		}
	}
	return nil
}

// ExecuteBatch runs ops in order as one atomic unit. Subscriptions are
// charged once; fees are aggregated into a single BatchFeesPaid event.
func (e *Engine) ExecuteBatch(accountID, caller types.Address, ops []Operation) (BatchResult, error) {
	var out BatchResult
	if err := e.guard(); err != nil {
		return out, err
	}
	if err := e.checkBatch(ops); err != nil {
		return out, err
	}
	err := e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		var decision permissions.Decision
		for _, op := range ops {
			if decision, err = tx.auth.Authorize(account, caller, op.request()); err != nil {
				return err
			}
		}
		out, err = e.performBatch(tx, account, decision, ops)
		return err
	})
	e.metrics.ObserveOperation("batch", "direct", err)
	if err == nil {
		e.metrics.ObserveBatch(len(ops))
	}
	return out, err
}

// ExecuteBatchSigned runs a signed batch relayed by relayer. A single
// signature covers every instruction.
func (e *Engine) ExecuteBatchSigned(relayer types.Address, batch SignedBatch) (BatchResult, error) {
	var out BatchResult
	if err := e.guard(); err != nil {
		return out, err
	}
	if err := e.checkBatch(batch.Operations); err != nil {
		return out, err
	}
	digest, err := BatchDigest(e.cfg.Domain, batch.BatchInstruction)
	if err != nil {
		return out, err
	}
	err = e.run(func(tx *txn) error {
		account, err := e.load(tx, batch.Account)
		if err != nil {
			return err
		}
		reqs := make([]permissions.Request, 0, len(batch.Operations))
		for _, op := range batch.Operations {
			reqs = append(reqs, op.request())
		}
		decision, err := tx.auth.AuthorizeSigned(account, relayer, digest, batch.Expiration, batch.Signature, reqs...)
		if err != nil {
			return err
		}
		out, err = e.performBatch(tx, account, decision, batch.Operations)
		return err
	})
	e.metrics.ObserveOperation("batch", "signed", err)
	if err == nil {
		e.metrics.ObserveBatch(len(batch.Operations))
	}
	return out, err
}

func (e *Engine) performBatch(tx *txn, account *types.Account, decision permissions.Decision, ops []Operation) (BatchResult, error) {
	if err := e.chargeSubscriptions(tx, account, decision.Agent()); err != nil {
		return BatchResult{}, err
	}
	out := BatchResult{BatchID: uuid.NewString()}
	for i, op := range ops {
		res, err := e.perform(tx, account, decision, op, true)
		if err != nil {
			return BatchResult{}, fmt.Errorf("wallet: batch instruction %d (%s): %w", i, op.Kind(), err)
		}
		out.Results = append(out.Results, res)
	}
	out.Fees = events.SumLegs(tx.legs)
	if len(out.Fees) > 0 {
		tx.buf.Emit(events.BatchFeesPaid{
			Account:      account.ID,
			Agent:        decision.Agent(),
			BatchID:      out.BatchID,
			Instructions: len(ops),
			Legs:         out.Fees,
		})
	}
	return out, nil
}
