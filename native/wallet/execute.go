package wallet

import (
	"fmt"
	"log/slog"
	"math/big"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/billing"
	"agentvault/native/common"
	"agentvault/native/directory"
	"agentvault/native/permissions"
)

// Execute runs op for caller, who must be the owner or an active agent of
// the account.
func (e *Engine) Execute(accountID, caller types.Address, op Operation) (Result, error) {
	var res Result
	if err := e.guard(); err != nil {
		return res, err
	}
	if op == nil {
		return res, ErrInvalidOperation
	}
	err := e.run(func(tx *txn) error {
		account, err := e.load(tx, accountID)
		if err != nil {
			return err
		}
		decision, err := tx.auth.Authorize(account, caller, op.request())
		if err != nil {
			return err
		}
		if err := e.chargeSubscriptions(tx, account, decision.Agent()); err != nil {
			return err
		}
		res, err = e.perform(tx, account, decision, op, false)
		return err
	})
	e.observe(op.Kind(), "direct", err)
	return res, err
}

// ExecuteSigned runs a delegated instruction submitted by relayer.
func (e *Engine) ExecuteSigned(relayer types.Address, instr SignedInstruction) (Result, error) {
	var res Result
	if err := e.guard(); err != nil {
		return res, err
	}
	if instr.Operation == nil {
		return res, ErrInvalidOperation
	}
	digest, err := InstructionDigest(e.cfg.Domain, instr.Instruction)
	if err != nil {
		return res, err
	}
	err = e.run(func(tx *txn) error {
		account, err := e.load(tx, instr.Account)
		if err != nil {
			return err
		}
		decision, err := tx.auth.AuthorizeSigned(account, relayer, digest, instr.Expiration, instr.Signature, instr.Operation.request())
		if err != nil {
			return err
		}
		if err := e.chargeSubscriptions(tx, account, decision.Agent()); err != nil {
			return err
		}
		res, err = e.perform(tx, account, decision, instr.Operation, false)
		return err
	})
	e.observe(instr.Operation.Kind(), "signed", err)
	return res, err
}

func (e *Engine) observe(kind permissions.OperationKind, path string, err error) {
	e.metrics.ObserveOperation(kind.String(), path, err)
	e.observeFailure(err)
}

func (e *Engine) observeFailure(err error) {
	if err == nil {
		return
	}
	if root := common.Kind(err); root != nil {
		e.metrics.ObserveFailure(root.Error())
	}
}

// call carries the state of one operation through the pipeline.
type call struct {
	e        *Engine
	tx       *txn
	account  *types.Account
	decision permissions.Decision
	kind     permissions.OperationKind
	quotes   []quote
	res      Result
}

type quote struct {
	split billing.Split
	gross *big.Int
}

// perform dispatches op and applies the post-dispatch steps: fee settlement,
// reserve and seed checks, and event emission. Inside a batch, fee events are
// aggregated by the caller.
func (e *Engine) perform(tx *txn, account *types.Account, decision permissions.Decision, op Operation, batched bool) (Result, error) {
	c := &call{
		e:        e,
		tx:       tx,
		account:  account,
		decision: decision,
		kind:     op.Kind(),
		res:      Result{Kind: op.Kind(), USDValue: big.NewInt(0)},
	}
	seedBefore, err := c.seedGuardValue()
	if err != nil {
		return Result{}, err
	}
	var integration types.IntegrationID
	switch op := op.(type) {
	case Deposit:
		integration = op.Integration
		err = c.deposit(op)
	case Withdraw:
		integration = op.Integration
		err = c.withdraw(op)
	case Rebalance:
		integration = op.To
		err = c.rebalance(op)
	case Transfer:
		err = c.transfer(op)
	case Swap:
		if len(op.Route) > 0 {
			integration = op.Route[0].Integration
		}
		err = c.swap(op)
	case Convert:
		err = c.convert(op)
	case AddLiquidity:
		integration = op.Integration
		err = c.addLiquidity(op)
	case RemoveLiquidity:
		integration = op.Integration
		err = c.removeLiquidity(op)
	case ClaimRewards:
		integration = op.Integration
		err = c.claimRewards(op)
	case Borrow:
		integration = op.Integration
		err = c.borrow(op)
	case Repay:
		integration = op.Integration
		err = c.repay(op)
	default:
		err = fmt.Errorf("%w: %T", ErrInvalidOperation, op)
	}
	if err != nil {
		return Result{}, err
	}
	if err := c.settle(batched); err != nil {
		return Result{}, err
	}
	if err := c.checkReserves(); err != nil {
		return Result{}, err
	}
	if err := c.checkSeed(seedBefore); err != nil {
		return Result{}, err
	}
	evt := events.OperationExecuted{
		Account:     account.ID,
		Caller:      decision.Actor,
		Kind:        c.kind.String(),
		Integration: integration,
		Signed:      decision.Signed,
		USDValue:    c.res.USDValue,
	}
	if len(c.res.Sent) > 0 {
		evt.AssetIn, evt.AmountIn = c.res.Sent[0].Asset, c.res.Sent[0].Amount
	}
	if len(c.res.Received) > 0 {
		evt.AssetOut, evt.AmountOut = c.res.Received[0].Asset, c.res.Received[0].Amount
	}
	tx.buf.Emit(evt)
	return c.res, nil
}

func (c *call) st() store { return store{st: c.tx.st} }

func (c *call) adapter(id types.IntegrationID) (directory.Adapter, error) {
	if !c.e.directory.IsValidIntegration(id) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVenue, id)
	}
	adapter, err := c.e.directory.AdapterFor(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownVenue, err)
	}
	return adapter, nil
}

// spendable checks the account holds at least amount of asset.
func (c *call) spendable(asset string, amount *big.Int) (*big.Int, error) {
	if !common.Positive(amount) {
		return nil, ErrInvalidAmount
	}
	balance, err := c.tx.st.Balance(c.account.ID, asset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: need %s %s, have %s", ErrInsufficient, amount, types.NormalizeAsset(asset), balance)
	}
	return balance, nil
}

// quote computes the fee owed on gross and returns the amount left after it.
// The fee is paid when the call settles.
func (c *call) quote(asset string, gross *big.Int) (*big.Int, error) {
	split, err := c.tx.billing.ComputeFee(c.account, c.kind, asset, gross, c.decision.Agent())
	if err != nil {
		return nil, err
	}
	total := split.Total()
	if total.Sign() > 0 {
		c.quotes = append(c.quotes, quote{split: split, gross: common.CloneBig(gross)})
	}
	c.res.USDValue.Add(c.res.USDValue, c.e.directory.UsdValue(asset, gross))
	net := new(big.Int).Sub(gross, total)
	if net.Sign() < 0 {
		net.SetInt64(0)
	}
	return net, nil
}

// settle pays every quoted fee. Each leg is recorded on the result and in
// the transaction so batches can aggregate them.
func (c *call) settle(batched bool) error {
	for _, q := range c.quotes {
		if err := c.tx.billing.PayFee(c.account.ID, q.split); err != nil {
			c.e.metrics.ObserveFailure("fee")
			return err
		}
		legs := q.split.Legs()
		for _, leg := range legs {
			c.e.metrics.ObserveFeeLeg(leg.Role, leg.Asset)
		}
		c.res.Fees = append(c.res.Fees, legs...)
		c.tx.legs = append(c.tx.legs, legs...)
		if !batched {
			c.tx.buf.Emit(events.FeesPaid{
				Account:  c.account.ID,
				Agent:    c.decision.Agent(),
				Kind:     c.kind.String(),
				Asset:    q.split.Asset,
				Gross:    q.gross,
				USDValue: c.e.directory.UsdValue(q.split.Asset, q.gross),
				Legs:     legs,
			})
		}
	}
	return nil
}

func (c *call) sent(asset string, amount *big.Int) {
	c.res.Sent = append(c.res.Sent, directory.Amount{Asset: types.NormalizeAsset(asset), Amount: common.CloneBig(amount)})
}

func (c *call) received(asset string, amount *big.Int) {
	c.res.Received = append(c.res.Received, directory.Amount{Asset: types.NormalizeAsset(asset), Amount: common.CloneBig(amount)})
}

// releaseTracked applies the exit rule when position tokens leave the
// account without passing through their venue.
func (c *call) releaseTracked(asset string, amount, balanceBefore *big.Int) error {
	tracked, err := c.tx.yield.Tracked(c.account.ID, asset)
	if err != nil || !tracked {
		return err
	}
	_, err = c.tx.yield.OnTransferOut(c.account.ID, asset, amount, balanceBefore)
	return err
}

func (c *call) deposit(op Deposit) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	if _, err := c.spendable(op.Asset, op.Amount); err != nil {
		return err
	}
	net, err := c.quote(op.Asset, op.Amount)
	if err != nil {
		return err
	}
	shares, err := c.enter(adapter, op.Asset, net)
	if err != nil {
		return err
	}
	c.sent(op.Asset, net)
	c.received(shares.Asset, shares.Amount)
	return nil
}

// enter moves amount into adapter custody, mints the returned shares and
// opens cost basis for them.
func (c *call) enter(adapter directory.Adapter, asset string, amount *big.Int) (directory.Amount, error) {
	if !common.Positive(amount) {
		return directory.Amount{}, ErrInvalidAmount
	}
	if err := c.tx.st.Move(c.account.ID, adapter.Custody(), asset, amount); err != nil {
		return directory.Amount{}, err
	}
	shares, err := adapter.Deposit(c.tx.st, c.account.ID, directory.Amount{Asset: types.NormalizeAsset(asset), Amount: amount})
	if err != nil {
		return directory.Amount{}, err
	}
	if err := c.tx.st.Credit(c.account.ID, shares.Asset, shares.Amount); err != nil {
		return directory.Amount{}, err
	}
	if err := c.tx.yield.OnEnter(c.account.ID, shares.Asset, shares.Amount, amount); err != nil {
		return directory.Amount{}, err
	}
	return shares, nil
}

// exit burns shares through adapter and returns the proceeds together with
// the realized profit of the tracked portion.
func (c *call) exit(adapter directory.Adapter, token string, shares *big.Int) (directory.Amount, *big.Int, error) {
	balance, err := c.spendable(token, shares)
	if err != nil {
		return directory.Amount{}, nil, err
	}
	if err := c.tx.st.Debit(c.account.ID, token, shares); err != nil {
		return directory.Amount{}, nil, err
	}
	out, err := adapter.Withdraw(c.tx.st, c.account.ID, directory.Amount{Asset: types.NormalizeAsset(token), Amount: shares})
	if err != nil {
		return directory.Amount{}, nil, err
	}
	if common.Positive(out.Amount) {
		if err := c.tx.st.Move(adapter.Custody(), c.account.ID, out.Asset, out.Amount); err != nil {
			return directory.Amount{}, nil, err
		}
	}
	exit, err := c.tx.yield.OnExit(c.account.ID, token, shares, balance)
	if err != nil {
		return directory.Amount{}, nil, err
	}
	return out, exit.Profit(out.Amount), nil
}

func (c *call) withdraw(op Withdraw) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	out, profit, err := c.exit(adapter, op.ShareToken, op.Shares)
	if err != nil {
		return err
	}
	feeBase, err := c.quote(out.Asset, profit)
	if err != nil {
		return err
	}
	fee := new(big.Int).Sub(profit, feeBase)
	c.sent(op.ShareToken, op.Shares)
	c.received(out.Asset, new(big.Int).Sub(out.Amount, fee))
	return nil
}

func (c *call) rebalance(op Rebalance) error {
	if op.From == op.To {
		return fmt.Errorf("%w: rebalance into the same venue", ErrInvalidOperation)
	}
	from, err := c.adapter(op.From)
	if err != nil {
		return err
	}
	to, err := c.adapter(op.To)
	if err != nil {
		return err
	}
	out, profit, err := c.exit(from, op.ShareToken, op.Shares)
	if err != nil {
		return err
	}
	afterFee, err := c.quote(out.Asset, profit)
	if err != nil {
		return err
	}
	redeposit := new(big.Int).Sub(out.Amount, new(big.Int).Sub(profit, afterFee))
	shares, err := c.enter(to, out.Asset, redeposit)
	if err != nil {
		return err
	}
	c.sent(op.ShareToken, op.Shares)
	c.received(shares.Asset, shares.Amount)
	return nil
}

func (c *call) transfer(op Transfer) error {
	if op.Recipient.IsZero() || op.Recipient == c.account.ID {
		return fmt.Errorf("%w: invalid recipient", ErrInvalidOperation)
	}
	if err := c.e.recipientAllowed(c.tx, c.account, op.Recipient); err != nil {
		return err
	}
	balance, err := c.spendable(op.Asset, op.Amount)
	if err != nil {
		return err
	}
	net, err := c.quote(op.Asset, op.Amount)
	if err != nil {
		return err
	}
	if err := c.releaseTracked(op.Asset, op.Amount, balance); err != nil {
		return err
	}
	if common.Positive(net) {
		if err := c.tx.st.Move(c.account.ID, op.Recipient, op.Asset, net); err != nil {
			return err
		}
	}
	c.sent(op.Asset, net)
	c.tx.buf.Emit(events.Transfer{
		Account:   c.account.ID,
		Recipient: op.Recipient,
		Asset:     op.Asset,
		Amount:    net,
		Fee:       new(big.Int).Sub(op.Amount, net),
	})
	return nil
}

func (c *call) swap(op Swap) error {
	if len(op.Route) == 0 {
		return fmt.Errorf("%w: empty swap route", ErrInvalidOperation)
	}
	balance, err := c.spendable(op.AssetIn, op.AmountIn)
	if err != nil {
		return err
	}
	if err := c.releaseTracked(op.AssetIn, op.AmountIn, balance); err != nil {
		return err
	}
	current := directory.Amount{Asset: types.NormalizeAsset(op.AssetIn), Amount: common.CloneBig(op.AmountIn)}
	for i, hop := range op.Route {
		adapter, err := c.adapter(hop.Integration)
		if err != nil {
			return err
		}
		if err := c.tx.st.Move(c.account.ID, adapter.Custody(), current.Asset, current.Amount); err != nil {
			return err
		}
		out, err := adapter.Swap(c.tx.st, c.account.ID, current, hop.AssetOut, nil)
		if err != nil {
			return fmt.Errorf("wallet: swap hop %d: %w", i, err)
		}
		if !common.Positive(out.Amount) {
			return fmt.Errorf("%w: swap hop %d returned nothing", ErrSlippage, i)
		}
		if err := c.tx.st.Move(adapter.Custody(), c.account.ID, out.Asset, out.Amount); err != nil {
			return err
		}
		current = out
	}
	if op.MinOut != nil && current.Amount.Cmp(op.MinOut) < 0 {
		return fmt.Errorf("%w: got %s, want %s", ErrSlippage, current.Amount, op.MinOut)
	}
	net, err := c.quote(current.Asset, current.Amount)
	if err != nil {
		return err
	}
	c.sent(op.AssetIn, op.AmountIn)
	c.received(current.Asset, net)
	return nil
}

func (c *call) convert(op Convert) error {
	from, to := c.e.cfg.NativeAsset, c.e.cfg.WrappedAsset
	if op.Unwrap {
		from, to = to, from
	}
	if _, err := c.spendable(from, op.Amount); err != nil {
		return err
	}
	net, err := c.quote(from, op.Amount)
	if err != nil {
		return err
	}
	if !common.Positive(net) {
		return ErrInvalidAmount
	}
	if op.Unwrap {
		if err := c.tx.st.Debit(c.account.ID, from, net); err != nil {
			return err
		}
		if err := c.tx.st.Move(c.e.wrap, c.account.ID, to, net); err != nil {
			return err
		}
	} else {
		if err := c.tx.st.Move(c.account.ID, c.e.wrap, from, net); err != nil {
			return err
		}
		if err := c.tx.st.Credit(c.account.ID, to, net); err != nil {
			return err
		}
	}
	c.sent(from, net)
	c.received(to, net)
	return nil
}

func (c *call) addLiquidity(op AddLiquidity) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	if types.NormalizeAsset(op.AssetA) == types.NormalizeAsset(op.AssetB) {
		return fmt.Errorf("%w: identical pool assets", ErrInvalidOperation)
	}
	if _, err := c.spendable(op.AssetA, op.AmountA); err != nil {
		return err
	}
	if _, err := c.spendable(op.AssetB, op.AmountB); err != nil {
		return err
	}
	netA, err := c.quote(op.AssetA, op.AmountA)
	if err != nil {
		return err
	}
	netB, err := c.quote(op.AssetB, op.AmountB)
	if err != nil {
		return err
	}
	a := directory.Amount{Asset: types.NormalizeAsset(op.AssetA), Amount: netA}
	b := directory.Amount{Asset: types.NormalizeAsset(op.AssetB), Amount: netB}
	lp, usedA, usedB, err := adapter.AddLiquidity(c.tx.st, c.account.ID, a, b)
	if err != nil {
		return err
	}
	if err := c.tx.st.Move(c.account.ID, adapter.Custody(), a.Asset, usedA); err != nil {
		return err
	}
	if err := c.tx.st.Move(c.account.ID, adapter.Custody(), b.Asset, usedB); err != nil {
		return err
	}
	if err := c.tx.st.Credit(c.account.ID, lp.Asset, lp.Amount); err != nil {
		return err
	}
	// LP cost basis is kept in USD since the position spans two assets.
	basis := new(big.Int).Add(c.e.directory.UsdValue(a.Asset, usedA), c.e.directory.UsdValue(b.Asset, usedB))
	if err := c.tx.yield.OnEnter(c.account.ID, lp.Asset, lp.Amount, basis); err != nil {
		return err
	}
	c.sent(a.Asset, usedA)
	c.sent(b.Asset, usedB)
	c.received(lp.Asset, lp.Amount)
	return nil
}

func (c *call) removeLiquidity(op RemoveLiquidity) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	balance, err := c.spendable(op.LPToken, op.Liquidity)
	if err != nil {
		return err
	}
	if err := c.tx.st.Debit(c.account.ID, op.LPToken, op.Liquidity); err != nil {
		return err
	}
	outs, err := adapter.RemoveLiquidity(c.tx.st, c.account.ID, directory.Amount{Asset: types.NormalizeAsset(op.LPToken), Amount: op.Liquidity})
	if err != nil {
		return err
	}
	exit, err := c.tx.yield.OnExit(c.account.ID, op.LPToken, op.Liquidity, balance)
	if err != nil {
		return err
	}
	c.sent(op.LPToken, op.Liquidity)
	// The LP basis is in USD, so profit is measured on the USD value of the
	// proceeds and split back across the received assets by value.
	total := big.NewInt(0)
	for _, out := range outs {
		total.Add(total, c.e.directory.UsdValue(out.Asset, out.Amount))
	}
	profitUSD := exit.Profit(total)
	for _, out := range outs {
		if !common.Positive(out.Amount) {
			continue
		}
		if err := c.tx.st.Move(adapter.Custody(), c.account.ID, out.Asset, out.Amount); err != nil {
			return err
		}
		profit := common.MulDiv(out.Amount, profitUSD, total)
		if profit.Cmp(out.Amount) > 0 {
			profit.Set(out.Amount)
		}
		afterFee, err := c.quote(out.Asset, profit)
		if err != nil {
			return err
		}
		fee := new(big.Int).Sub(profit, afterFee)
		c.received(out.Asset, new(big.Int).Sub(out.Amount, fee))
	}
	return nil
}

// collect credits venue proceeds to the account, charging the fee on the
// full amount of each received asset.
func (c *call) collect(adapter directory.Adapter, outs []directory.Amount) error {
	for _, out := range outs {
		if !common.Positive(out.Amount) {
			continue
		}
		if err := c.tx.st.Move(adapter.Custody(), c.account.ID, out.Asset, out.Amount); err != nil {
			return err
		}
		net, err := c.quote(out.Asset, out.Amount)
		if err != nil {
			return err
		}
		c.received(out.Asset, net)
	}
	return nil
}

func (c *call) claimRewards(op ClaimRewards) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	outs, err := adapter.ClaimRewards(c.tx.st, c.account.ID)
	if err != nil {
		return err
	}
	return c.collect(adapter, outs)
}

func (c *call) borrow(op Borrow) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	if !common.Positive(op.Amount) {
		return ErrInvalidAmount
	}
	amount := directory.Amount{Asset: types.NormalizeAsset(op.Asset), Amount: op.Amount}
	if err := adapter.Borrow(c.tx.st, c.account.ID, amount); err != nil {
		return err
	}
	return c.collect(adapter, []directory.Amount{amount})
}

func (c *call) repay(op Repay) error {
	adapter, err := c.adapter(op.Integration)
	if err != nil {
		return err
	}
	if _, err := c.spendable(op.Asset, op.Amount); err != nil {
		return err
	}
	net, err := c.quote(op.Asset, op.Amount)
	if err != nil {
		return err
	}
	repaid, err := adapter.Repay(c.tx.st, c.account.ID, directory.Amount{Asset: types.NormalizeAsset(op.Asset), Amount: net})
	if err != nil {
		return err
	}
	if common.Positive(repaid) {
		if err := c.tx.st.Move(c.account.ID, adapter.Custody(), op.Asset, repaid); err != nil {
			return err
		}
	}
	c.sent(op.Asset, repaid)
	return nil
}

// checkReserves enforces the per-asset floors. Transfers always honour them;
// other outflows only when an agent acts.
func (c *call) checkReserves() error {
	if c.decision.Owner && c.kind != permissions.KindTransfer {
		return nil
	}
	s := c.st()
	for _, out := range c.res.Sent {
		reserve, err := s.reserve(c.account.ID, out.Asset)
		if err != nil {
			return err
		}
		if reserve.Sign() == 0 {
			continue
		}
		balance, err := c.tx.st.Balance(c.account.ID, out.Asset)
		if err != nil {
			return err
		}
		if balance.Cmp(reserve) < 0 {
			c.e.logger.Debug("wallet: reserve breached",
				slog.String("account", c.account.ID.Hex()),
				slog.String("asset", out.Asset),
				slog.String("balance", balance.String()),
				slog.String("reserve", reserve.String()))
			return fmt.Errorf("%w: %s balance %s below reserve %s", ErrReserveBreached, out.Asset, balance, reserve)
		}
	}
	return nil
}

// seedGuarded reports whether the operation kind can move value out of the
// seed asset's reach.
func (c *call) seedGuarded() bool {
	if !c.account.Seed.Active() {
		return false
	}
	switch c.kind {
	case permissions.KindTransfer, permissions.KindSwap, permissions.KindConversion, permissions.KindRepay:
		return true
	}
	return false
}

func (c *call) seedGuardValue() (*big.Int, error) {
	if !c.seedGuarded() {
		return nil, nil
	}
	return c.e.seedValue(c.tx, c.account)
}

// checkSeed rejects operations that push the seed asset value below the
// unrecovered grant. Fees paid in the seed asset are tolerated.
func (c *call) checkSeed(before *big.Int) error {
	if before == nil {
		return nil
	}
	after, err := c.e.seedValue(c.tx, c.account)
	if err != nil {
		return err
	}
	if after.Cmp(before) >= 0 {
		return nil
	}
	floor := new(big.Int).Set(c.account.Seed.Amount)
	if before.Cmp(floor) < 0 {
		floor.Set(before)
	}
	for _, leg := range c.res.Fees {
		if c.e.seedAsset(c.account, leg.Asset) {
			floor.Sub(floor, leg.Amount)
		}
	}
	if after.Cmp(floor) < 0 {
		return fmt.Errorf("%w: %s value %s below locked %s", ErrSeedFundsLocked, c.account.Seed.Asset, after, floor)
	}
	return nil
}
