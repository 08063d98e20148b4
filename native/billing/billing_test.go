package billing

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/permissions"
	"agentvault/storage"
)

// unitPricer prices every asset at one dollar per base unit.
type unitPricer struct{ missing map[string]bool }

func (p unitPricer) AssetAmountForUSD(asset string, usd *big.Int) (*big.Int, bool) {
	if p.missing[asset] {
		return nil, false
	}
	return new(big.Int).Quo(usd, big.NewInt(1e18)), true
}

var (
	protocolAddr   = types.Address{0xF0}
	ambassadorAddr = types.Address{0xAB}
	agentAddr      = types.Address{0x0A}
)

func usd(dollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(dollars), big.NewInt(1e18))
}

func newEngine(t *testing.T, pricer Pricer) (*Engine, *state.Manager, *types.Account) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	engine := NewEngine(manager, DefaultLimits(), pricer)
	ok, err := engine.Policy().SetProtocolRecipient(protocolAddr)
	require.NoError(t, err)
	require.True(t, ok)
	account := &types.Account{ID: types.Address{0x01}, Owner: types.Address{0x02}}
	require.NoError(t, manager.PutAccount(account))
	return engine, manager, account
}

func TestSettersRejectAboveCeiling(t *testing.T) {
	engine, _, _ := newEngine(t, unitPricer{})
	policy := engine.Policy()
	ok, err := policy.SetProtocolFee(permissions.KindSwap, MaxFeeBps+1)
	require.NoError(t, err)
	require.False(t, ok)
	ok, _ = policy.SetProtocolFee(permissions.KindSwap, MaxFeeBps)
	require.True(t, ok)
	ok, _ = policy.SetAgentFee(agentAddr, permissions.KindSwap, 5_000)
	require.False(t, ok)
	ok, _ = policy.SetDefaultAmbassadorRatio(MaxAmbassadorBps + 1)
	require.False(t, ok)
	ok, _ = policy.SetProtocolSubscription(Terms{Asset: "USDC", Period: 0})
	require.False(t, ok)
	ok, _ = policy.SetProtocolRecipient(types.Address{})
	require.False(t, ok)

	sheet, err := policy.ProtocolFeeSheet()
	require.NoError(t, err)
	require.Equal(t, MaxFeeBps, sheet.For(permissions.KindSwap))
}

func TestComputeFeeSplitsAmbassadorFromProtocolLeg(t *testing.T) {
	engine, _, account := newEngine(t, unitPricer{})
	account.Ambassador = ambassadorAddr
	policy := engine.Policy()
	_, _ = policy.SetProtocolFee(permissions.KindDeposit, 100)
	_, _ = policy.SetAgentFee(agentAddr, permissions.KindDeposit, 50)
	_, _ = policy.SetDefaultAmbassadorRatio(2_500)

	split, err := engine.ComputeFee(account, permissions.KindDeposit, "usdc", big.NewInt(10_000), agentAddr)
	require.NoError(t, err)
	require.Equal(t, int64(75), split.Protocol.Int64())
	require.Equal(t, int64(25), split.Ambassador.Int64())
	require.Equal(t, int64(50), split.Agent.Int64())
	require.Equal(t, agentAddr, split.AgentRecipient)
	require.Len(t, split.Legs(), 3)

	owner, err := engine.ComputeFee(account, permissions.KindDeposit, "USDC", big.NewInt(10_000), types.Address{})
	require.NoError(t, err)
	require.Zero(t, owner.Agent.Sign(), "owner calls skip the agent leg")
	require.Equal(t, int64(100), owner.Total().Int64(), "protocol leg is never owner-exempt")
}

func TestPayFeeFailsClosed(t *testing.T) {
	engine, manager, account := newEngine(t, unitPricer{})
	_, _ = engine.Policy().SetProtocolFee(permissions.KindTransfer, 1_000)
	require.NoError(t, manager.Credit(account.ID, "USDC", big.NewInt(5)))
	split, err := engine.ComputeFee(account, permissions.KindTransfer, "USDC", big.NewInt(100), types.Address{})
	require.NoError(t, err)
	err = engine.PayFee(account.ID, split)
	require.ErrorIs(t, err, ErrInsufficientFee)
	require.ErrorIs(t, err, common.ErrInsufficientFunds)
}

func TestSubscriptionTrialThenPay(t *testing.T) {
	engine, manager, account := newEngine(t, unitPricer{})
	ok, err := engine.Policy().SetProtocolSubscription(Terms{Asset: "USDC", PriceUSD: usd(10), Trial: 5, Period: 20})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, manager.Credit(account.ID, "USDC", big.NewInt(25)))

	paid, err := engine.ChargeSubscriptions(account, types.Address{}, 100)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	require.True(t, paid[0].Trial)
	require.Equal(t, uint64(105), account.Protocol.PaidThrough)

	paid, err = engine.ChargeSubscriptions(account, types.Address{}, 105)
	require.NoError(t, err)
	require.Empty(t, paid)

	_, err = engine.ChargeSubscriptions(account, types.Address{}, 140)
	require.NoError(t, err)
	require.Equal(t, uint64(125), account.Protocol.PaidThrough, "periods stack on the previous paid-through tick")
	bal, _ := manager.Balance(protocolAddr, "USDC")
	require.Equal(t, int64(10), bal.Int64())

	_, err = engine.ChargeSubscriptions(account, types.Address{}, 141)
	require.NoError(t, err)
	require.Equal(t, uint64(145), account.Protocol.PaidThrough)

	_, err = engine.ChargeSubscriptions(account, types.Address{}, 146)
	require.ErrorIs(t, err, ErrInsufficientProtocolSubscription)
}

func TestSubscriptionWithoutPolicyClearsPaidThrough(t *testing.T) {
	engine, _, account := newEngine(t, unitPricer{})
	account.Protocol.PaidThrough = 500
	_, err := engine.ChargeSubscriptions(account, types.Address{}, 10)
	require.NoError(t, err)
	require.Zero(t, account.Protocol.PaidThrough)
}

func TestSubscriptionPricingOutageChargesNothing(t *testing.T) {
	engine, _, account := newEngine(t, unitPricer{missing: map[string]bool{"USDC": true}})
	_, _ = engine.Policy().SetProtocolSubscription(Terms{Asset: "USDC", PriceUSD: usd(10), Period: 10})
	account.Protocol.PaidThrough = 1
	_, err := engine.ChargeSubscriptions(account, types.Address{}, 50)
	require.NoError(t, err, "an unpriced asset is charged as zero")
	require.Equal(t, uint64(11), account.Protocol.PaidThrough)
}

func TestAgentSubscriptionOnlyForActingAgent(t *testing.T) {
	engine, manager, account := newEngine(t, unitPricer{})
	store := permissions.NewStore(manager)
	_, _, err := store.Upsert(account, agentAddr, permissions.Config{}, 1)
	require.NoError(t, err)
	_, _ = engine.Policy().SetAgentSubscription(agentAddr, Terms{Asset: "USDC", PriceUSD: usd(3), Trial: 0, Period: 10})

	_, err = engine.ChargeSubscriptions(account, types.Address{}, 10)
	require.NoError(t, err)
	grant, _, _ := store.Get(account.ID, agentAddr)
	require.Zero(t, grant.Subscription.PaidThrough)

	paid, err := engine.ChargeSubscriptions(account, agentAddr, 10)
	require.NoError(t, err)
	require.Len(t, paid, 1)
	grant, _, _ = store.Get(account.ID, agentAddr)
	require.Equal(t, uint64(10), grant.Subscription.PaidThrough)

	_, err = engine.ChargeSubscriptions(account, agentAddr, 11)
	require.True(t, errors.Is(err, ErrInsufficientAgentSubscription))
}

func TestPaidThroughMonotoneUnderLatePayment(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	terms := &Terms{Asset: "USDC", PriceUSD: usd(1), Trial: 3, Period: 10}
	var sub types.Subscription
	now := uint64(1)
	for i := 0; i < 500; i++ {
		now += uint64(rng.Intn(40))
		prev := sub.PaidThrough
		next, due, trial, _ := Advance(sub, terms, now)
		if next.PaidThrough < prev {
			t.Fatalf("paid-through moved backwards: %d -> %d", prev, next.PaidThrough)
		}
		if !trial && due.Sign() > 0 && next.PaidThrough != prev+terms.Period {
			t.Fatalf("expected stacked period: prev=%d next=%d", prev, next.PaidThrough)
		}
		sub = next
	}
}

func TestDecodeSheetsTOML(t *testing.T) {
	blob := []byte(`
protocol_recipient = "0xf000000000000000000000000000000000000000"
ambassador_ratio_bps = 2000

[protocol_fees]
deposit = 25
remove_liquidity = 50

[protocol_subscription]
asset = "usdc"
price_usd = "9.99"
trial_ticks = 100
period_ticks = 1000

[[agents]]
agent = "0x0a00000000000000000000000000000000000000"
[agents.fees]
swap = 30
`)
	sheets, err := DecodeSheetsTOML(blob)
	require.NoError(t, err)
	require.Equal(t, uint32(2000), sheets.AmbassadorRatioBps)
	require.Equal(t, uint32(50), sheets.ProtocolFees["remove_liquidity"])
	require.Len(t, sheets.Agents, 1)

	engine, _, _ := newEngine(t, unitPricer{})
	require.NoError(t, engine.Policy().Apply(sheets))
	terms, err := engine.Policy().ProtocolSubscriptionTerms()
	require.NoError(t, err)
	require.NotNil(t, terms)
	require.Equal(t, "USDC", terms.Asset)
	want, _ := new(big.Int).SetString("9990000000000000000", 10)
	require.Zero(t, want.Cmp(terms.PriceUSD))
	sheet, err := engine.Policy().AgentFeeSheet(agentAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(30), sheet.For(permissions.KindSwap))
}

func TestApplyReportsRejectedEntries(t *testing.T) {
	engine, _, _ := newEngine(t, unitPricer{})
	err := engine.Policy().Apply(Sheets{ProtocolFees: map[string]uint32{"swap": 5_000, "deposit": 10}})
	require.ErrorIs(t, err, common.ErrInvalidConfiguration)
	sheet, _ := engine.Policy().ProtocolFeeSheet()
	require.Equal(t, uint32(10), sheet.For(permissions.KindDeposit))
	require.Zero(t, sheet.For(permissions.KindSwap))
}
