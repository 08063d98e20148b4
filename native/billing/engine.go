package billing

import (
	"errors"
	"fmt"
	"math/big"

	"agentvault/core/events"
	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/permissions"
)

var (
	ErrInsufficientProtocolSubscription = common.NewKind(common.ErrInsufficientFunds, "billing: insufficient balance for protocol subscription")
	ErrInsufficientAgentSubscription    = common.NewKind(common.ErrInsufficientFunds, "billing: insufficient balance for agent subscription")
	ErrInsufficientFee                  = common.NewKind(common.ErrInsufficientFunds, "billing: insufficient balance for fee")
)

// Fee leg roles.
const (
	RoleProtocol   = "protocol"
	RoleAgent      = "agent"
	RoleAmbassador = "ambassador"
)

// Subscription scopes.
const (
	ScopeProtocol = "protocol"
	ScopeAgent    = "agent"
)

// Pricer converts USD values (1e18 scaled) into asset amounts. The boolean
// is false when no price is available.
type Pricer interface {
	AssetAmountForUSD(asset string, usd *big.Int) (*big.Int, bool)
}

type ledger interface {
	Balance(addr types.Address, asset string) (*big.Int, error)
	Move(from, to types.Address, asset string, amount *big.Int) error
}

// Split is the outcome of a fee computation. Any leg may be zero.
type Split struct {
	Asset               string
	Protocol            *big.Int
	ProtocolRecipient   types.Address
	Agent               *big.Int
	AgentRecipient      types.Address
	Ambassador          *big.Int
	AmbassadorRecipient types.Address
}

// Total sums every leg.
func (s Split) Total() *big.Int {
	total := new(big.Int)
	for _, v := range []*big.Int{s.Protocol, s.Agent, s.Ambassador} {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}

// Legs returns the non-zero legs.
func (s Split) Legs() []events.FeeLeg {
	var legs []events.FeeLeg
	add := func(role string, amount *big.Int, recipient types.Address) {
		if common.Positive(amount) {
			legs = append(legs, events.FeeLeg{Role: role, Asset: s.Asset, Amount: new(big.Int).Set(amount), Recipient: recipient})
		}
	}
	add(RoleProtocol, s.Protocol, s.ProtocolRecipient)
	add(RoleAgent, s.Agent, s.AgentRecipient)
	add(RoleAmbassador, s.Ambassador, s.AmbassadorRecipient)
	return legs
}

// Engine computes and applies transaction fees and subscription charges.
type Engine struct {
	policy *PolicyStore
	grants *permissions.Store
	ledger ledger
	pricer Pricer
}

// NewEngine wires the billing engine over a single state transaction.
func NewEngine(manager *state.Manager, limits Limits, pricer Pricer) *Engine {
	return &Engine{
		policy: NewPolicyStore(manager, limits),
		grants: permissions.NewStore(manager),
		ledger: manager,
		pricer: pricer,
	}
}

// Policy exposes the policy store the engine reads.
func (e *Engine) Policy() *PolicyStore { return e.policy }

// ComputeFee splits the fee owed on gross. The agent leg is skipped when agent
// is zero (the owner acted); the protocol leg never is.
func (e *Engine) ComputeFee(account *types.Account, kind permissions.OperationKind, asset string, gross *big.Int, agent types.Address) (Split, error) {
	split := Split{
		Asset:      types.NormalizeAsset(asset),
		Protocol:   big.NewInt(0),
		Agent:      big.NewInt(0),
		Ambassador: big.NewInt(0),
	}
	if account == nil || !common.Positive(gross) {
		return split, nil
	}
	recipient, err := e.policy.ProtocolRecipient()
	if err != nil {
		return split, err
	}
	if !recipient.IsZero() {
		sheet, err := e.policy.ProtocolFeeSheet()
		if err != nil {
			return split, err
		}
		split.Protocol = common.ApplyBps(gross, sheet.For(kind))
		split.ProtocolRecipient = recipient
	}
	if !agent.IsZero() {
		sheet, err := e.policy.AgentFeeSheet(agent)
		if err != nil {
			return split, err
		}
		split.Agent = common.ApplyBps(gross, sheet.For(kind))
		split.AgentRecipient = sheet.Recipient
	}
	if err := e.splitAmbassador(account, &split); err != nil {
		return split, err
	}
	return split, nil
}

func (e *Engine) splitAmbassador(account *types.Account, split *Split) error {
	if account.Ambassador.IsZero() || !common.Positive(split.Protocol) {
		return nil
	}
	ratio, err := e.policy.AmbassadorRatio(account.ID)
	if err != nil {
		return err
	}
	share := common.ApplyBps(split.Protocol, ratio)
	split.Ambassador = share
	split.AmbassadorRecipient = account.Ambassador
	split.Protocol = new(big.Int).Sub(split.Protocol, share)
	return nil
}

// PayFee routes each non-zero leg out of payer.
func (e *Engine) PayFee(payer types.Address, split Split) error {
	total := split.Total()
	if total.Sign() == 0 {
		return nil
	}
	balance, err := e.ledger.Balance(payer, split.Asset)
	if err != nil {
		return err
	}
	if balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: need %s %s, have %s", ErrInsufficientFee, total, split.Asset, balance)
	}
	for _, leg := range split.Legs() {
		if err := e.ledger.Move(payer, leg.Recipient, leg.Asset, leg.Amount); err != nil {
			return err
		}
	}
	return nil
}

// Advance computes the subscription transition at now. It returns the next
// state, the USD amount due, whether a trial started, and whether the state
// changed. Periods stack on the previous paid-through tick so late payment
// never shifts the schedule.
func Advance(sub types.Subscription, terms *Terms, now uint64) (next types.Subscription, dueUSD *big.Int, trial bool, changed bool) {
	next = sub
	dueUSD = big.NewInt(0)
	if terms == nil {
		next.PaidThrough = 0
		return next, dueUSD, false, true
	}
	if next.InstalledAt == 0 {
		next.InstalledAt = now
	}
	switch {
	case sub.PaidThrough == 0:
		next.PaidThrough = now + terms.Trial
		return next, dueUSD, true, true
	case now > sub.PaidThrough:
		next.PaidThrough = sub.PaidThrough + terms.Period
		return next, common.CloneBig(terms.PriceUSD), false, true
	default:
		return next, dueUSD, false, next != sub
	}
}

// ChargeSubscriptions runs the protocol subscription and, when agent is
// non-zero, that agent's subscription. The account header and grant are
// updated in place and persisted by the caller and the engine respectively.
func (e *Engine) ChargeSubscriptions(account *types.Account, agent types.Address, now uint64) ([]events.SubscriptionPaid, error) {
	if account == nil {
		return nil, errors.New("billing: nil account")
	}
	var paid []events.SubscriptionPaid

	terms, err := e.policy.ProtocolSubscriptionTerms()
	if err != nil {
		return nil, err
	}
	next, due, trial, _ := Advance(account.Protocol, terms, now)
	if terms != nil {
		recipient, err := e.policy.ProtocolRecipient()
		if err != nil {
			return nil, err
		}
		split := Split{Asset: terms.Asset, ProtocolRecipient: recipient}
		if split.Protocol, err = e.collect(account.ID, terms, due, recipient, ErrInsufficientProtocolSubscription); err != nil {
			return nil, err
		}
		if err := e.splitAmbassador(account, &split); err != nil {
			return nil, err
		}
		if err := e.route(account.ID, split); err != nil {
			return nil, err
		}
		if trial || split.Total().Sign() > 0 || due.Sign() > 0 {
			paid = append(paid, events.SubscriptionPaid{
				Account: account.ID, Scope: ScopeProtocol, Trial: trial, PaidThrough: next.PaidThrough,
				Asset: terms.Asset, USDValue: due, Legs: split.Legs(),
			})
		}
	}
	account.Protocol = next

	if agent.IsZero() {
		return paid, nil
	}
	grant, ok, err := e.grants.Get(account.ID, agent)
	if err != nil || !ok {
		return paid, err
	}
	terms, err = e.policy.AgentSubscriptionTerms(agent)
	if err != nil {
		return nil, err
	}
	next, due, trial, changed := Advance(grant.Subscription, terms, now)
	if terms != nil {
		sheet, err := e.policy.AgentFeeSheet(agent)
		if err != nil {
			return nil, err
		}
		split := Split{Asset: terms.Asset, AgentRecipient: sheet.Recipient}
		if split.Agent, err = e.collect(account.ID, terms, due, sheet.Recipient, ErrInsufficientAgentSubscription); err != nil {
			return nil, err
		}
		if err := e.route(account.ID, split); err != nil {
			return nil, err
		}
		if trial || due.Sign() > 0 {
			paid = append(paid, events.SubscriptionPaid{
				Account: account.ID, Agent: agent, Scope: ScopeAgent, Trial: trial, PaidThrough: next.PaidThrough,
				Asset: terms.Asset, USDValue: due, Legs: split.Legs(),
			})
		}
	}
	if changed {
		grant.Subscription = next
		if err := e.grants.Put(account.ID, agent, grant); err != nil {
			return nil, err
		}
	}
	return paid, nil
}

// collect converts the USD amount due into the terms asset and checks the
// payer can cover it. A missing price or recipient makes the charge zero.
func (e *Engine) collect(payer types.Address, terms *Terms, dueUSD *big.Int, recipient types.Address, insufficient error) (*big.Int, error) {
	if !common.Positive(dueUSD) || recipient.IsZero() || e.pricer == nil {
		return big.NewInt(0), nil
	}
	amount, ok := e.pricer.AssetAmountForUSD(terms.Asset, dueUSD)
	if !ok || !common.Positive(amount) {
		return big.NewInt(0), nil
	}
	balance, err := e.ledger.Balance(payer, terms.Asset)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: need %s %s, have %s", insufficient, amount, terms.Asset, balance)
	}
	return amount, nil
}

func (e *Engine) route(payer types.Address, split Split) error {
	for _, leg := range split.Legs() {
		if err := e.ledger.Move(payer, leg.Recipient, leg.Asset, leg.Amount); err != nil {
			return err
		}
	}
	return nil
}
