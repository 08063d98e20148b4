package billing

import (
	"errors"
	"math/big"

	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/permissions"
)

const (
	// MaxFeeBps caps each protocol or agent fee leg at 10%.
	MaxFeeBps uint32 = 1_000
	// MaxAmbassadorBps caps the ambassador share of the protocol leg.
	MaxAmbassadorBps uint32 = common.BpsDenominator
)

var errNilState = errors.New("billing: state not configured")

type policyState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	protocolFeesKey         = []byte("billing/protocol/fees")
	protocolSubscriptionKey = []byte("billing/protocol/subscription")
	protocolRecipientKey    = []byte("billing/protocol/recipient")
	ambassadorDefaultKey    = []byte("billing/ambassador/default")
	ambassadorAccountPrefix = []byte("billing/ambassador/account/")
	agentSheetPrefix        = []byte("billing/agent/sheet/")
	agentSubscriptionPrefix = []byte("billing/agent/subscription/")
)

// FeeSheet holds fee percentages in basis points indexed by operation kind.
type FeeSheet struct {
	Bps []uint32
}

// For returns the fee for kind, zero when unset.
func (s FeeSheet) For(kind permissions.OperationKind) uint32 {
	if int(kind) >= len(s.Bps) {
		return 0
	}
	return s.Bps[kind]
}

func (s *FeeSheet) set(kind permissions.OperationKind, bps uint32) {
	for len(s.Bps) <= int(kind) {
		s.Bps = append(s.Bps, 0)
	}
	s.Bps[kind] = bps
}

// AgentSheet is an agent's fee sheet plus the address its fees route to.
type AgentSheet struct {
	FeeSheet
	Recipient types.Address
}

// Terms describes a subscription. PriceUSD is scaled to 1e18 per dollar.
type Terms struct {
	Asset    string
	PriceUSD *big.Int
	Trial    uint64
	Period   uint64
}

// Limits bounds subscription configuration.
type Limits struct {
	MaxTrial  uint64
	MaxPeriod uint64
}

// DefaultLimits allows up to one million ticks of trial or period.
func DefaultLimits() Limits {
	return Limits{MaxTrial: 1_000_000, MaxPeriod: 1_000_000}
}

// PolicyStore is the billing policy ("price sheets") store. Setters report
// false and leave state untouched when the input is invalid; the error return
// is reserved for storage failures.
type PolicyStore struct {
	state  policyState
	limits Limits
}

// NewPolicyStore binds the policy store to state.
func NewPolicyStore(state policyState, limits Limits) *PolicyStore {
	if limits.MaxTrial == 0 && limits.MaxPeriod == 0 {
		limits = DefaultLimits()
	}
	return &PolicyStore{state: state, limits: limits}
}

func addressKey(prefix []byte, addr types.Address) []byte {
	return append(append([]byte(nil), prefix...), addr[:]...)
}

// ProtocolFeeSheet returns the protocol fee sheet.
func (p *PolicyStore) ProtocolFeeSheet() (FeeSheet, error) {
	var sheet FeeSheet
	if p == nil || p.state == nil {
		return sheet, errNilState
	}
	_, err := p.state.KVGet(protocolFeesKey, &sheet)
	return sheet, err
}

// SetProtocolFee sets the protocol fee for kind.
func (p *PolicyStore) SetProtocolFee(kind permissions.OperationKind, bps uint32) (bool, error) {
	if !kind.Valid() || bps > MaxFeeBps {
		return false, nil
	}
	sheet, err := p.ProtocolFeeSheet()
	if err != nil {
		return false, err
	}
	sheet.set(kind, bps)
	return true, p.state.KVPut(protocolFeesKey, sheet)
}

// AgentFeeSheet returns the fee sheet of agent. Fees route to the agent
// itself unless a recipient was configured.
func (p *PolicyStore) AgentFeeSheet(agent types.Address) (AgentSheet, error) {
	var sheet AgentSheet
	if p == nil || p.state == nil {
		return sheet, errNilState
	}
	if _, err := p.state.KVGet(addressKey(agentSheetPrefix, agent), &sheet); err != nil {
		return sheet, err
	}
	if sheet.Recipient.IsZero() {
		sheet.Recipient = agent
	}
	return sheet, nil
}

// SetAgentFee sets the fee agent charges for kind.
func (p *PolicyStore) SetAgentFee(agent types.Address, kind permissions.OperationKind, bps uint32) (bool, error) {
	if agent.IsZero() || !kind.Valid() || bps > MaxFeeBps {
		return false, nil
	}
	sheet, err := p.storedAgentSheet(agent)
	if err != nil {
		return false, err
	}
	sheet.set(kind, bps)
	return true, p.state.KVPut(addressKey(agentSheetPrefix, agent), sheet)
}

// SetAgentRecipient routes agent fees to recipient.
func (p *PolicyStore) SetAgentRecipient(agent, recipient types.Address) (bool, error) {
	if agent.IsZero() || recipient.IsZero() {
		return false, nil
	}
	sheet, err := p.storedAgentSheet(agent)
	if err != nil {
		return false, err
	}
	sheet.Recipient = recipient
	return true, p.state.KVPut(addressKey(agentSheetPrefix, agent), sheet)
}

func (p *PolicyStore) storedAgentSheet(agent types.Address) (AgentSheet, error) {
	var sheet AgentSheet
	if p == nil || p.state == nil {
		return sheet, errNilState
	}
	_, err := p.state.KVGet(addressKey(agentSheetPrefix, agent), &sheet)
	return sheet, err
}

func (p *PolicyStore) validTerms(terms Terms) bool {
	if types.NormalizeAsset(terms.Asset) == "" {
		return false
	}
	if terms.PriceUSD != nil && terms.PriceUSD.Sign() < 0 {
		return false
	}
	if terms.Period == 0 || terms.Period > p.limits.MaxPeriod || terms.Trial > p.limits.MaxTrial {
		return false
	}
	return true
}

func normalizeTerms(terms Terms) Terms {
	terms.Asset = types.NormalizeAsset(terms.Asset)
	terms.PriceUSD = common.CloneBig(terms.PriceUSD)
	return terms
}

func (p *PolicyStore) terms(key []byte) (*Terms, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	terms := new(Terms)
	ok, err := p.state.KVGet(key, terms)
	if err != nil || !ok {
		return nil, err
	}
	return terms, nil
}

// ProtocolSubscriptionTerms returns the protocol subscription, nil when none
// is configured.
func (p *PolicyStore) ProtocolSubscriptionTerms() (*Terms, error) {
	return p.terms(protocolSubscriptionKey)
}

// SetProtocolSubscription configures the protocol subscription.
func (p *PolicyStore) SetProtocolSubscription(terms Terms) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	if !p.validTerms(terms) {
		return false, nil
	}
	return true, p.state.KVPut(protocolSubscriptionKey, normalizeTerms(terms))
}

// ClearProtocolSubscription removes the protocol subscription.
func (p *PolicyStore) ClearProtocolSubscription() error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return p.state.KVDelete(protocolSubscriptionKey)
}

// AgentSubscriptionTerms returns the subscription agent charges, nil when
// none is configured.
func (p *PolicyStore) AgentSubscriptionTerms(agent types.Address) (*Terms, error) {
	return p.terms(addressKey(agentSubscriptionPrefix, agent))
}

// SetAgentSubscription configures the subscription agent charges.
func (p *PolicyStore) SetAgentSubscription(agent types.Address, terms Terms) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	if agent.IsZero() || !p.validTerms(terms) {
		return false, nil
	}
	return true, p.state.KVPut(addressKey(agentSubscriptionPrefix, agent), normalizeTerms(terms))
}

// ClearAgentSubscription removes the subscription of agent.
func (p *PolicyStore) ClearAgentSubscription(agent types.Address) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	return p.state.KVDelete(addressKey(agentSubscriptionPrefix, agent))
}

// ProtocolRecipient returns the address protocol fees route to.
func (p *PolicyStore) ProtocolRecipient() (types.Address, error) {
	var recipient types.Address
	if p == nil || p.state == nil {
		return recipient, errNilState
	}
	_, err := p.state.KVGet(protocolRecipientKey, &recipient)
	return recipient, err
}

// SetProtocolRecipient routes protocol fees to recipient.
func (p *PolicyStore) SetProtocolRecipient(recipient types.Address) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	if recipient.IsZero() {
		return false, nil
	}
	return true, p.state.KVPut(protocolRecipientKey, recipient)
}

// AmbassadorRatio returns the share of the protocol leg paid to the
// account's ambassador. A per-account ratio overrides the default.
func (p *PolicyStore) AmbassadorRatio(account types.Address) (uint32, error) {
	if p == nil || p.state == nil {
		return 0, errNilState
	}
	var ratio uint32
	ok, err := p.state.KVGet(addressKey(ambassadorAccountPrefix, account), &ratio)
	if err != nil || ok {
		return ratio, err
	}
	_, err = p.state.KVGet(ambassadorDefaultKey, &ratio)
	return ratio, err
}

// SetDefaultAmbassadorRatio sets the ratio applied to accounts without an
// override.
func (p *PolicyStore) SetDefaultAmbassadorRatio(bps uint32) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	if bps > MaxAmbassadorBps {
		return false, nil
	}
	return true, p.state.KVPut(ambassadorDefaultKey, bps)
}

// SetAccountAmbassadorRatio overrides the ratio for one account.
func (p *PolicyStore) SetAccountAmbassadorRatio(account types.Address, bps uint32) (bool, error) {
	if p == nil || p.state == nil {
		return false, errNilState
	}
	if account.IsZero() || bps > MaxAmbassadorBps {
		return false, nil
	}
	return true, p.state.KVPut(addressKey(ambassadorAccountPrefix, account), bps)
}
