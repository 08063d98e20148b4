package permissions

import (
	"errors"
	"fmt"
	"sort"

	"agentvault/core/types"
	"agentvault/native/common"
)

var (
	ErrAgentNotFound  = common.NewKind(common.ErrPermissionDenied, "permissions: agent not found")
	ErrAgentNotActive = common.NewKind(common.ErrPermissionDenied, "permissions: agent not active")
	ErrAgentIsOwner   = common.NewKind(common.ErrInvalidConfiguration, "permissions: agent cannot be the account owner")
	ErrInvalidAgent   = common.NewKind(common.ErrInvalidConfiguration, "permissions: agent address required")

	errNilState = errors.New("permissions: state not configured")
)

type storeState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVList(key []byte) ([][]byte, error)
}

var (
	grantPrefix      = []byte("permissions/grant/")
	grantIndexPrefix = []byte("permissions/agents/")
)

// Grant is the persisted permission record of one (account, agent) pair.
type Grant struct {
	Active          bool
	Assets          []string
	Integrations    []uint64
	Kinds           KindSet
	KindsConfigured bool
	InstalledAt     uint64
	Subscription    types.Subscription
}

// Clone returns a deep copy of the grant.
func (g *Grant) Clone() *Grant {
	if g == nil {
		return nil
	}
	clone := *g
	clone.Assets = append([]string(nil), g.Assets...)
	clone.Integrations = append([]uint64(nil), g.Integrations...)
	return &clone
}

// EffectiveKinds returns the allowed kinds, treating a never-configured set
// as all kinds.
func (g *Grant) EffectiveKinds() KindSet {
	if g == nil {
		return 0
	}
	if !g.KindsConfigured {
		return FullKindSet
	}
	return g.Kinds
}

// AllowsAsset reports whether asset passes the asset allow-list.
func (g *Grant) AllowsAsset(asset string) bool {
	if len(g.Assets) == 0 {
		return true
	}
	asset = types.NormalizeAsset(asset)
	idx := sort.SearchStrings(g.Assets, asset)
	return idx < len(g.Assets) && g.Assets[idx] == asset
}

// AllowsIntegration reports whether id passes the integration allow-list.
func (g *Grant) AllowsIntegration(id types.IntegrationID) bool {
	if len(g.Integrations) == 0 {
		return true
	}
	for _, allowed := range g.Integrations {
		if allowed == uint64(id) {
			return true
		}
	}
	return false
}

// Config carries the owner-supplied parts of a grant.
type Config struct {
	Assets       []string
	Integrations []types.IntegrationID
	// Kinds is nil for an unconfigured kind set (all kinds allowed). Upsert
	// replaces the whole grant, so nil also clears a previously set list.
	Kinds []OperationKind
}

func normalizeAssets(assets []string) []string {
	seen := make(map[string]struct{}, len(assets))
	out := make([]string, 0, len(assets))
	for _, asset := range assets {
		asset = types.NormalizeAsset(asset)
		if asset == "" {
			continue
		}
		if _, ok := seen[asset]; ok {
			continue
		}
		seen[asset] = struct{}{}
		out = append(out, asset)
	}
	sort.Strings(out)
	return out
}

func normalizeIntegrations(ids []types.IntegrationID) []uint64 {
	seen := make(map[uint64]struct{}, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[uint64(id)]; ok {
			continue
		}
		seen[uint64(id)] = struct{}{}
		out = append(out, uint64(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Store persists agent grants.
type Store struct {
	state storeState
}

// NewStore binds a store to the supplied state backend.
func NewStore(state storeState) *Store {
	return &Store{state: state}
}

func grantKey(account, agent types.Address) []byte {
	key := make([]byte, 0, len(grantPrefix)+40)
	key = append(key, grantPrefix...)
	key = append(key, account[:]...)
	return append(key, agent[:]...)
}

func grantIndexKey(account types.Address) []byte {
	return append(append([]byte(nil), grantIndexPrefix...), account[:]...)
}

// Get loads the grant for (account, agent).
func (s *Store) Get(account, agent types.Address) (*Grant, bool, error) {
	if s == nil || s.state == nil {
		return nil, false, errNilState
	}
	grant := new(Grant)
	ok, err := s.state.KVGet(grantKey(account, agent), grant)
	if err != nil || !ok {
		return nil, ok, err
	}
	return grant, true, nil
}

// Put stores the grant and indexes the agent under the account.
func (s *Store) Put(account, agent types.Address, grant *Grant) error {
	if s == nil || s.state == nil {
		return errNilState
	}
	if grant == nil {
		return fmt.Errorf("permissions: nil grant")
	}
	if err := s.state.KVAppend(grantIndexKey(account), agent.Bytes()); err != nil {
		return err
	}
	return s.state.KVPut(grantKey(account, agent), grant)
}

// Agents lists every agent that ever held a grant on the account.
func (s *Store) Agents(account types.Address) ([]types.Address, error) {
	if s == nil || s.state == nil {
		return nil, errNilState
	}
	list, err := s.state.KVList(grantIndexKey(account))
	if err != nil {
		return nil, err
	}
	out := make([]types.Address, 0, len(list))
	for _, raw := range list {
		out = append(out, types.BytesToAddress(raw))
	}
	return out, nil
}

// Active returns the grant when the agent is active on the account.
func (s *Store) Active(account, agent types.Address) (*Grant, error) {
	grant, ok, err := s.Get(account, agent)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAgentNotFound
	}
	if !grant.Active {
		return nil, ErrAgentNotActive
	}
	return grant, nil
}

// Upsert installs or updates an agent grant. The boolean reports whether the
// agent was newly added.
func (s *Store) Upsert(account *types.Account, agent types.Address, cfg Config, now uint64) (*Grant, bool, error) {
	if account == nil {
		return nil, false, fmt.Errorf("permissions: nil account")
	}
	if agent.IsZero() {
		return nil, false, ErrInvalidAgent
	}
	if agent == account.Owner {
		return nil, false, ErrAgentIsOwner
	}
	grant, existed, err := s.Get(account.ID, agent)
	if err != nil {
		return nil, false, err
	}
	if !existed {
		grant = &Grant{InstalledAt: now}
	}
	added := !existed || !grant.Active
	if grant.InstalledAt == 0 {
		grant.InstalledAt = now
	}
	grant.Active = true
	grant.Assets = normalizeAssets(cfg.Assets)
	grant.Integrations = normalizeIntegrations(cfg.Integrations)
	grant.Kinds, grant.KindsConfigured = 0, false
	if cfg.Kinds != nil {
		grant.Kinds = NewKindSet(cfg.Kinds...)
		grant.KindsConfigured = true
	}
	if err := s.Put(account.ID, agent, grant); err != nil {
		return nil, false, err
	}
	return grant, added, nil
}

// SetAssets replaces the asset allow-list of an active agent.
func (s *Store) SetAssets(account, agent types.Address, assets []string) (*Grant, error) {
	return s.update(account, agent, func(g *Grant) { g.Assets = normalizeAssets(assets) })
}

// SetIntegrations replaces the integration allow-list of an active agent.
func (s *Store) SetIntegrations(account, agent types.Address, ids []types.IntegrationID) (*Grant, error) {
	return s.update(account, agent, func(g *Grant) { g.Integrations = normalizeIntegrations(ids) })
}

// SetKinds replaces the operation kind allow-list of an active agent.
func (s *Store) SetKinds(account, agent types.Address, kinds []OperationKind) (*Grant, error) {
	return s.update(account, agent, func(g *Grant) {
		g.Kinds = NewKindSet(kinds...)
		g.KindsConfigured = true
	})
}

// Disable deactivates an agent while keeping its allow-lists for audit.
func (s *Store) Disable(account, agent types.Address) (*Grant, error) {
	return s.update(account, agent, func(g *Grant) { g.Active = false })
}

// Deactivate disables the agent if it is active and reports whether it was.
// Used when the agent becomes the account owner.
func (s *Store) Deactivate(account, agent types.Address) (bool, error) {
	grant, ok, err := s.Get(account, agent)
	if err != nil || !ok || !grant.Active {
		return false, err
	}
	grant.Active = false
	return true, s.Put(account, agent, grant)
}

func (s *Store) update(account, agent types.Address, mutate func(*Grant)) (*Grant, error) {
	grant, err := s.Active(account, agent)
	if err != nil {
		return nil, err
	}
	mutate(grant)
	if err := s.Put(account, agent, grant); err != nil {
		return nil, err
	}
	return grant, nil
}
