package permissions

import (
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/clock"
	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/signing"
	"agentvault/storage"
)

type fixture struct {
	store   *Store
	auth    *Authorizer
	clock   *clock.Manual
	account *types.Account
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	clk := clock.NewManual(100)
	store := NewStore(manager)
	return &fixture{
		store: store,
		auth:  NewAuthorizer(store, signing.NewVerifier(manager), clk),
		clock: clk,
		account: &types.Account{
			ID:    types.Address{0xAA},
			Owner: types.Address{0x01},
		},
	}
}

func TestOwnerBypassesAllowLists(t *testing.T) {
	f := newFixture(t)
	decision, err := f.auth.Authorize(f.account, f.account.Owner, Request{Kind: KindBorrow, Assets: []string{"ANY"}})
	if err != nil {
		t.Fatalf("owner denied: %v", err)
	}
	if !decision.Owner || !decision.Agent().IsZero() {
		t.Fatalf("unexpected decision %+v", decision)
	}
}

func TestAgentAllowLists(t *testing.T) {
	f := newFixture(t)
	agent := types.Address{0x02}
	_, added, err := f.store.Upsert(f.account, agent, Config{
		Assets:       []string{"usdc"},
		Integrations: []types.IntegrationID{7},
		Kinds:        []OperationKind{KindDeposit, KindWithdraw},
	}, f.clock.Now())
	if err != nil || !added {
		t.Fatalf("upsert: added=%v err=%v", added, err)
	}

	if _, err := f.auth.Authorize(f.account, agent, Request{Kind: KindDeposit, Assets: []string{"USDC"}, Integrations: []types.IntegrationID{7}}); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
	cases := []struct {
		name string
		req  Request
		want error
	}{
		{"kind", Request{Kind: KindSwap, Assets: []string{"USDC"}}, ErrKindNotAllowed},
		{"asset", Request{Kind: KindDeposit, Assets: []string{"WETH"}}, ErrAssetNotAllowed},
		{"integration", Request{Kind: KindDeposit, Assets: []string{"USDC"}, Integrations: []types.IntegrationID{8}}, ErrIntegrationNotAllowed},
	}
	for _, tc := range cases {
		if _, err := f.auth.Authorize(f.account, agent, tc.req); !errors.Is(err, tc.want) || !errors.Is(err, common.ErrPermissionDenied) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if _, err := f.auth.Authorize(f.account, types.Address{0x03}, Request{Kind: KindDeposit}); !errors.Is(err, ErrNotOwnerOrAgent) {
		t.Fatalf("expected stranger denied, got %v", err)
	}
}

func TestUnconfiguredKindsAllowEverything(t *testing.T) {
	f := newFixture(t)
	agent := types.Address{0x02}
	grant, _, err := f.store.Upsert(f.account, agent, Config{}, 1)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if grant.EffectiveKinds() != FullKindSet {
		t.Fatalf("expected full kind set, got %b", grant.EffectiveKinds())
	}
	if _, err := f.store.SetKinds(f.account.ID, agent, []OperationKind{}); err != nil {
		t.Fatalf("set kinds: %v", err)
	}
	if _, err := f.auth.Authorize(f.account, agent, Request{Kind: KindDeposit}); !errors.Is(err, ErrKindNotAllowed) {
		t.Fatalf("expected empty configured set to deny, got %v", err)
	}
}

func TestUpsertWithoutKindsResetsToAllAllowed(t *testing.T) {
	f := newFixture(t)
	agent := types.Address{0x02}
	if _, _, err := f.store.Upsert(f.account, agent, Config{Kinds: []OperationKind{KindDeposit}}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := f.auth.Authorize(f.account, agent, Request{Kind: KindSwap}); !errors.Is(err, ErrKindNotAllowed) {
		t.Fatalf("expected swap denied, got %v", err)
	}
	grant, added, err := f.store.Upsert(f.account, agent, Config{}, 2)
	if err != nil || added {
		t.Fatalf("re-upsert: added=%v err=%v", added, err)
	}
	if grant.KindsConfigured || grant.EffectiveKinds() != FullKindSet {
		t.Fatalf("expected kinds reset, got configured=%v set=%b", grant.KindsConfigured, grant.EffectiveKinds())
	}
	if _, err := f.auth.Authorize(f.account, agent, Request{Kind: KindSwap}); err != nil {
		t.Fatalf("expected swap allowed after reset, got %v", err)
	}
}

func TestDisableIsNotIdempotent(t *testing.T) {
	f := newFixture(t)
	agent := types.Address{0x02}
	if _, _, err := f.store.Upsert(f.account, agent, Config{Assets: []string{"USDC", "WETH"}}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	grant, err := f.store.Disable(f.account.ID, agent)
	if err != nil {
		t.Fatalf("disable: %v", err)
	}
	if len(grant.Assets) != 2 {
		t.Fatalf("expected allow-list retained after disable")
	}
	if _, err := f.store.Disable(f.account.ID, agent); !errors.Is(err, ErrAgentNotActive) {
		t.Fatalf("expected ErrAgentNotActive on second disable, got %v", err)
	}
	if _, err := f.auth.Authorize(f.account, agent, Request{Kind: KindDeposit}); !errors.Is(err, ErrAgentNotActive) {
		t.Fatalf("expected disabled agent denied, got %v", err)
	}
}

func TestOwnerCannotBeAgent(t *testing.T) {
	f := newFixture(t)
	if _, _, err := f.store.Upsert(f.account, f.account.Owner, Config{}, 1); !errors.Is(err, ErrAgentIsOwner) {
		t.Fatalf("expected ErrAgentIsOwner, got %v", err)
	}
}

func TestSignedAuthorizationOrder(t *testing.T) {
	f := newFixture(t)
	key, _ := ethcrypto.GenerateKey()
	agent := types.Address(ethcrypto.PubkeyToAddress(key.PublicKey))
	if _, _, err := f.store.Upsert(f.account, agent, Config{Assets: []string{"USDC"}}, 1); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	relayer := types.Address{0x77}
	digest := ethcrypto.Keccak256Hash([]byte("instruction-1"))
	sig, err := signing.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := f.auth.AuthorizeSigned(f.account, relayer, digest, 99, sig, Request{Kind: KindDeposit, Assets: []string{"USDC"}}); !errors.Is(err, signing.ErrSignatureExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	decision, err := f.auth.AuthorizeSigned(f.account, relayer, digest, 100, sig, Request{Kind: KindDeposit, Assets: []string{"USDC"}})
	if err != nil {
		t.Fatalf("signed authorize: %v", err)
	}
	if decision.Actor != agent || !decision.Signed {
		t.Fatalf("unexpected decision %+v", decision)
	}
	_, err = f.auth.AuthorizeSigned(f.account, relayer, digest, 100, sig, Request{Kind: KindDeposit, Assets: []string{"USDC"}})
	if !errors.Is(err, signing.ErrSignatureReplayed) || errors.Is(err, signing.ErrSignatureExpired) {
		t.Fatalf("expected replay error distinct from expiry, got %v", err)
	}
	if !errors.Is(err, common.ErrSignatureInvalid) {
		t.Fatalf("expected replay to be a signature error")
	}

	stranger, _ := ethcrypto.GenerateKey()
	other := ethcrypto.Keccak256Hash([]byte("instruction-2"))
	sig, _ = signing.Sign(other, stranger)
	if _, err := f.auth.AuthorizeSigned(f.account, relayer, other, 1000, sig, Request{Kind: KindDeposit}); !errors.Is(err, ErrSignerNotAgent) {
		t.Fatalf("expected signer-not-agent, got %v", err)
	}
}
