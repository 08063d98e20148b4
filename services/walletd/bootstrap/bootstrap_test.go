package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"agentvault/core/clock"
	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/integrations/webhooks"
	"agentvault/native/billing"
	"agentvault/native/permissions"
	"agentvault/native/wallet"
	"agentvault/services/walletd/config"
	"agentvault/services/walletd/journal"
)

var custody = types.Address{0xC0}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.toml")
	require.NoError(t, os.WriteFile(policy, []byte(`
protocol_recipient = "0xf000000000000000000000000000000000000000"

[protocol_fees]
deposit = 25
`), 0o644))
	return config.Config{
		NodeConfig: filepath.Join(dir, "node", "config.toml"),
		PolicyFile: policy,
		Journal: config.JournalConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		},
		Directory: config.Directory{
			Assets: []config.Asset{
				{Symbol: "AVX", Decimals: 18, PriceUSD: "2"},
				{Symbol: "WAVX", Decimals: 18, PriceUSD: "2"},
				{Symbol: "USDC", Decimals: 6, PriceUSD: "1"},
			},
			Venues: []config.Venue{
				{ID: 1, Type: "vault", Custody: custody.Hex(), Asset: "USDC", ShareToken: "VUSDC"},
				{ID: 2, Type: "pool", Custody: custody.Hex(), AssetA: "AVX", AssetB: "USDC", LPToken: "LP-AVX-USDC", FeeBps: 30},
				{ID: 3, Type: "credit", Custody: custody.Hex(), Asset: "USDC"},
			},
		},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBuildWiresEngineAndJournal(t *testing.T) {
	cfg := testConfig(t)
	rt, err := Build(cfg, Options{Logger: quiet(), InMemory: true, Clock: clock.NewManual(10)})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	for id := types.IntegrationID(1); id <= 3; id++ {
		require.True(t, rt.Registry.IsValidIntegration(id), "venue %d", id)
	}
	require.Equal(t, "AVX", rt.Engine.Config().NativeAsset)

	err = rt.Engine.WithPolicy(func(p *billing.PolicyStore) error {
		sheet, err := p.ProtocolFeeSheet()
		if err != nil {
			return err
		}
		if sheet.For(permissions.KindDeposit) != 25 {
			return fmt.Errorf("deposit fee %d", sheet.For(permissions.KindDeposit))
		}
		return nil
	})
	require.NoError(t, err)

	factories, err := rt.Node.FactoryAddresses()
	require.NoError(t, err)
	require.Len(t, factories, 1)

	owner := types.Address{0x01}
	account, err := rt.Engine.CreateAccount(factories[0], wallet.AccountSpec{Owner: owner})
	require.NoError(t, err)

	entries, err := rt.Journal.Entries(context.Background(), journal.Query{Type: events.TypeAccountCreated})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, account.ID.Hex(), entries[0].Account)
	require.NoError(t, entries[0].Verify())
}

func TestBuildRejectsBadVenue(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directory.Venues = []config.Venue{{ID: 9, Type: "pool", Custody: custody.Hex(), AssetA: "AVX"}}
	_, err := Build(cfg, Options{Logger: quiet(), InMemory: true})
	require.ErrorContains(t, err, "venue 9")

	cfg.Directory.Venues = []config.Venue{{ID: 9, Type: "vault", Custody: "", Asset: "USDC", ShareToken: "V"}}
	_, err = Build(cfg, Options{Logger: quiet(), InMemory: true})
	require.Error(t, err)
}

func TestBuildForwardsJournalToWebhooks(t *testing.T) {
	secret := "hook-secret"
	received := make(chan *http.Request, 4)
	bodies := make(chan []byte, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- r
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.Close)

	cfg := testConfig(t)
	cfg.Webhooks = []config.Webhook{{URL: hook.URL, Secret: secret, Topics: []string{"wallet.account"}}}
	rt, err := Build(cfg, Options{Logger: quiet(), InMemory: true, Clock: clock.NewManual(1)})
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	factories, err := rt.Node.FactoryAddresses()
	require.NoError(t, err)
	_, err = rt.Engine.CreateAccount(factories[0], wallet.AccountSpec{Owner: types.Address{0x02}})
	require.NoError(t, err)

	select {
	case r := <-received:
		body := <-bodies
		require.Equal(t, events.TypeAccountCreated, r.Header.Get(webhooks.EventHeader))
		require.True(t, webhooks.Verify([]byte(secret), body, r.Header.Get(webhooks.SignatureHeader)))
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook not delivered")
	}
}
