package server

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"nhooyr.io/websocket"

	"agentvault/core/clock"
	"agentvault/core/events"
	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/billing"
	"agentvault/native/common"
	"agentvault/native/directory"
	"agentvault/native/permissions"
	"agentvault/native/venues"
	"agentvault/native/wallet"
	"agentvault/services/walletd/idempotency"
	"agentvault/services/walletd/journal"
	"agentvault/storage"
)

const (
	testSecret   = "walletd-test-secret"
	testIssuer   = "agentvault"
	testAudience = "walletd"
	vaultID      = 1
)

var (
	factoryAddr  = types.Address{0xFA}
	ownerAddr    = types.Address{0x01}
	protocolAddr = types.Address{0xF0}
	strangerAddr = types.Address{0x5E}
	relayerAddr  = types.Address{0x7E}
	adminAddr    = types.Address{0xAD}
)

type testEnv struct {
	t        *testing.T
	srv      *Server
	handler  http.Handler
	engine   *wallet.Engine
	journal  *journal.Journal
	clock    *clock.Manual
	agentKey *ecdsa.PrivateKey
	agent    types.Address
}

func newTestEnv(t *testing.T, limits map[string]RateLimit) *testEnv {
	t.Helper()
	reg := directory.NewRegistry()
	for _, asset := range []struct{ symbol, price string }{{"USDC", "1"}, {"AVX", "2"}, {"WAVX", "2"}} {
		require.NoError(t, reg.RegisterAsset(asset.symbol, 0))
		require.NoError(t, reg.SetPrice(asset.symbol, asset.price))
	}
	require.NoError(t, reg.RegisterAdapter(vaultID, venues.NewVault("USDC", "vUSDC", "", types.Address{0xC1})))

	clk := clock.NewManual(1_000)
	cfg := wallet.DefaultConfig()
	cfg.Factories = []types.Address{factoryAddr}
	engine := wallet.NewEngine(state.NewManager(storage.NewMemDB()), reg, clk, cfg)
	engine.SetPauses(common.NewPauses())
	require.NoError(t, engine.WithPolicy(func(p *billing.PolicyStore) error {
		_, err := p.SetProtocolRecipient(protocolAddr)
		return err
	}))

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	jrnl, err := journal.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jrnl.Close() })
	engine.SetEmitter(events.NewFanout(jrnl))

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(Config{
		Auth:       AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience},
		RateLimits: limits,
	}, engine, jrnl, quiet)
	require.NoError(t, err)

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return &testEnv{
		t:        t,
		srv:      srv,
		handler:  srv.Handler(),
		engine:   engine,
		journal:  jrnl,
		clock:    clk,
		agentKey: key,
		agent:    types.Address(ethcrypto.PubkeyToAddress(key.PublicKey)),
	}
}

func (e *testEnv) token(sub types.Address, scopes ...string) string {
	e.t.Helper()
	return signToken(e.t, jwt.MapClaims{
		"sub":   sub.Hex(),
		"scope": strings.Join(scopes, " "),
		"iss":   testIssuer,
		"aud":   testAudience,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(method, path, token, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// openAccount creates an account through the API with the test agent
// installed and funds it with USDC.
func (e *testEnv) openAccount(funds int64) types.Address {
	e.t.Helper()
	body := fmt.Sprintf(`{"owner":%q,"agent":%q,"agentConfig":{"assets":["USDC"],"integrations":[1]}}`, ownerAddr.Hex(), e.agent.Hex())
	rec := e.do(http.MethodPost, "/v1/accounts", e.token(factoryAddr, ScopeFactory), body)
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	view := decode[accountView](e.t, rec)
	id, err := types.ParseAddress(view.ID)
	require.NoError(e.t, err)
	if funds > 0 {
		require.NoError(e.t, e.engine.Mint(id, "USDC", big.NewInt(funds)))
	}
	return id
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestAccountLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	reader := env.token(ownerAddr, ScopeRead)

	rec := env.do(http.MethodGet, "/v1/accounts/"+id.Hex(), reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[accountView](t, rec)
	require.Equal(t, ownerAddr.Hex(), view.Owner)
	require.Equal(t, factoryAddr.Hex(), view.Factory)

	rec = env.do(http.MethodGet, "/v1/accounts/"+id.Hex()+"/agents/"+env.agent.Hex(), reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	grant := decode[grantView](t, rec)
	require.True(t, grant.Active)
	require.Equal(t, []string{"USDC"}, grant.Assets)

	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":400}}`
	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[resultView](t, rec)
	require.Equal(t, "deposit", result.Kind)
	require.Equal(t, []amountView{{Asset: "VUSDC", Amount: "400"}}, result.Received)

	rec = env.do(http.MethodGet, "/v1/accounts/"+id.Hex()+"/balances/usdc", reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, amountView{Asset: "USDC", Amount: "600"}, decode[amountView](t, rec))

	rec = env.do(http.MethodGet, "/v1/accounts/"+id.Hex()+"/positions/vusdc", reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "400", decode[map[string]string](t, rec)["costBasis"])

	rec = env.do(http.MethodGet, "/v1/events?account="+id.Hex(), reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Events []eventMessage `json:"events"`
		Cursor uint64         `json:"cursor"`
	}](t, rec)
	var kinds []string
	for _, evt := range page.Events {
		kinds = append(kinds, evt.Type)
	}
	require.Contains(t, kinds, events.TypeAccountCreated)
	require.Contains(t, kinds, events.TypeOperationExecuted)
	require.Equal(t, page.Events[len(page.Events)-1].Seq, page.Cursor)

	rec = env.do(http.MethodGet, fmt.Sprintf("/v1/events?account=%s&after=%d", id.Hex(), page.Cursor), reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestBatchAndAgentManagement(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	owner := env.token(ownerAddr, ScopeWrite, ScopeRead)

	batch := `{"operations":[
		{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":100}},
		{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":200}}
	]}`
	rec := env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/batch", owner, batch)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[batchView](t, rec)
	require.NotEmpty(t, res.BatchID)
	require.Len(t, res.Results, 2)

	rec = env.do(http.MethodPut, "/v1/accounts/"+id.Hex()+"/agents/"+env.agent.Hex(), owner, `{"assets":["USDC"],"integrations":[1],"kinds":["withdraw"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, []string{"withdraw"}, decode[grantView](t, rec).Kinds)

	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":10}}`
	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodDelete, "/v1/accounts/"+id.Hex()+"/agents/"+env.agent.Hex(), owner, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodGet, "/v1/accounts/"+id.Hex()+"/agents/"+env.agent.Hex(), owner, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, decode[grantView](t, rec).Active)
}

func TestRelaySignedInstruction(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	signed, err := wallet.SignInstruction(env.engine.Config().Domain, wallet.Instruction{
		Account:    id,
		Operation:  wallet.Deposit{Integration: vaultID, Asset: "USDC", Amount: big.NewInt(250)},
		Expiration: 2_000,
		Nonce:      1,
	}, env.agentKey)
	require.NoError(t, err)
	wire, err := wallet.MarshalInstruction(signed)
	require.NoError(t, err)
	body, err := json.Marshal(wire)
	require.NoError(t, err)

	relayer := env.token(relayerAddr, ScopeRelay)
	rec := env.do(http.MethodPost, "/v1/relay/instruction", relayer, string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/relay/instruction", relayer, string(body))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	balance, err := env.engine.Balance(id, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(750), balance.Int64())

	rec = env.do(http.MethodPost, "/v1/relay/instruction", env.token(relayerAddr, ScopeWrite), string(body))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRelayRetryWithIdempotencyKeyReplaysOutcome(t *testing.T) {
	env := newTestEnv(t, nil)
	store, err := idempotency.Open(filepath.Join(t.TempDir(), "idem.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	env.srv.idem = store

	id := env.openAccount(1_000)
	sign := func(nonce uint64) string {
		signed, err := wallet.SignInstruction(env.engine.Config().Domain, wallet.Instruction{
			Account:    id,
			Operation:  wallet.Deposit{Integration: vaultID, Asset: "USDC", Amount: big.NewInt(250)},
			Expiration: 2_000,
			Nonce:      nonce,
		}, env.agentKey)
		require.NoError(t, err)
		wire, err := wallet.MarshalInstruction(signed)
		require.NoError(t, err)
		body, err := json.Marshal(wire)
		require.NoError(t, err)
		return string(body)
	}
	relay := func(token, key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/relay/instruction", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", key)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	relayer := env.token(relayerAddr, ScopeRelay)
	body := sign(1)
	first := relay(relayer, "deposit-1", body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	require.Equal(t, "miss", first.Header().Get("X-Idempotency-Cache"))

	retry := relay(relayer, "deposit-1", body)
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())
	require.Equal(t, "hit", retry.Header().Get("X-Idempotency-Cache"))
	require.JSONEq(t, first.Body.String(), retry.Body.String())

	balance, err := env.engine.Balance(id, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(750), balance.Int64())

	conflict := relay(relayer, "deposit-1", sign(2))
	require.Equal(t, http.StatusUnprocessableEntity, conflict.Code)

	// Keys are scoped to the caller.
	other := relay(env.token(strangerAddr, ScopeRelay), "deposit-1", body)
	require.Equal(t, http.StatusUnauthorized, other.Code)
}

func TestRelaySignedBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	signed, err := wallet.SignBatch(env.engine.Config().Domain, wallet.BatchInstruction{
		Account: id,
		Operations: []wallet.Operation{
			wallet.Deposit{Integration: vaultID, Asset: "USDC", Amount: big.NewInt(100)},
			wallet.Deposit{Integration: vaultID, Asset: "USDC", Amount: big.NewInt(50)},
		},
		Expiration: 2_000,
		Nonce:      4,
	}, env.agentKey)
	require.NoError(t, err)
	wire, err := wallet.MarshalBatch(signed)
	require.NoError(t, err)
	body, err := json.Marshal(wire)
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/v1/relay/batch", env.token(relayerAddr, ScopeRelay), string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[batchView](t, rec).Results, 2)
}

func TestAuthRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	path := "/v1/accounts/" + ownerAddr.Hex()

	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, "", "").Code)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, "garbage", "").Code)

	expired := signToken(t, jwt.MapClaims{
		"sub": ownerAddr.Hex(), "scope": ScopeRead, "iss": testIssuer, "aud": testAudience,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, expired, "").Code)

	wrongAudience := signToken(t, jwt.MapClaims{
		"sub": ownerAddr.Hex(), "scope": ScopeRead, "iss": testIssuer, "aud": "elsewhere",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, wrongAudience, "").Code)

	noSubject := signToken(t, jwt.MapClaims{
		"scope": ScopeRead, "iss": testIssuer, "aud": testAudience,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, path, noSubject, "").Code)

	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, path, env.token(ownerAddr, ScopeWrite), "").Code)
	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, path, env.token(ownerAddr, ScopeRead), "").Code)
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(100)

	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":500}}`
	rec := env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(strangerAddr, ScopeWrite), deposit)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), `{"kind":"teleport","params":{}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/accounts/not-an-address/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/accounts", env.token(strangerAddr, ScopeFactory), fmt.Sprintf(`{"owner":%q}`, ownerAddr.Hex()))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWhitelistAndOwnershipDelays(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	owner := env.token(ownerAddr, ScopeWrite, ScopeRead)
	recipient := types.Address{0x99}
	base := "/v1/accounts/" + id.Hex()

	rec := env.do(http.MethodPost, base+"/whitelist", owner, fmt.Sprintf(`{"recipient":%q}`, recipient.Hex()))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/whitelist/"+recipient.Hex()+"/confirm", owner, "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	env.clock.Advance(env.engine.Config().Delay)
	rec = env.do(http.MethodPost, base+"/whitelist/"+recipient.Hex()+"/confirm", owner, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = env.do(http.MethodGet, base+"/whitelist", owner, "")
	require.Equal(t, []string{recipient.Hex()}, decode[map[string][]string](t, rec)["whitelist"])

	rec = env.do(http.MethodDelete, base+"/whitelist/"+recipient.Hex(), owner, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	newOwner := types.Address{0x02}
	rec = env.do(http.MethodPost, base+"/ownership", owner, fmt.Sprintf(`{"newOwner":%q}`, newOwner.Hex()))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	rec = env.do(http.MethodGet, base+"/ownership", owner, "")
	pending := decode[map[string]pendingView](t, rec)["pending"]
	require.Equal(t, newOwner.Hex(), pending.Target)

	rec = env.do(http.MethodPost, base+"/ownership/cancel", owner, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = env.do(http.MethodPost, base+"/ownership/confirm", env.token(newOwner, ScopeWrite), "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReserveBlocksSpending(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	owner := env.token(ownerAddr, ScopeWrite, ScopeRead)

	rec := env.do(http.MethodPut, "/v1/accounts/"+id.Hex()+"/reserves/usdc", owner, `{"amount":"900"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(http.MethodGet, "/v1/accounts/"+id.Hex()+"/reserves/USDC", owner, "")
	require.Equal(t, "900", decode[amountView](t, rec).Amount)

	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":200}}`
	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdminPauseAndDelay(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	admin := env.token(adminAddr, ScopeAdmin)

	require.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/v1/admin/pause", env.token(ownerAddr, ScopeWrite), `{"paused":true}`).Code)

	rec := env.do(http.MethodPost, "/v1/admin/pause", admin, `{"paused":true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":10}}`
	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodPost, "/v1/admin/pause", admin, `{"paused":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(http.MethodPost, "/v1/admin/delay", admin, `{"delay":0}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(http.MethodPost, "/v1/admin/delay", admin, `{"delay":250}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(250), env.engine.Config().Delay)
}

func TestRateLimitPerCaller(t *testing.T) {
	env := newTestEnv(t, map[string]RateLimit{GroupRead: {RequestsPerMinute: 1, Burst: 1}})
	path := "/v1/accounts/" + ownerAddr.Hex() + "/balances/usdc"
	first := env.token(ownerAddr, ScopeRead)
	second := env.token(strangerAddr, ScopeRead)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, path, first, "").Code)
	rec := env.do(http.MethodGet, path, first, "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, path, second, "").Code)
}

func TestFeesExportFormats(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.engine.WithPolicy(func(p *billing.PolicyStore) error {
		_, err := p.SetProtocolFee(permissions.KindDeposit, 100)
		return err
	}))
	id := env.openAccount(10_000)
	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":10000}}`
	rec := env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(ownerAddr, ScopeWrite), deposit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	reader := env.token(ownerAddr, ScopeRead)
	rec = env.do(http.MethodGet, "/v1/fees/export?format=csv", reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Content-SHA256"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], ",protocol,USDC,100,"+protocolAddr.Hex()+",")

	rec = env.do(http.MethodGet, "/v1/fees/export?format=summary", reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	totals := decode[map[string][]map[string]any](t, rec)["totals"]
	require.Len(t, totals, 1)
	require.Equal(t, "100", totals[0]["amount"])

	rec = env.do(http.MethodGet, "/v1/fees/export?format=parquet", reader, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.HasPrefix(rec.Body.String(), "PAR1"))

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/fees/export?format=xml", reader, "").Code)
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.openAccount(1_000)
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events/ws?cursor=0&account=" + id.Hex()
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + env.token(ownerAddr, ScopeRead)}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	next := func() eventMessage {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var msg eventMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	added, created := next(), next()
	require.Equal(t, events.TypeAgentAdded, added.Type)
	require.Equal(t, events.TypeAccountCreated, created.Type)
	require.Greater(t, created.Seq, added.Seq)

	deposit := `{"kind":"deposit","params":{"integration":1,"asset":"USDC","amount":10}}`
	rec := env.do(http.MethodPost, "/v1/accounts/"+id.Hex()+"/execute", env.token(env.agent, ScopeWrite), deposit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	live := next()
	require.Equal(t, events.TypeOperationExecuted, live.Type)
	require.Greater(t, live.Seq, created.Seq)
}

func TestHubDropsSlowSubscribers(t *testing.T) {
	hub := NewHub()
	sub, cancel := hub.subscribe()
	defer cancel()
	for i := 0; i <= subscriberBuffer; i++ {
		hub.Publish(journal.Entry{Seq: uint64(i + 1)})
	}
	require.Zero(t, hub.Subscribers())
	drained := 0
	for range sub.ch {
		drained++
	}
	require.Equal(t, subscriberBuffer, drained)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		wallet.ErrAccountNotFound:       http.StatusNotFound,
		common.ErrModulePaused:          http.StatusServiceUnavailable,
		wallet.ErrNotOwner:              http.StatusForbidden,
		wallet.ErrRecipientDenied:       http.StatusForbidden,
		wallet.ErrInsufficient:          http.StatusUnprocessableEntity,
		common.ErrMigrationPrecondition: http.StatusConflict,
		wallet.ErrInvalidOperation:      http.StatusBadRequest,
		directory.ErrUnknownIntegration: http.StatusBadRequest,
		errors.New("disk on fire"):      http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}
