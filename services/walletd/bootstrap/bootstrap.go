// Package bootstrap assembles the walletd runtime from its configuration
// files: the ledger state, venue directory, execution engine, event journal
// and webhook fan-out.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	nodecfg "agentvault/config"
	"agentvault/core/clock"
	"agentvault/core/events"
	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/integrations/webhooks"
	"agentvault/native/billing"
	"agentvault/native/directory"
	"agentvault/native/venues"
	"agentvault/native/wallet"
	"agentvault/observability"
	"agentvault/observability/logging"
	"agentvault/services/walletd/config"
	"agentvault/services/walletd/idempotency"
	"agentvault/services/walletd/journal"
	"agentvault/storage"
)

// Options override runtime collaborators, mainly for tests.
type Options struct {
	Logger *slog.Logger
	// InMemory keeps ledger state in memory instead of LevelDB.
	InMemory bool
	// Clock replaces the interval clock derived from the node config.
	Clock clock.Clock
}

// Runtime holds the assembled walletd collaborators.
type Runtime struct {
	Node     *nodecfg.Config
	Engine   *wallet.Engine
	Registry *directory.Registry
	Journal  *journal.Journal
	Clock    clock.Clock
	Webhooks []*webhooks.Dispatcher

	// Idempotency is nil for in-memory runtimes and when no path is set.
	Idempotency *idempotency.Store

	db     storage.Database
	logger *slog.Logger
}

// Build loads the node configuration referenced by cfg and wires the engine.
func Build(cfg config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	node, err := nodecfg.Load(cfg.NodeConfig)
	if err != nil {
		return nil, fmt.Errorf("load node config: %w", err)
	}

	clk := opts.Clock
	if clk == nil {
		clk = node.NewClock()
	}

	var db storage.Database
	if opts.InMemory {
		db = storage.NewMemDB()
	} else {
		if err := os.MkdirAll(node.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		ldb, err := storage.NewLevelDB(filepath.Join(node.DataDir, "ledger"))
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		db = ldb
	}
	rt := &Runtime{Node: node, Clock: clk, db: db, logger: logger}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	reg, err := BuildDirectory(cfg.Directory, clk)
	if err != nil {
		return nil, err
	}
	rt.Registry = reg

	wcfg, err := node.Wallet()
	if err != nil {
		return nil, fmt.Errorf("wallet config: %w", err)
	}
	engine := wallet.NewEngine(state.NewManager(db), reg, clk, wcfg)
	engine.SetPauses(node.PauseTable())
	engine.SetLogger(logger.With(slog.String("component", "wallet")))
	rt.Engine = engine

	policyFile := strings.TrimSpace(cfg.PolicyFile)
	if policyFile == "" {
		policyFile = strings.TrimSpace(node.PolicyFile)
	}
	if policyFile != "" {
		if err := ApplyPolicyFile(engine, policyFile); err != nil {
			return nil, err
		}
	}

	jrnl, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return nil, err
	}
	jrnl.SetLogger(logger.With(slog.String("component", "journal")))
	rt.Journal = jrnl

	if path := strings.TrimSpace(cfg.Idempotency.Path); path != "" && !opts.InMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create idempotency dir: %w", err)
		}
		store, err := idempotency.Open(path, cfg.Idempotency.TTL.Duration)
		if err != nil {
			return nil, err
		}
		rt.Idempotency = store
	}

	for i, hook := range cfg.Webhooks {
		var opts []webhooks.Option
		if len(hook.Topics) > 0 {
			opts = append(opts, webhooks.WithTopics(hook.Topics...))
		}
		dispatcher, err := webhooks.NewDispatcher(hook.URL, []byte(hook.ResolvedSecret()), opts...)
		if err != nil {
			return nil, fmt.Errorf("webhooks[%d]: %w", i, err)
		}
		rt.Webhooks = append(rt.Webhooks, dispatcher)
		jrnl.OnAppend(forward(dispatcher, logger))
		logger.Info("webhook registered",
			slog.String("url", logging.MaskURL(hook.URL)),
			logging.MaskField("secret", hook.ResolvedSecret()),
			slog.Int("topics", len(hook.Topics)))
	}

	engine.SetEmitter(events.NewFanout(jrnl))
	ok = true
	logger.Info("walletd runtime ready",
		slog.String("network", node.NetworkName),
		slog.Int("assets", len(reg.Assets())),
		slog.Int("venues", len(cfg.Directory.Venues)),
		slog.Int("webhooks", len(rt.Webhooks)))
	return rt, nil
}

// Close releases the journal, webhook workers, idempotency store and ledger
// database.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for _, d := range r.Webhooks {
		d.Close()
	}
	if r.Journal != nil {
		if err := r.Journal.Close(); err != nil {
			r.logger.Warn("close journal", slog.Any("error", err))
		}
	}
	if err := r.Idempotency.Close(); err != nil {
		r.logger.Warn("close idempotency store", slog.Any("error", err))
	}
	if r.db != nil {
		r.db.Close()
	}
}

func forward(d *webhooks.Dispatcher, logger *slog.Logger) func(journal.Entry) {
	return func(entry journal.Entry) {
		if !d.Wants(entry.Type) {
			return
		}
		evt, err := entry.Event()
		if err != nil {
			logger.Warn("webhook: decode entry", slog.Uint64("seq", entry.Seq), slog.Any("error", err))
			return
		}
		err = d.Notify(webhooks.EventPayload{
			Type:       entry.Type,
			Seq:        entry.Seq,
			Attributes: evt.Attributes,
			Digest:     entry.Digest,
			RecordedAt: entry.CreatedAt,
			DeliveryID: entry.ID.String(),
		})
		if errors.Is(err, webhooks.ErrQueueFull) {
			observability.Stream().RecordWebhookDropped()
		}
		if err != nil {
			logger.Warn("webhook: enqueue", slog.Uint64("seq", entry.Seq), slog.Any("error", err))
		}
	}
}

// BuildDirectory registers the configured assets, prices and venues.
func BuildDirectory(cfg config.Directory, clk clock.Clock) (*directory.Registry, error) {
	reg := directory.NewRegistry()
	for _, asset := range cfg.Assets {
		if err := reg.RegisterAsset(asset.Symbol, asset.Decimals); err != nil {
			return nil, fmt.Errorf("directory: asset %s: %w", asset.Symbol, err)
		}
		if strings.TrimSpace(asset.PriceUSD) == "" {
			continue
		}
		if err := reg.SetPrice(asset.Symbol, asset.PriceUSD); err != nil {
			return nil, fmt.Errorf("directory: price %s: %w", asset.Symbol, err)
		}
	}
	for _, venue := range cfg.Venues {
		adapter, err := buildVenue(venue, clk)
		if err != nil {
			return nil, fmt.Errorf("directory: venue %d: %w", venue.ID, err)
		}
		if err := reg.RegisterAdapter(types.IntegrationID(venue.ID), adapter); err != nil {
			return nil, fmt.Errorf("directory: venue %d: %w", venue.ID, err)
		}
	}
	return reg, nil
}

func buildVenue(v config.Venue, clk clock.Clock) (directory.Adapter, error) {
	custody, err := nodecfg.ParseAddress(v.Custody)
	if err != nil {
		return nil, fmt.Errorf("custody: %w", err)
	}
	if custody.IsZero() {
		return nil, errors.New("custody address required")
	}
	switch strings.ToLower(v.Type) {
	case "vault":
		if v.Asset == "" || v.ShareToken == "" {
			return nil, errors.New("vault requires asset and share_token")
		}
		return venues.NewVault(v.Asset, v.ShareToken, v.RewardAsset, custody), nil
	case "pool":
		if v.AssetA == "" || v.AssetB == "" || v.LPToken == "" {
			return nil, errors.New("pool requires asset_a, asset_b and lp_token")
		}
		return venues.NewPool(v.AssetA, v.AssetB, v.LPToken, v.FeeBps, custody), nil
	case "credit":
		if v.Asset == "" {
			return nil, errors.New("credit line requires asset")
		}
		line := venues.NewCreditLine(v.Asset, custody, venues.DefaultInterestModel)
		line.SetNowFunc(clk.Now)
		return line, nil
	default:
		return nil, fmt.Errorf("unknown venue type %q", v.Type)
	}
}

// ApplyPolicyFile loads fee and subscription sheets from path (TOML, or
// JSON when the extension is .json) into the engine's policy store.
func ApplyPolicyFile(engine *wallet.Engine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	var sheets billing.Sheets
	if strings.EqualFold(filepath.Ext(path), ".json") {
		sheets, err = billing.DecodeSheetsJSON(data)
	} else {
		sheets, err = billing.DecodeSheetsTOML(data)
	}
	if err != nil {
		return err
	}
	return engine.WithPolicy(func(p *billing.PolicyStore) error {
		return p.Apply(sheets)
	})
}
