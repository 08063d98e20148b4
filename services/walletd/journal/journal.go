// Package journal persists committed ledger events for replay, streaming and
// fee audits.
package journal

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"lukechampine.com/blake3"

	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/integrations/exports"
	"agentvault/observability"
)

// ErrDigestMismatch is returned when a stored entry no longer matches its
// digest.
var ErrDigestMismatch = errors.New("journal: entry digest mismatch")

// Entry is one committed ledger event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Seq        uint64    `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"index;not null"`
	Account    string    `gorm:"index"`
	Attributes string    `gorm:"type:text;not null"`
	Digest     string    `gorm:"size:64;not null"`
	CreatedAt  time.Time
}

// FeeRecord is one fee leg extracted from a fee-bearing event.
type FeeRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	EntryID   uuid.UUID `gorm:"type:uuid;index"`
	Seq       uint64    `gorm:"index;not null"`
	EventType string
	Account   string `gorm:"index"`
	Agent     string
	BatchID   string
	Role      string `gorm:"index"`
	Asset     string
	Amount    string
	Recipient string `gorm:"index"`
	CreatedAt time.Time
}

// Row converts the record into its export form.
func (f FeeRecord) Row() exports.FeeRow {
	return exports.FeeRow{
		Seq:        f.Seq,
		EventID:    f.EntryID.String(),
		EventType:  f.EventType,
		Account:    f.Account,
		Agent:      f.Agent,
		BatchID:    f.BatchID,
		Role:       f.Role,
		Asset:      f.Asset,
		Amount:     f.Amount,
		Recipient:  f.Recipient,
		RecordedAt: f.CreatedAt,
	}
}

// Event decodes the stored attributes back into the broadcast form.
func (e Entry) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, fmt.Errorf("journal: decode attributes: %w", err)
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// Verify recomputes the entry digest.
func (e Entry) Verify() error {
	if digest(e.Seq, e.Type, []byte(e.Attributes)) != e.Digest {
		return ErrDigestMismatch
	}
	return nil
}

// AutoMigrate applies the journal schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{}, &FeeRecord{})
}

// Journal appends committed events. It implements events.Emitter so it can
// sit directly behind the wallet engine.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq uint64

	listeners []func(Entry)
}

// Open connects to driver ("sqlite" or "postgres") and applies the schema.
func Open(driver, dsn string) (*Journal, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("journal: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db)
}

// New wraps an existing connection.
func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.New("journal: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	var last Entry
	res := db.Order("seq desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("journal: load cursor: %w", res.Error)
	}
	return &Journal{db: db, logger: slog.Default(), now: time.Now, seq: last.Seq}, nil
}

// SetLogger overrides the journal logger.
func (j *Journal) SetLogger(l *slog.Logger) {
	if l != nil {
		j.logger = l
	}
}

// SetNowFunc overrides the timestamp source.
func (j *Journal) SetNowFunc(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// OnAppend registers fn to receive every appended entry after it is stored.
func (j *Journal) OnAppend(fn func(Entry)) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	j.listeners = append(j.listeners, fn)
	j.mu.Unlock()
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Events without a broadcast form are skipped.
func (j *Journal) Emit(evt events.Event) {
	if _, err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Append stores evt and its fee legs in one transaction.
func (j *Journal) Append(ctx context.Context, evt events.Event) (Entry, error) {
	payload, ok := evt.(events.Payload)
	if !ok {
		return Entry{}, nil
	}
	rendered := payload.Event()
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return Entry{}, fmt.Errorf("journal: encode attributes: %w", err)
	}

	j.mu.Lock()
	seq := j.seq + 1
	entry := Entry{
		ID:         uuid.New(),
		Seq:        seq,
		Type:       rendered.Type,
		Account:    rendered.Attributes["account"],
		Attributes: string(attrs),
		Digest:     digest(seq, rendered.Type, attrs),
		CreatedAt:  j.now().UTC(),
	}
	fees := feeRecords(entry, evt)
	err = j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		if len(fees) > 0 {
			return tx.Create(&fees).Error
		}
		return nil
	})
	if err != nil {
		j.mu.Unlock()
		return Entry{}, fmt.Errorf("journal: insert: %w", err)
	}
	j.seq = seq
	listeners := append([]func(Entry){}, j.listeners...)
	j.mu.Unlock()

	observability.Stream().RecordJournaled(entry.Type)
	for _, fn := range listeners {
		fn(entry)
	}
	return entry, nil
}

// MaxPage bounds the number of rows returned by one read.
const MaxPage = 1000

// Query filters journal reads.
type Query struct {
	After   uint64
	Account string
	Type    string
	Limit   int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > MaxPage {
		return MaxPage
	}
	return q.Limit
}

// Entries returns entries with Seq > q.After in order.
func (j *Journal) Entries(ctx context.Context, q Query) ([]Entry, error) {
	tx := j.db.WithContext(ctx).Where("seq > ?", q.After)
	if q.Account != "" {
		tx = tx.Where("account = ?", strings.ToLower(q.Account))
	}
	if q.Type != "" {
		tx = tx.Where("type = ?", q.Type)
	}
	var out []Entry
	if err := tx.Order("seq asc").Limit(q.limit()).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: query entries: %w", err)
	}
	return out, nil
}

// Fees returns fee legs recorded after q.After, optionally for one account.
func (j *Journal) Fees(ctx context.Context, q Query) ([]FeeRecord, error) {
	tx := j.db.WithContext(ctx).Where("seq > ?", q.After)
	if q.Account != "" {
		tx = tx.Where("account = ?", strings.ToLower(q.Account))
	}
	var out []FeeRecord
	if err := tx.Order("seq asc, role asc").Limit(q.limit()).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("journal: query fees: %w", err)
	}
	return out, nil
}

// Seq returns the last assigned sequence number.
func (j *Journal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func digest(seq uint64, eventType string, attrs []byte) string {
	h := blake3.New(32, nil)
	fmt.Fprintf(h, "%d\x00%s\x00", seq, eventType)
	_, _ = h.Write(attrs)
	return hex.EncodeToString(h.Sum(nil))
}

func feeRecords(entry Entry, evt events.Event) []FeeRecord {
	var (
		account, agent types.Address
		batchID        string
		legs           []events.FeeLeg
	)
	switch e := evt.(type) {
	case events.FeesPaid:
		account, agent, legs = e.Account, e.Agent, e.Legs
	case events.BatchFeesPaid:
		account, agent, legs, batchID = e.Account, e.Agent, e.Legs, e.BatchID
	case events.SubscriptionPaid:
		account, agent, legs = e.Account, e.Agent, e.Legs
	default:
		return nil
	}
	out := make([]FeeRecord, 0, len(legs))
	for _, leg := range legs {
		if leg.Amount == nil || leg.Amount.Sign() == 0 {
			continue
		}
		rec := FeeRecord{
			ID:        uuid.New(),
			EntryID:   entry.ID,
			Seq:       entry.Seq,
			EventType: entry.Type,
			Account:   account.Hex(),
			BatchID:   batchID,
			Role:      leg.Role,
			Asset:     types.NormalizeAsset(leg.Asset),
			Amount:    leg.Amount.String(),
			Recipient: leg.Recipient.Hex(),
			CreatedAt: entry.CreatedAt,
		}
		if !agent.IsZero() {
			rec.Agent = agent.Hex()
		}
		out = append(out, rec)
	}
	return out
}
