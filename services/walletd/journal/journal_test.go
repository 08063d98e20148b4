package journal

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"agentvault/core/events"
	"agentvault/core/types"
)

func openTestJournal(t *testing.T) (*Journal, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	j, err := New(db)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return j, db
}

var (
	account  = types.Address{0xAA}
	agent    = types.Address{0xBB}
	protocol = types.Address{0xF0}
)

func TestAppendAssignsSequenceAndFeeRows(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()
	var seen []uint64
	j.OnAppend(func(e Entry) { seen = append(seen, e.Seq) })

	first, err := j.Append(ctx, events.FeesPaid{
		Account: account,
		Agent:   agent,
		Kind:    "deposit",
		Asset:   "usdc",
		Gross:   big.NewInt(10_000),
		Legs: []events.FeeLeg{
			{Role: "protocol", Asset: "USDC", Amount: big.NewInt(80), Recipient: protocol},
			{Role: "agent", Asset: "USDC", Amount: big.NewInt(0), Recipient: agent},
		},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	second, err := j.Append(ctx, events.BatchFeesPaid{
		Account:      account,
		BatchID:      "batch-1",
		Instructions: 2,
		Legs:         []events.FeeLeg{{Role: "protocol", Asset: "USDC", Amount: big.NewInt(6), Recipient: protocol}},
	})
	if err != nil {
		t.Fatalf("append batch: %v", err)
	}
	if first.Seq != 1 || second.Seq != 2 || j.Seq() != 2 {
		t.Fatalf("unexpected sequence %d %d", first.Seq, second.Seq)
	}
	if len(seen) != 2 {
		t.Fatalf("listeners saw %v", seen)
	}
	if err := first.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	fees, err := j.Fees(ctx, Query{Account: account.Hex()})
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	if len(fees) != 2 {
		t.Fatalf("expected zero legs to be skipped, got %+v", fees)
	}
	if fees[0].Amount != "80" || fees[0].Agent != agent.Hex() || fees[0].Recipient != protocol.Hex() {
		t.Fatalf("unexpected fee row %+v", fees[0])
	}
	row := fees[1].Row()
	if row.BatchID != "batch-1" || row.Seq != 2 || row.EventType != events.TypeBatchFeesPaid {
		t.Fatalf("unexpected export row %+v", row)
	}
}

func TestEntriesFilterAndTamperDetection(t *testing.T) {
	j, db := openTestJournal(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := j.Append(ctx, events.ReserveUpdated{Account: account, Asset: "USDC", Amount: big.NewInt(int64(i))}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := j.Append(ctx, events.ModulePaused{Module: "wallet", Paused: true}); err != nil {
		t.Fatalf("append pause: %v", err)
	}

	entries, err := j.Entries(ctx, Query{After: 1, Account: account.Hex()})
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 2 || entries[0].Seq != 2 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	evt, err := entries[0].Event()
	if err != nil || evt.Type != events.TypeReserveUpdated {
		t.Fatalf("decode: %v %+v", err, evt)
	}

	if err := db.Model(&Entry{}).Where("seq = ?", 2).Update("attributes", `{"amount":"999"}`).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	entries, _ = j.Entries(ctx, Query{After: 1, Limit: 1})
	if err := entries[0].Verify(); err != ErrDigestMismatch {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestNewResumesSequence(t *testing.T) {
	j, db := openTestJournal(t)
	if _, err := j.Append(context.Background(), events.ModulePaused{Module: "wallet"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	reopened, err := New(db)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Seq() != 1 {
		t.Fatalf("expected resumed sequence 1, got %d", reopened.Seq())
	}
}
