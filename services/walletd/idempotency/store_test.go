package idempotency

import (
	"path/filepath"
	"testing"
	"time"
)

func TestStoreReplaysUntilExpiry(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "idem.db"), time.Minute)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	now := time.Unix(1_700_000_000, 0)
	store.SetNowFunc(func() time.Time { return now })

	key := Key("0xabc", "POST", "/v1/relay/instruction", "retry-1")
	if _, found, err := store.Get(key); err != nil || found {
		t.Fatalf("unexpected record before put: %v %v", found, err)
	}
	fp := Fingerprint([]byte(`{"nonce":1}`))
	if err := store.Put(key, 200, []byte(`{"ok":true}`), fp); err != nil {
		t.Fatalf("put: %v", err)
	}
	record, found, err := store.Get(key)
	if err != nil || !found {
		t.Fatalf("get: %v %v", found, err)
	}
	if record.StatusCode != 200 || string(record.Body) != `{"ok":true}` || record.Fingerprint != fp {
		t.Fatalf("unexpected record %+v", record)
	}

	now = now.Add(2 * time.Minute)
	if _, found, err := store.Get(key); err != nil || found {
		t.Fatalf("expected record to expire: %v %v", found, err)
	}
}

func TestFingerprintDistinguishesBodies(t *testing.T) {
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Fatalf("fingerprints collide")
	}
	if Fingerprint([]byte("a")) != Fingerprint([]byte("a")) {
		t.Fatalf("fingerprint is not stable")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("", 0); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}
