package state

import (
	"bytes"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"agentvault/storage"
)

var (
	errNilDatabase  = errors.New("state: database not configured")
	errTxClosed     = errors.New("state: transaction already closed")
	errEmptyKVKey   = errors.New("kv: key must not be empty")
	errRootNoCommit = errors.New("state: root manager cannot be committed")
	errChildPending = errors.New("state: nested transaction still open")
)

type overlayEntry struct {
	value   []byte
	deleted bool
}

// Manager provides keyed, RLP-encoded access to ledger state. The root
// manager reads and writes the backing database directly; managers returned by
// Begin buffer every write until Commit so a failed operation leaves no trace.
type Manager struct {
	db     storage.Database
	parent *Manager
	writes map[string]overlayEntry
	order  []string
	closed bool
	open   int
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a transactional overlay on top of the manager.
func (m *Manager) Begin() *Manager {
	m.open++
	return &Manager{db: m.db, parent: m, writes: make(map[string]overlayEntry)}
}

// Commit publishes the overlay's writes to its parent. When the parent is the
// root manager the writes land in a single atomic database batch.
func (m *Manager) Commit() error {
	if m.parent == nil {
		return errRootNoCommit
	}
	if m.closed {
		return errTxClosed
	}
	if m.open > 0 {
		return errChildPending
	}
	m.closed = true
	m.parent.open--
	if m.parent.parent == nil {
		if m.db == nil {
			return errNilDatabase
		}
		batch := storage.NewBatch()
		for _, key := range m.order {
			entry := m.writes[key]
			if entry.deleted {
				batch.Delete([]byte(key))
				continue
			}
			batch.Put([]byte(key), entry.value)
		}
		return m.db.Write(batch)
	}
	for _, key := range m.order {
		m.parent.record(key, m.writes[key])
	}
	return nil
}

// Discard drops the overlay's writes. Calling Discard after Commit is a no-op
// so callers can defer it unconditionally.
func (m *Manager) Discard() {
	if m.parent == nil || m.closed {
		return
	}
	m.closed = true
	m.parent.open--
	m.writes = nil
	m.order = nil
}

func (m *Manager) record(key string, entry overlayEntry) {
	if _, ok := m.writes[key]; !ok {
		m.order = append(m.order, key)
	}
	m.writes[key] = entry
}

func (m *Manager) getRaw(key []byte) ([]byte, error) {
	if m.parent != nil {
		if m.closed {
			return nil, errTxClosed
		}
		if entry, ok := m.writes[string(key)]; ok {
			if entry.deleted {
				return nil, nil
			}
			return entry.value, nil
		}
		return m.parent.getRaw(key)
	}
	if m.db == nil {
		return nil, errNilDatabase
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) putRaw(key, value []byte) error {
	if m.parent != nil {
		if m.closed {
			return errTxClosed
		}
		m.record(string(key), overlayEntry{value: append([]byte(nil), value...)})
		return nil
	}
	if m.db == nil {
		return errNilDatabase
	}
	return m.db.Put(key, value)
}

func (m *Manager) deleteRaw(key []byte) error {
	if m.parent != nil {
		if m.closed {
			return errTxClosed
		}
		m.record(string(key), overlayEntry{deleted: true})
		return nil
	}
	if m.db == nil {
		return errNilDatabase
	}
	return m.db.Delete(key)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.putRaw(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, errEmptyKVKey
	}
	data, err := m.getRaw(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode: %w", err)
	}
	return true, nil
}

// KVDelete removes the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return errEmptyKVKey
	}
	return m.deleteRaw(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	list, err := m.KVList(key)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVRemove drops value from the list stored under key if present.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	list, err := m.KVList(key)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, filtered)
}

// KVList returns the byte slice list stored under key.
func (m *Manager) KVList(key []byte) ([][]byte, error) {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}
