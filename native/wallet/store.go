package wallet

import (
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/native/common"
)

var (
	whitelistPrefix      = []byte("wallet/whitelist/entry/")
	whitelistIndexPrefix = []byte("wallet/whitelist/index/")
	whitelistPendPrefix  = []byte("wallet/whitelist/pending/")
	ownershipPrefix      = []byte("wallet/ownership/")
	reservePrefix        = []byte("wallet/reserve/")
	factoryNoncePrefix   = []byte("wallet/factory/nonce/")
)

func pairKey(prefix []byte, a, b types.Address) []byte {
	buf := make([]byte, 0, len(prefix)+2*len(a))
	buf = append(buf, prefix...)
	buf = append(buf, a[:]...)
	return append(buf, b[:]...)
}

func addrKey(prefix []byte, a types.Address) []byte {
	return append(append([]byte(nil), prefix...), a[:]...)
}

func custodyAddress(label string) types.Address {
	return types.BytesToAddress(ethcrypto.Keccak256([]byte(label))[12:])
}

// store wraps the wallet-owned keys of a state overlay.
type store struct {
	st *state.Manager
}

type pendingRecord = common.PendingChange[types.Address]

func (s store) pendingOwnership(account types.Address) (pendingRecord, error) {
	var rec pendingRecord
	if _, err := s.st.KVGet(addrKey(ownershipPrefix, account), &rec); err != nil {
		return pendingRecord{}, err
	}
	return rec, nil
}

func (s store) putPendingOwnership(account types.Address, rec pendingRecord) error {
	if rec.Empty() {
		return s.st.KVDelete(addrKey(ownershipPrefix, account))
	}
	return s.st.KVPut(addrKey(ownershipPrefix, account), rec)
}

func (s store) hasPendingOwnership(account types.Address) (bool, error) {
	rec, err := s.pendingOwnership(account)
	if err != nil {
		return false, err
	}
	return !rec.Empty(), nil
}

func (s store) whitelisted(account, recipient types.Address) (bool, error) {
	return s.st.KVGet(pairKey(whitelistPrefix, account, recipient), nil)
}

func (s store) addWhitelist(account, recipient types.Address) error {
	if err := s.st.KVPut(pairKey(whitelistPrefix, account, recipient), []byte{1}); err != nil {
		return err
	}
	return s.st.KVAppend(addrKey(whitelistIndexPrefix, account), recipient.Bytes())
}

func (s store) removeWhitelist(account, recipient types.Address) error {
	if err := s.st.KVDelete(pairKey(whitelistPrefix, account, recipient)); err != nil {
		return err
	}
	return s.st.KVRemove(addrKey(whitelistIndexPrefix, account), recipient.Bytes())
}

func (s store) whitelist(account types.Address) ([]types.Address, error) {
	raw, err := s.st.KVList(addrKey(whitelistIndexPrefix, account))
	if err != nil {
		return nil, err
	}
	out := make([]types.Address, 0, len(raw))
	for _, entry := range raw {
		out = append(out, types.BytesToAddress(entry))
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out, nil
}

func (s store) pendingWhitelist(account, recipient types.Address) (pendingRecord, error) {
	var rec pendingRecord
	if _, err := s.st.KVGet(pairKey(whitelistPendPrefix, account, recipient), &rec); err != nil {
		return pendingRecord{}, err
	}
	return rec, nil
}

func (s store) putPendingWhitelist(account, recipient types.Address, rec pendingRecord) error {
	key := pairKey(whitelistPendPrefix, account, recipient)
	if rec.Empty() {
		return s.st.KVDelete(key)
	}
	return s.st.KVPut(key, rec)
}

func reserveKey(account types.Address, asset string) []byte {
	return append(addrKey(reservePrefix, account), []byte(":"+types.NormalizeAsset(asset))...)
}

func (s store) reserve(account types.Address, asset string) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := s.st.KVGet(reserveKey(account, asset), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (s store) setReserve(account types.Address, asset string, amount *big.Int) error {
	if !common.Positive(amount) {
		return s.st.KVDelete(reserveKey(account, asset))
	}
	return s.st.KVPut(reserveKey(account, asset), amount)
}

// nextNonce returns and advances the account-creation nonce of factory.
func (s store) nextNonce(factory types.Address) (uint64, error) {
	var nonce uint64
	if _, err := s.st.KVGet(addrKey(factoryNoncePrefix, factory), &nonce); err != nil {
		return 0, err
	}
	if err := s.st.KVPut(addrKey(factoryNoncePrefix, factory), nonce+1); err != nil {
		return 0, err
	}
	return nonce, nil
}
