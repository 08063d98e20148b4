package signing

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/types"
	"agentvault/native/common"
)

var (
	ErrSignatureExpired   = common.NewKind(common.ErrSignatureInvalid, "signing: signature expired")
	ErrSignatureReplayed  = common.NewKind(common.ErrSignatureInvalid, "signing: signature already consumed")
	ErrSignatureMalformed = common.NewKind(common.ErrSignatureInvalid, "signing: malformed signature")

	errNilState = errors.New("signing: state not configured")
)

// SignatureLength is the size of an r||s||v signature.
const SignatureLength = 65

var (
	domainTypeHash = ethcrypto.Keccak256Hash([]byte("AgentVaultDomain(string name,string network,address verifier)"))
	consumedPrefix = []byte("signing/consumed/")
	secp256k1N     = ethcrypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// Domain separates signatures between deployments of the ledger.
type Domain struct {
	Name     string
	Network  string
	Verifier types.Address
}

// Separator returns the keccak domain separator.
func (d Domain) Separator() [32]byte {
	return ethcrypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Network)),
		common32(d.Verifier.Bytes()),
	)
}

func common32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// TypedDigest binds a struct hash to the domain separator.
func TypedDigest(separator, structHash [32]byte) [32]byte {
	return ethcrypto.Keccak256Hash([]byte{0x19, 0x01}, separator[:], structHash[:])
}

// Sign produces a 65-byte signature over digest with v in {27, 28}.
func Sign(digest [32]byte, key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("signing: nil key")
	}
	sig, err := ethcrypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RecoverSigner recovers the address that signed digest. High-s signatures
// are rejected so every signer has exactly one valid encoding.
func RecoverSigner(digest [32]byte, signature []byte) (types.Address, error) {
	if len(signature) != SignatureLength {
		return types.Address{}, ErrSignatureMalformed
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return types.Address{}, ErrSignatureMalformed
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if s.Cmp(secp256k1HalfN) > 0 || !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return types.Address{}, ErrSignatureMalformed
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return types.Address{}, fmt.Errorf("%w: %v", ErrSignatureMalformed, err)
	}
	return types.Address(ethcrypto.PubkeyToAddress(*pub)), nil
}

type verifierState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Verifier implements secp256k1 recovery plus a persistent consumed-digest
// set. Entries are never pruned.
type Verifier struct {
	state verifierState
}

// NewVerifier binds the consumed set to state.
func NewVerifier(state verifierState) *Verifier {
	return &Verifier{state: state}
}

func consumedKey(digest [32]byte) []byte {
	return append(append([]byte(nil), consumedPrefix...), digest[:]...)
}

// Recover returns the signer of digest.
func (v *Verifier) Recover(digest [32]byte, signature []byte) (types.Address, error) {
	return RecoverSigner(digest, signature)
}

// Consumed reports whether digest has been accepted before.
func (v *Verifier) Consumed(digest [32]byte) (bool, error) {
	if v == nil || v.state == nil {
		return false, errNilState
	}
	return v.state.KVGet(consumedKey(digest), nil)
}

// Consume records digest as used.
func (v *Verifier) Consume(digest [32]byte) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	used, err := v.Consumed(digest)
	if err != nil {
		return err
	}
	if used {
		return ErrSignatureReplayed
	}
	return v.state.KVPut(consumedKey(digest), []byte{1})
}
