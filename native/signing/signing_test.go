package signing

import (
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agentvault/core/state"
	"agentvault/core/types"
	"agentvault/storage"
)

func TestSignAndRecover(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	domain := Domain{Name: "agentvault", Network: "testnet"}
	digest := TypedDigest(domain.Separator(), ethcrypto.Keccak256Hash([]byte("payload")))
	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != types.Address(ethcrypto.PubkeyToAddress(key.PublicKey)) {
		t.Fatalf("unexpected signer %s", signer.Hex())
	}
}

func TestRecoverRejectsHighS(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	digest := ethcrypto.Keccak256Hash([]byte("high-s"))
	sig, err := Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	s := new(big.Int).SetBytes(sig[32:64])
	flipped := new(big.Int).Sub(secp256k1N, s)
	copy(sig[32:64], common32(flipped.Bytes()))
	if sig[64] == 27 {
		sig[64] = 28
	} else {
		sig[64] = 27
	}
	if _, err := RecoverSigner(digest, sig); !errors.Is(err, ErrSignatureMalformed) {
		t.Fatalf("expected malformed error for high-s, got %v", err)
	}
}

func TestDomainSeparatesDigests(t *testing.T) {
	structHash := ethcrypto.Keccak256Hash([]byte("same"))
	a := TypedDigest(Domain{Name: "agentvault", Network: "mainnet"}.Separator(), structHash)
	b := TypedDigest(Domain{Name: "agentvault", Network: "testnet"}.Separator(), structHash)
	if a == b {
		t.Fatalf("expected different digests across networks")
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	verifier := NewVerifier(state.NewManager(storage.NewMemDB()))
	digest := ethcrypto.Keccak256Hash([]byte("once"))
	if used, err := verifier.Consumed(digest); err != nil || used {
		t.Fatalf("expected fresh digest, used=%v err=%v", used, err)
	}
	if err := verifier.Consume(digest); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := verifier.Consume(digest); !errors.Is(err, ErrSignatureReplayed) {
		t.Fatalf("expected replay error, got %v", err)
	}
}
