package wallet

import (
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"agentvault/core/types"
	"agentvault/native/permissions"
	"agentvault/native/signing"
)

var (
	instructionTypeHash = ethcrypto.Keccak256Hash([]byte("AgentVaultInstruction(address account,uint8 kind,bytes payload,uint64 expiration,uint64 nonce)"))
	batchTypeHash       = ethcrypto.Keccak256Hash([]byte("AgentVaultBatch(address account,bytes32[] instructions,uint64 expiration,uint64 nonce)"))
)

// Instruction is a delegated operation signed off-line by an agent. Nonce
// distinguishes otherwise identical instructions.
type Instruction struct {
	Account    types.Address
	Operation  Operation
	Expiration uint64
	Nonce      uint64
}

// SignedInstruction pairs an instruction with the agent's signature.
type SignedInstruction struct {
	Instruction
	Signature []byte
}

// BatchInstruction is a signed batch of operations.
type BatchInstruction struct {
	Account    types.Address
	Operations []Operation
	Expiration uint64
	Nonce      uint64
}

// SignedBatch pairs a batch with the agent's signature.
type SignedBatch struct {
	BatchInstruction
	Signature []byte
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func operationHash(op Operation) ([32]byte, error) {
	if op == nil {
		return [32]byte{}, ErrInvalidOperation
	}
	payload, err := rlp.EncodeToBytes(op)
	if err != nil {
		return [32]byte{}, fmt.Errorf("wallet: encode %s: %w", op.Kind(), err)
	}
	return ethcrypto.Keccak256Hash([]byte{byte(op.Kind())}, payload), nil
}

// InstructionDigest returns the typed-data digest the agent signs.
func InstructionDigest(domain signing.Domain, instr Instruction) ([32]byte, error) {
	opHash, err := operationHash(instr.Operation)
	if err != nil {
		return [32]byte{}, err
	}
	structHash := ethcrypto.Keccak256Hash(
		instructionTypeHash.Bytes(),
		instr.Account.Bytes(),
		opHash[:],
		u64(instr.Expiration),
		u64(instr.Nonce),
	)
	return signing.TypedDigest(domain.Separator(), structHash), nil
}

// BatchDigest returns the typed-data digest of a batch.
func BatchDigest(domain signing.Domain, batch BatchInstruction) ([32]byte, error) {
	parts := [][]byte{batchTypeHash.Bytes(), batch.Account.Bytes()}
	for _, op := range batch.Operations {
		h, err := operationHash(op)
		if err != nil {
			return [32]byte{}, err
		}
		parts = append(parts, h[:])
	}
	parts = append(parts, u64(batch.Expiration), u64(batch.Nonce))
	return signing.TypedDigest(domain.Separator(), ethcrypto.Keccak256Hash(parts...)), nil
}

// SignInstruction signs instr with key.
func SignInstruction(domain signing.Domain, instr Instruction, key *ecdsa.PrivateKey) (SignedInstruction, error) {
	digest, err := InstructionDigest(domain, instr)
	if err != nil {
		return SignedInstruction{}, err
	}
	sig, err := signing.Sign(digest, key)
	if err != nil {
		return SignedInstruction{}, err
	}
	return SignedInstruction{Instruction: instr, Signature: sig}, nil
}

// SignBatch signs batch with key.
func SignBatch(domain signing.Domain, batch BatchInstruction, key *ecdsa.PrivateKey) (SignedBatch, error) {
	digest, err := BatchDigest(domain, batch)
	if err != nil {
		return SignedBatch{}, err
	}
	sig, err := signing.Sign(digest, key)
	if err != nil {
		return SignedBatch{}, err
	}
	return SignedBatch{BatchInstruction: batch, Signature: sig}, nil
}

// Envelope is the JSON form of an operation: the kind name and its
// parameters.
type Envelope struct {
	Kind   string          `json:"kind"`
	Params json.RawMessage `json:"params"`
}

// EncodeOperation wraps op in its JSON envelope.
func EncodeOperation(op Operation) (Envelope, error) {
	if op == nil {
		return Envelope{}, ErrInvalidOperation
	}
	kind := op.Kind().String()
	if c, ok := op.(Convert); ok && c.Unwrap {
		kind = "unwrap"
	} else if ok {
		kind = "wrap"
	}
	params, err := json.Marshal(op)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: kind, Params: params}, nil
}

// DecodeOperation parses an envelope. The conversion kind is spelled "wrap"
// or "unwrap"; "conversion" is accepted with an explicit unwrap flag.
func DecodeOperation(env Envelope) (Operation, error) {
	name := strings.ToLower(strings.TrimSpace(env.Kind))
	var op Operation
	switch name {
	case "wrap", "unwrap":
		var c Convert
		if err := json.Unmarshal(env.Params, &c); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
		}
		c.Unwrap = name == "unwrap"
		return c, nil
	}
	kind, err := permissions.ParseKind(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	switch kind {
	case permissions.KindDeposit:
		op, err = decodeAs[Deposit](env.Params)
	case permissions.KindWithdraw:
		op, err = decodeAs[Withdraw](env.Params)
	case permissions.KindRebalance:
		op, err = decodeAs[Rebalance](env.Params)
	case permissions.KindTransfer:
		op, err = decodeAs[Transfer](env.Params)
	case permissions.KindSwap:
		op, err = decodeAs[Swap](env.Params)
	case permissions.KindConversion:
		op, err = decodeAs[Convert](env.Params)
	case permissions.KindAddLiquidity:
		op, err = decodeAs[AddLiquidity](env.Params)
	case permissions.KindRemoveLiquidity:
		op, err = decodeAs[RemoveLiquidity](env.Params)
	case permissions.KindClaimRewards:
		op, err = decodeAs[ClaimRewards](env.Params)
	case permissions.KindBorrow:
		op, err = decodeAs[Borrow](env.Params)
	case permissions.KindRepay:
		op, err = decodeAs[Repay](env.Params)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidOperation, env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	return op, nil
}

func decodeAs[T Operation](raw json.RawMessage) (T, error) {
	var op T
	if len(raw) == 0 {
		return op, nil
	}
	err := json.Unmarshal(raw, &op)
	return op, err
}

// InstructionJSON is the relay wire form of a signed instruction.
type InstructionJSON struct {
	Account    types.Address `json:"account"`
	Operation  Envelope      `json:"operation"`
	Expiration uint64        `json:"expiration"`
	Nonce      uint64        `json:"nonce"`
	Signature  string        `json:"signature"`
}

// BatchJSON is the relay wire form of a signed batch.
type BatchJSON struct {
	Account    types.Address `json:"account"`
	Operations []Envelope    `json:"operations"`
	Expiration uint64        `json:"expiration"`
	Nonce      uint64        `json:"nonce"`
	Signature  string        `json:"signature"`
}

// MarshalInstruction converts a signed instruction to its wire form.
func MarshalInstruction(s SignedInstruction) (InstructionJSON, error) {
	env, err := EncodeOperation(s.Operation)
	if err != nil {
		return InstructionJSON{}, err
	}
	return InstructionJSON{
		Account:    s.Account,
		Operation:  env,
		Expiration: s.Expiration,
		Nonce:      s.Nonce,
		Signature:  hexutil.Encode(s.Signature),
	}, nil
}

// Unmarshal converts the wire form back into a signed instruction.
func (j InstructionJSON) Unmarshal() (SignedInstruction, error) {
	op, err := DecodeOperation(j.Operation)
	if err != nil {
		return SignedInstruction{}, err
	}
	sig, err := decodeSignature(j.Signature)
	if err != nil {
		return SignedInstruction{}, err
	}
	return SignedInstruction{
		Instruction: Instruction{Account: j.Account, Operation: op, Expiration: j.Expiration, Nonce: j.Nonce},
		Signature:   sig,
	}, nil
}

// MarshalBatch converts a signed batch to its wire form.
func MarshalBatch(s SignedBatch) (BatchJSON, error) {
	out := BatchJSON{
		Account:    s.Account,
		Expiration: s.Expiration,
		Nonce:      s.Nonce,
		Signature:  hexutil.Encode(s.Signature),
	}
	for _, op := range s.Operations {
		env, err := EncodeOperation(op)
		if err != nil {
			return BatchJSON{}, err
		}
		out.Operations = append(out.Operations, env)
	}
	return out, nil
}

// Unmarshal converts the wire form back into a signed batch.
func (j BatchJSON) Unmarshal() (SignedBatch, error) {
	ops := make([]Operation, 0, len(j.Operations))
	for _, env := range j.Operations {
		op, err := DecodeOperation(env)
		if err != nil {
			return SignedBatch{}, err
		}
		ops = append(ops, op)
	}
	sig, err := decodeSignature(j.Signature)
	if err != nil {
		return SignedBatch{}, err
	}
	return SignedBatch{
		BatchInstruction: BatchInstruction{Account: j.Account, Operations: ops, Expiration: j.Expiration, Nonce: j.Nonce},
		Signature:        sig,
	}, nil
}

func decodeSignature(s string) ([]byte, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil || len(sig) != signing.SignatureLength {
		return nil, signing.ErrSignatureMalformed
	}
	return sig, nil
}
