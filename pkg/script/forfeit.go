package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
)

// Forfeit is the ForfeitScript leaf (spec §4.1.3): the forfeit leaf of a
// redeem tree, jointly spendable by the owner and the provider (ASP) once
// both have signed the same forfeit-message digest over an outpoint that
// names a promised pool transaction actually sitting on-chain as input 0.
type Forfeit struct {
	// OwnerPubKey is the vUTXO owner's 32-byte x-only key.
	OwnerPubKey [32]byte

	// ProviderPubKey is the ASP's 32-byte x-only key.
	ProviderPubKey [32]byte
}

// Compile returns the serialized leaf script for fs:
//
//	DUP ROT SWAP CAT SHA256 DUP
//	<ownerPubKeyX> SWAP CHECKSIGFROMSTACKVERIFY
//	<providerPubKeyX> SWAP CHECKSIGFROMSTACKVERIFY
//	0 INSPECTINPUTOUTPOINT EQUALVERIFY
//
// At spend, the witness stack carries [aspSig, userSig, outpointBytes,
// promisedTxIdReversed]. DUP/ROT/SWAP set aside a copy of
// promisedTxIdReversed below the CAT operands without disturbing their
// order, so it survives CAT||SHA256 (which recomputes the forfeit-message
// digest the two signatures are checked against) for use at the end: `0
// INSPECTINPUTOUTPOINT` pushes input 0's outpoint txid, and the trailing
// EQUALVERIFY asserts it equals the preserved promisedTxIdReversed — the
// double-binding that makes the forfeit valid only when the promised pool
// transaction is actually sitting at input 0 on-chain.
func (fs Forfeit) Compile() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_ROT).
		AddOp(txscript.OP_SWAP).
		AddOp(txscript.OP_CAT).
		AddOp(txscript.OP_SHA256).
		AddOp(txscript.OP_DUP).
		AddData(fs.OwnerPubKey[:]).
		AddOp(txscript.OP_SWAP).
		AddOp(OP_CHECKSIGFROMSTACKVERIFY).
		AddData(fs.ProviderPubKey[:]).
		AddOp(txscript.OP_SWAP).
		AddOp(OP_CHECKSIGFROMSTACKVERIFY).
		AddInt64(0).
		AddOp(OP_INSPECTINPUTOUTPOINT).
		AddOp(txscript.OP_EQUALVERIFY).
		Script()
}

// DecompileForfeit parses b as a Forfeit leaf script, rejecting any
// deviation from the canonical opcode sequence.
func DecompileForfeit(b []byte) (Forfeit, error) {
	tok := txscript.MakeScriptTokenizer(0, b)

	if !tok.Next() || tok.Opcode() != txscript.OP_DUP {
		return Forfeit{}, decompileErr(tok, "expected leading OP_DUP")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_ROT {
		return Forfeit{}, decompileErr(tok, "expected OP_ROT")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_SWAP {
		return Forfeit{}, decompileErr(tok, "expected leading OP_SWAP")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_CAT {
		return Forfeit{}, decompileErr(tok, "expected OP_CAT")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_SHA256 {
		return Forfeit{}, decompileErr(tok, "expected OP_SHA256")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_DUP {
		return Forfeit{}, decompileErr(tok, "expected OP_DUP")
	}
	if !tok.Next() || len(tok.Data()) != 32 {
		return Forfeit{}, decompileErr(tok, "expected 32-byte owner pubkey push")
	}
	var owner [32]byte
	copy(owner[:], tok.Data())

	if !tok.Next() || tok.Opcode() != txscript.OP_SWAP {
		return Forfeit{}, decompileErr(tok, "expected first OP_SWAP")
	}
	if !tok.Next() || tok.Opcode() != OP_CHECKSIGFROMSTACKVERIFY {
		return Forfeit{}, decompileErr(tok, "expected first OP_CHECKSIGFROMSTACKVERIFY (owner)")
	}
	if !tok.Next() || len(tok.Data()) != 32 {
		return Forfeit{}, decompileErr(tok, "expected 32-byte provider pubkey push")
	}
	var provider [32]byte
	copy(provider[:], tok.Data())

	if !tok.Next() || tok.Opcode() != txscript.OP_SWAP {
		return Forfeit{}, decompileErr(tok, "expected second OP_SWAP")
	}
	if !tok.Next() || tok.Opcode() != OP_CHECKSIGFROMSTACKVERIFY {
		return Forfeit{}, decompileErr(tok, "expected second OP_CHECKSIGFROMSTACKVERIFY (provider)")
	}
	if !tok.Next() {
		return Forfeit{}, decompileErr(tok, "missing input-index push")
	}
	inputIndex, err := scriptNumToUint32(tok.Data(), tok.Opcode())
	if err != nil || inputIndex != 0 {
		return Forfeit{}, fmt.Errorf("script: Forfeit: expected input index 0, got %v (err=%v)", inputIndex, err)
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTINPUTOUTPOINT {
		return Forfeit{}, decompileErr(tok, "expected OP_INSPECTINPUTOUTPOINT")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_EQUALVERIFY {
		return Forfeit{}, decompileErr(tok, "expected final OP_EQUALVERIFY")
	}
	if tok.Next() {
		return Forfeit{}, decompileErr(tok, "trailing bytes after OP_EQUALVERIFY")
	}
	if err := tok.Err(); err != nil {
		return Forfeit{}, fmt.Errorf("script: Forfeit: %w", err)
	}

	return Forfeit{OwnerPubKey: owner, ProviderPubKey: provider}, nil
}

// Finalize returns the witness stack for a joint forfeit spend: the ASP's
// signature, the owner's signature, the spent vUTXO's outpoint bytes (txid
// reversed || u32_le(index)), and the promised pool txid reversed — the
// same four-element prefix the script checks, leaving <script> and
// <controlBlock> to be appended by the Taproot spend builder.
func Finalize(aspSig, userSig *schnorr.Signature, vUtxoTxID chainhash.Hash, vUtxoIndex uint32, promisedPoolTxID chainhash.Hash) [][]byte {
	outpoint := make([]byte, 0, 36)
	rev := vUtxoTxID
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	outpoint = append(outpoint, rev[:]...)
	outpoint = append(outpoint, encodeUint32LE(vUtxoIndex)...)

	promised := promisedPoolTxID
	for i, j := 0, len(promised)-1; i < j; i, j = i+1, j-1 {
		promised[i], promised[j] = promised[j], promised[i]
	}

	return [][]byte{
		aspSig.Serialize(),
		userSig.Serialize(),
		outpoint,
		promised[:],
	}
}

func encodeUint32LE(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
