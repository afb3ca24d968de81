package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
)

// FrozenReceiver is the FrozenReceiverScript leaf (spec §4.1.2): an
// introspection-based covenant used as a vUTXO's redeemLeaf. When spent it
// forces input 0 to be forwarded in its entirety — value and asset
// preserved — to one SegWit v1 output whose witness program equals
// WitnessProgram.
type FrozenReceiver struct {
	// OwnerPubKey is the 32-byte x-only key authorized to trigger the
	// forward (by signing the spend).
	OwnerPubKey [32]byte

	// WitnessProgram is the 32-byte witness program the named output must
	// carry.
	WitnessProgram [32]byte
}

// Compile returns the serialized leaf script for f:
//
//	<ownerPubKeyX> CHECKSIGVERIFY
//	DUP INSPECTOUTPUTASSET INSPECTINPUTASSET EQUALVERIFY
//	DUP INSPECTOUTPUTVALUE INSPECTINPUTVALUE EQUALVERIFY
//	INSPECTOUTPUTSCRIPTPUBKEY SWAP 1 EQUALVERIFY
//	<witnessProgram32> EQUAL
//
// The signature check consumes the witness's ownerSig and leaves the
// witness's outputIndex on the stack; everything after duplicates that
// index to compare the named output's asset, value, and witness program
// against the current input and against WitnessProgram.
func (f FrozenReceiver) Compile() ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddData(f.OwnerPubKey[:]).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddOp(txscript.OP_DUP).
		AddOp(OP_INSPECTOUTPUTASSET).
		AddOp(OP_INSPECTINPUTASSET).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_DUP).
		AddOp(OP_INSPECTOUTPUTVALUE).
		AddOp(OP_INSPECTINPUTVALUE).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(OP_INSPECTOUTPUTSCRIPTPUBKEY).
		AddOp(txscript.OP_SWAP).
		AddInt64(1).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(f.WitnessProgram[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// DecompileFrozenReceiver parses b as a FrozenReceiver leaf script, rejecting
// any deviation from the canonical opcode sequence.
func DecompileFrozenReceiver(b []byte) (FrozenReceiver, error) {
	tok := txscript.MakeScriptTokenizer(0, b)

	if !tok.Next() || len(tok.Data()) != 32 {
		return FrozenReceiver{}, decompileErr(tok, "expected 32-byte owner pubkey push")
	}
	var owner [32]byte
	copy(owner[:], tok.Data())

	if !tok.Next() || tok.Opcode() != txscript.OP_CHECKSIGVERIFY {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_CHECKSIGVERIFY")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_DUP {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_DUP")
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTOUTPUTASSET {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_INSPECTOUTPUTASSET")
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTINPUTASSET {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_INSPECTINPUTASSET")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_EQUALVERIFY {
		return FrozenReceiver{}, decompileErr(tok, "expected first OP_EQUALVERIFY (asset)")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_DUP {
		return FrozenReceiver{}, decompileErr(tok, "expected second OP_DUP")
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTOUTPUTVALUE {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_INSPECTOUTPUTVALUE")
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTINPUTVALUE {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_INSPECTINPUTVALUE")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_EQUALVERIFY {
		return FrozenReceiver{}, decompileErr(tok, "expected second OP_EQUALVERIFY (value)")
	}
	if !tok.Next() || tok.Opcode() != OP_INSPECTOUTPUTSCRIPTPUBKEY {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_INSPECTOUTPUTSCRIPTPUBKEY")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_SWAP {
		return FrozenReceiver{}, decompileErr(tok, "expected OP_SWAP")
	}
	if !tok.Next() {
		return FrozenReceiver{}, decompileErr(tok, "missing witness-version push")
	}
	version, err := scriptNumToUint32(tok.Data(), tok.Opcode())
	if err != nil || version != 1 {
		return FrozenReceiver{}, fmt.Errorf("script: FrozenReceiver: expected witness version 1, got %v (err=%v)", version, err)
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_EQUALVERIFY {
		return FrozenReceiver{}, decompileErr(tok, "expected third OP_EQUALVERIFY (witness version)")
	}
	if !tok.Next() || len(tok.Data()) != 32 {
		return FrozenReceiver{}, decompileErr(tok, "expected 32-byte witness program push")
	}
	var program [32]byte
	copy(program[:], tok.Data())

	if !tok.Next() || tok.Opcode() != txscript.OP_EQUAL {
		return FrozenReceiver{}, decompileErr(tok, "expected final OP_EQUAL")
	}
	if tok.Next() {
		return FrozenReceiver{}, decompileErr(tok, "trailing bytes after OP_EQUAL")
	}
	if err := tok.Err(); err != nil {
		return FrozenReceiver{}, fmt.Errorf("script: FrozenReceiver: %w", err)
	}

	return FrozenReceiver{OwnerPubKey: owner, WitnessProgram: program}, nil
}

// Finalize returns the witness stack for a leaf spend of f forwarding to
// outputIndex: the index encoded as a minimal script number (empty bytes
// for index 0), followed by the owner's tap-script signature.
func (f FrozenReceiver) Finalize(outputIndex uint32, sig *schnorr.Signature) [][]byte {
	return [][]byte{
		encodeScriptNum(outputIndex),
		sig.Serialize(),
	}
}
