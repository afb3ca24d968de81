package script

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
)

// CSV is the CheckSequenceVerifyScript leaf (spec §4.1.1):
//
//	<timeoutBIP68> CSV DROP <ownerPubKeyX> CHECKSIG
//
// Used for both the ASP's claim leaf (30-day timeout) and the user's
// redeem-claim leaf (15-day timeout).
type CSV struct {
	// OwnerPubKey is the 32-byte x-only key authorized to spend once the
	// timelock has elapsed.
	OwnerPubKey [32]byte

	// TimeoutBIP68 is the encoded relative-locktime sequence number; see
	// pkg/bip68.
	TimeoutBIP68 uint32
}

// Compile returns the serialized leaf script for c.
func (c CSV) Compile() ([]byte, error) {
	if !bip68.Valid(c.TimeoutBIP68) {
		return nil, fmt.Errorf("script: CSV timeout %#x is not a valid BIP-68 time-based sequence", c.TimeoutBIP68)
	}

	return txscript.NewScriptBuilder().
		AddInt64(int64(c.TimeoutBIP68)).
		AddOp(txscript.OP_CHECKSEQUENCEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(c.OwnerPubKey[:]).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// DecompileCSV parses b as a CSV leaf script, rejecting any deviation from
// the canonical opcode sequence.
func DecompileCSV(b []byte) (CSV, error) {
	tok := txscript.MakeScriptTokenizer(0, b)

	if !tok.Next() {
		return CSV{}, decompileErr(tok, "missing timeout push")
	}
	timeout, err := scriptNumToUint32(tok.Data(), tok.Opcode())
	if err != nil {
		return CSV{}, fmt.Errorf("script: CSV timeout: %w", err)
	}

	if !tok.Next() || tok.Opcode() != txscript.OP_CHECKSEQUENCEVERIFY {
		return CSV{}, decompileErr(tok, "expected OP_CHECKSEQUENCEVERIFY")
	}
	if !tok.Next() || tok.Opcode() != txscript.OP_DROP {
		return CSV{}, decompileErr(tok, "expected OP_DROP")
	}
	if !tok.Next() || len(tok.Data()) != 32 {
		return CSV{}, decompileErr(tok, "expected 32-byte owner pubkey push")
	}
	var owner [32]byte
	copy(owner[:], tok.Data())

	if !tok.Next() || tok.Opcode() != txscript.OP_CHECKSIG {
		return CSV{}, decompileErr(tok, "expected OP_CHECKSIG")
	}
	if tok.Next() {
		return CSV{}, decompileErr(tok, "trailing bytes after OP_CHECKSIG")
	}
	if err := tok.Err(); err != nil {
		return CSV{}, fmt.Errorf("script: CSV: %w", err)
	}

	if !bip68.Valid(timeout) {
		return CSV{}, fmt.Errorf("script: CSV: decoded timeout %#x is not a valid BIP-68 sequence", timeout)
	}

	return CSV{OwnerPubKey: owner, TimeoutBIP68: timeout}, nil
}

// Finalize returns the witness stack for a leaf spend of c: a single
// Schnorr signature under OwnerPubKey.
func (c CSV) Finalize(sig *schnorr.Signature) [][]byte {
	return [][]byte{sig.Serialize()}
}
