// Package script compiles and decompiles the three Taproot leaf scripts the
// protocol's covenants are built from: CheckSequenceVerifyScript,
// FrozenReceiverScript, and ForfeitScript (spec §4.1). Each codec exposes
// Compile (closure -> bytes), Decompile (bytes -> closure, strict: any
// deviation from the canonical opcode sequence is rejected), and, where the
// spend path is asymmetric, a Finalize method producing the witness stack.
//
// Standard opcodes (CHECKSEQUENCEVERIFY, DROP, CHECKSIG, EQUAL, …) are the
// real ones from btcsuite/btcd/txscript. The Elements-family introspection
// opcodes below don't exist in btcd (Bitcoin has no transaction
// introspection), so this package assigns them its own byte constants —
// these compile into the leaf scripts as plain single-byte pushes via
// txscript.ScriptBuilder.AddOp, and this repo never executes a script (see
// DESIGN.md), so no interpreter needs to agree on their numbering; only the
// signer and the Elements node spending them do, outside this repo's scope.
package script

const (
	// OP_INSPECTINPUTASSET pushes the asset id (with confidentiality
	// prefix byte) of the input currently being validated.
	OP_INSPECTINPUTASSET byte = 0xc0

	// OP_INSPECTINPUTVALUE pushes the value (with confidentiality prefix
	// byte) of the input currently being validated.
	OP_INSPECTINPUTVALUE byte = 0xc1

	// OP_INSPECTOUTPUTASSET takes an output index and pushes that output's
	// asset id (with confidentiality prefix byte).
	OP_INSPECTOUTPUTASSET byte = 0xc2

	// OP_INSPECTOUTPUTVALUE takes an output index and pushes that output's
	// value (with confidentiality prefix byte).
	OP_INSPECTOUTPUTVALUE byte = 0xc3

	// OP_INSPECTOUTPUTSCRIPTPUBKEY takes an output index and pushes that
	// output's scriptPubKey, split as (witness version, witness program).
	OP_INSPECTOUTPUTSCRIPTPUBKEY byte = 0xc4

	// OP_CHECKSIGFROMSTACK verifies a signature against an explicitly
	// stacked message and public key, rather than the transaction's
	// sighash, pushing a boolean result.
	OP_CHECKSIGFROMSTACK byte = 0xc5

	// OP_CHECKSIGFROMSTACKVERIFY is OP_CHECKSIGFROMSTACK followed by
	// OP_VERIFY.
	OP_CHECKSIGFROMSTACKVERIFY byte = 0xc6

	// OP_INSPECTINPUTOUTPOINT takes an input index and pushes that input's
	// outpoint txid (32 bytes) only — the pegin/issuance flag and vout are
	// dropped, matching the ForfeitScript leaf's need to bind a spend to a
	// specific promised transaction sitting at a given input.
	OP_INSPECTINPUTOUTPOINT byte = 0xc7
)
