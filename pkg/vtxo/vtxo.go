// Package vtxo defines the off-chain claim entities (VirtualUtxo,
// ExtendedVirtualUtxo) and the validation routine (spec §4.5.1) that
// PoolManager runs on every incoming transfer request before it will
// accept it.
package vtxo

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

// WitnessUtxo is the prevout data a vUTXO's on-chain shared output carries:
// asset, value, and scriptPubKey.
type WitnessUtxo struct {
	Asset  chainhash.Hash
	Value  int64
	Script []byte
}

// VirtualUtxo is an off-chain claim on one index within a pool transaction
// (spec §3). Immutable: created by a pool transaction, destroyed when its
// owner either participates in a later transfer or broadcasts a redeem
// transaction.
type VirtualUtxo struct {
	TxID           chainhash.Hash
	Index          uint32
	TapInternalKey [32]byte
	WitnessUtxo    WitnessUtxo
}

// VirtualUtxoTaprootTree is the pair of leaves a vUTXO's owner can spend
// from the shared pool output: the ASP's CSV claim leaf and the owner's
// FrozenReceiver redeem leaf, each with its resolved control block.
type VirtualUtxoTaprootTree struct {
	ClaimLeaf  taptree.Leaf
	RedeemLeaf taptree.Leaf
}

// RedeemTaprootTree is the pair of leaves over a vUTXO owner's per-user
// redeem output: the owner's CSV claim leaf and the joint ASP/owner
// forfeit leaf.
type RedeemTaprootTree struct {
	ClaimLeaf   taptree.Leaf
	ForfeitLeaf taptree.Leaf
}

// ExtendedVirtualUtxo bundles a VirtualUtxo with both of its resolved
// Taproot trees, the shape PoolManager and PoolWatcher operate on.
type ExtendedVirtualUtxo struct {
	VUtxo      VirtualUtxo
	VUtxoTree  VirtualUtxoTaprootTree
	RedeemTree RedeemTaprootTree
}

// leafMerkleRoot recovers the Merkle root a (script, controlBlock) pair
// proves membership in, using txscript's real control-block verification
// primitive (ParseControlBlock / ControlBlock.RootHash) rather than a
// reimplemented Merkle-path walker.
func leafMerkleRoot(leaf taptree.Leaf) ([]byte, *btcec.PublicKey, error) {
	cb, err := txscript.ParseControlBlock(leaf.ControlBlock)
	if err != nil {
		return nil, nil, fmt.Errorf("vtxo: parse control block: %w", err)
	}
	root := cb.RootHash(leaf.Script)
	return root, cb.InternalKey, nil
}

// Validate implements the vUTXO validation routine of spec §4.5.1: given
// (vUtxo, vUtxoTree, redeemTree), every field must cross-check against
// every other, and the two trees' control blocks must actually reproduce
// the on-chain witness script. Any mismatch is a ValidationError.
func Validate(e ExtendedVirtualUtxo, aspXOnlyPubKey [32]byte) error {
	if e.VUtxo.TapInternalKey != chainparams.XHPoint {
		return ports.NewValidationError("vtxo.Validate", "tapInternalKey is not X_H_POINT")
	}

	claim, err := script.DecompileCSV(e.VUtxoTree.ClaimLeaf.Script)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.claimLeaf: %v", err)
	}
	if claim.OwnerPubKey != aspXOnlyPubKey {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.claimLeaf owner is not the ASP key")
	}

	redeemClaim, err := script.DecompileCSV(e.RedeemTree.ClaimLeaf.Script)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.claimLeaf: %v", err)
	}
	ownerKey := redeemClaim.OwnerPubKey

	forfeit, err := script.DecompileForfeit(e.RedeemTree.ForfeitLeaf.Script)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.forfeitLeaf: %v", err)
	}
	if forfeit.OwnerPubKey != ownerKey {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.forfeitLeaf owner does not match claimLeaf owner")
	}
	if forfeit.ProviderPubKey != aspXOnlyPubKey {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.forfeitLeaf provider is not the ASP key")
	}

	redeemRootClaim, redeemInternalKey, err := leafMerkleRoot(e.RedeemTree.ClaimLeaf)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.claimLeaf control block: %v", err)
	}
	redeemRootForfeit, _, err := leafMerkleRoot(e.RedeemTree.ForfeitLeaf)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "redeemTree.forfeitLeaf control block: %v", err)
	}
	if !bytes.Equal(redeemRootClaim, redeemRootForfeit) {
		return ports.NewValidationError("vtxo.Validate", "redeemTree leaves disagree on merkle root")
	}

	redeemOutputKey := txscript.ComputeTaprootOutputKey(redeemInternalKey, redeemRootClaim)
	var redeemWitnessProgram [32]byte
	copy(redeemWitnessProgram[:], redeemOutputKey.SerializeCompressed()[1:])

	frozenReceiver, err := script.DecompileFrozenReceiver(e.VUtxoTree.RedeemLeaf.Script)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.redeemLeaf: %v", err)
	}
	if frozenReceiver.OwnerPubKey != ownerKey {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.redeemLeaf owner does not match redeemTree owner")
	}
	if frozenReceiver.WitnessProgram != redeemWitnessProgram {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.redeemLeaf witness program does not match redeem tree output")
	}

	vUtxoRootClaim, vUtxoInternalKey, err := leafMerkleRoot(e.VUtxoTree.ClaimLeaf)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.claimLeaf control block: %v", err)
	}
	vUtxoRootRedeem, _, err := leafMerkleRoot(e.VUtxoTree.RedeemLeaf)
	if err != nil {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree.redeemLeaf control block: %v", err)
	}
	if !bytes.Equal(vUtxoRootClaim, vUtxoRootRedeem) {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree leaves disagree on merkle root")
	}

	sharedOutputKey := txscript.ComputeTaprootOutputKey(vUtxoInternalKey, vUtxoRootClaim)
	var sharedXOnly [32]byte
	copy(sharedXOnly[:], sharedOutputKey.SerializeCompressed()[1:])

	if len(e.VUtxo.WitnessUtxo.Script) != 34 {
		return ports.NewValidationError("vtxo.Validate", "witnessUtxo.script has unexpected length %d", len(e.VUtxo.WitnessUtxo.Script))
	}
	if !bytes.Equal(sharedXOnly[:], e.VUtxo.WitnessUtxo.Script[2:]) {
		return ports.NewValidationError("vtxo.Validate", "vUtxoTree merkle root does not reproduce witnessUtxo.script")
	}

	return nil
}
