// Package taptree assembles the protocol's two Taproot trees — the
// per-user RedeemTaprootTree and the shared-coin tree over the pool's
// shared output — using the real btcsuite/btcd/txscript Taproot builder
// (AssembleTaprootScriptTree / ComputeTaprootOutputKey) for script-path
// spends.
package taptree

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
)

// Leaf is one resolved Taproot leaf: its script, and the control block
// bytes needed to spend it, given the tree it sits in.
type Leaf struct {
	Script       []byte
	ControlBlock []byte
}

// Tree is an assembled Taproot tree: the output key (x-only, 32 bytes) and
// per-leaf spend data, indexed the same way the leaves were passed in.
type Tree struct {
	InternalKey    *btcec.PublicKey
	OutputKeyXOnly [32]byte
	Leaves         []Leaf
}

// OutputScript returns the P2TR scriptPubKey for t: OP_1 || 32-byte
// x-only tweaked output key.
func (t Tree) OutputScript() []byte {
	out := make([]byte, 0, 34)
	out = append(out, txscript.OP_1)
	out = append(out, 0x20)
	out = append(out, t.OutputKeyXOnly[:]...)
	return out
}

// assemble builds a Tree from internalKey and an ordered list of leaf
// scripts, resolving each leaf's control block against the assembled tree.
func assemble(internalKey *btcec.PublicKey, leafScripts [][]byte) (Tree, error) {
	if len(leafScripts) == 0 {
		return Tree{}, fmt.Errorf("taptree: at least one leaf required")
	}

	tapLeaves := make([]txscript.TapLeaf, len(leafScripts))
	for i, s := range leafScripts {
		tapLeaves[i] = txscript.NewBaseTapLeaf(s)
	}

	indexed := txscript.AssembleTaprootScriptTree(tapLeaves...)
	merkleRoot := indexed.RootNode.TapHash()
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot[:])

	leaves := make([]Leaf, len(leafScripts))
	for i, leaf := range tapLeaves {
		proofIdx, ok := indexed.LeafProofIndex[leaf.TapHash()]
		if !ok {
			return Tree{}, fmt.Errorf("taptree: no merkle proof found for leaf %d", i)
		}
		proof := indexed.LeafMerkleProofs[proofIdx]
		controlBlock := proof.ToControlBlock(internalKey)
		cbBytes, err := controlBlock.ToBytes()
		if err != nil {
			return Tree{}, fmt.Errorf("taptree: serialize control block for leaf %d: %w", i, err)
		}
		leaves[i] = Leaf{Script: leafScripts[i], ControlBlock: cbBytes}
	}

	var xOnly [32]byte
	copy(xOnly[:], outputKey.SerializeCompressed()[1:])

	return Tree{InternalKey: internalKey, OutputKeyXOnly: xOnly, Leaves: leaves}, nil
}

// RedeemTree assembles the RedeemTaprootTree (spec §3, §4.2 point 1): leaves
// {forfeitLeaf, claimLeaf} in that order over the unspendable internal key
// hPoint, so the only spend path is one of the two committed leaves.
//
// claimLeaf enforces ownerPubKeyX after redeemTimeout; forfeitLeaf is the
// ASP-plus-user joint spend tied to a promised pool transaction.
func RedeemTree(hPoint *btcec.PublicKey, ownerPubKeyX, providerPubKeyX [32]byte, redeemTimeoutBIP68 uint32) (Tree, error) {
	forfeitScript, err := script.Forfeit{OwnerPubKey: ownerPubKeyX, ProviderPubKey: providerPubKeyX}.Compile()
	if err != nil {
		return Tree{}, fmt.Errorf("taptree: compile forfeit leaf: %w", err)
	}

	claimScript, err := script.CSV{OwnerPubKey: ownerPubKeyX, TimeoutBIP68: redeemTimeoutBIP68}.Compile()
	if err != nil {
		return Tree{}, fmt.Errorf("taptree: compile claim leaf: %w", err)
	}

	return assemble(hPoint, [][]byte{forfeitScript, claimScript})
}

// VtxoRedeemLeaf builds the vUTXO's FrozenReceiver redeem leaf (spec §4.2
// point 2), forwarding to the given redeem tree's output witness program.
func VtxoRedeemLeaf(ownerPubKeyX [32]byte, redeemTreeWitnessProgram [32]byte) ([]byte, error) {
	return script.FrozenReceiver{OwnerPubKey: ownerPubKeyX, WitnessProgram: redeemTreeWitnessProgram}.Compile()
}
