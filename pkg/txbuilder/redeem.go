package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

// RedeemResult is the product of MakeRedeemTransaction: the unsigned PSET
// plus everything needed to finalize input 0's witness once the owner's
// tap-script signature over it is available.
type RedeemResult struct {
	Pset         *pset.Pset
	RedeemLeaf   taptree.Leaf
	FinalizeRoot FrozenReceiverFinalizer
}

// FrozenReceiverFinalizer closes over the redeem leaf's decompiled script so
// callers only need to supply the owner's signature.
type FrozenReceiverFinalizer func(sig *schnorr.Signature) [][]byte

// MakeRedeemTransaction builds the PSET a vUTXO owner broadcasts to
// unilaterally exit (spec §4.3.3). Input 0 spends the shared pool output
// using the owner's FrozenReceiver redeem leaf; the covenant forces output
// 0 to be the owner's own redeem-tree P2TR, carrying exactly the owner's
// asset and value. If continuationAmount is nonzero (other stakeholders
// remain in the shared output after this exit), output 1 carries the
// remaining value back to a fresh shared-coin continuation script — the
// FrozenReceiver's introspection only constrains output 0, so this
// continuation output rides along unconstrained by the spent leaf.
func MakeRedeemTransaction(
	sharedOutpoint chainhash.Hash, sharedIndex uint32, redeemLeaf taptree.Leaf,
	ownerAsset chainhash.Hash, ownerValue int64, redeemTreeOutputScript []byte,
	continuationAmount int64, continuationScript []byte,
) (*RedeemResult, error) {
	fr, err := script.DecompileFrozenReceiver(redeemLeaf.Script)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: redeem leaf is not a FrozenReceiver script: %w", err)
	}

	outputs := []*wire.TxOut{{Value: ownerValue, PkScript: redeemTreeOutputScript}}
	outputAssets := []chainhash.Hash{ownerAsset}

	if continuationAmount > 0 {
		outputs = append(outputs, &wire.TxOut{Value: continuationAmount, PkScript: continuationScript})
		outputAssets = append(outputAssets, ownerAsset)
	}

	p, err := pset.New(
		[]*wire.OutPoint{{Hash: sharedOutpoint, Index: sharedIndex}},
		[]uint32{wire.MaxTxInSequenceNum},
		[]chainhash.Hash{ownerAsset},
		outputs, outputAssets,
	)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build redeem pset: %w", err)
	}

	return &RedeemResult{
		Pset:       p,
		RedeemLeaf: redeemLeaf,
		FinalizeRoot: func(sig *schnorr.Signature) [][]byte {
			return fr.Finalize(0, sig)
		},
	}, nil
}
