// Package txbuilder implements the three unsigned-transaction builders of
// spec §4.3: createLiftTransaction, createPoolTransaction, and
// makeRedeemTransaction. Each produces an unsigned *pset.Pset (plus the
// resolved Taproot tree data callers need to finalize or persist) rather
// than a signed transaction — signing is the Wallet's job.
package txbuilder

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

// treeLeavesFor resolves a stakeholder's (vUtxoTree, redeemTree) pair into
// the flat ports.TreeLeaves shape once both trees have been assembled.
func treeLeavesFor(vUtxoTree, redeemTree taptree.Tree) ports.TreeLeaves {
	// By construction (see RedeemTree / SharedCoinTree), leaf 0 of a
	// redeem tree is the forfeit leaf, leaf 1 the claim leaf; of a
	// per-stakeholder shared-coin view, the redeem (FrozenReceiver) leaf
	// is the stakeholder's own, the claim leaf the ASP's.
	return ports.TreeLeaves{
		VUtxoRedeemLeaf:   vUtxoTree.Leaves[0].Script,
		VUtxoRedeemCB:     vUtxoTree.Leaves[0].ControlBlock,
		VUtxoClaimLeaf:    vUtxoTree.Leaves[1].Script,
		VUtxoClaimCB:      vUtxoTree.Leaves[1].ControlBlock,
		RedeemForfeitLeaf: redeemTree.Leaves[0].Script,
		RedeemForfeitCB:   redeemTree.Leaves[0].ControlBlock,
		RedeemClaimLeaf:   redeemTree.Leaves[1].Script,
		RedeemClaimCB:     redeemTree.Leaves[1].ControlBlock,
	}
}

// CreateLiftTransaction builds an unsigned lift PSET for one or more
// concurrent lift orders (spec §4.3.1): one combined shared covenant
// output holding one FrozenReceiver stakeholder leaf per order plus the
// ASP's CSV claim leaf, each order's change passed through verbatim, and a
// single trailing miner-fee output split equally across orders.
func CreateLiftTransaction(
	hPoint *btcec.PublicKey, aspXOnlyKey [32]byte, nativeAsset chainhash.Hash,
	orders []ports.LiftArgs, minerFee int64, claimTimeoutSeq, redeemTimeoutSeq uint32,
) (*ports.UnsignedPoolTransaction, error) {
	if len(orders) == 0 {
		return nil, ports.NewValidationError("txbuilder.CreateLiftTransaction", "no orders given")
	}

	n := int64(len(orders))
	feeShare := (minerFee + n - 1) / n // ceil(minerFee / n)
	totalFee := feeShare * n

	type resolved struct {
		owner      [32]byte
		amount     int64
		leafScript []byte
		redeemTree taptree.Tree
	}

	resolvedOrders := make([]resolved, 0, len(orders))
	var inputs []*wire.OutPoint
	var sequences []uint32
	var inputAssets []chainhash.Hash
	var outputs []*wire.TxOut
	var outputAssets []chainhash.Hash

	for i, order := range orders {
		var inputsSum int64
		for _, c := range order.Coins {
			inputsSum += c.Value
			inputs = append(inputs, &wire.OutPoint{Hash: c.Outpoint, Index: c.Index})
			sequences = append(sequences, wire.MaxTxInSequenceNum)
			inputAssets = append(inputAssets, c.Asset)
		}

		changeAmount := int64(0)
		if order.Change != nil {
			changeAmount = order.Change.Value
		}

		liftedAmount := inputsSum - changeAmount - feeShare
		if liftedAmount <= 0 {
			return nil, ports.NewValidationError("txbuilder.CreateLiftTransaction", "order %d: lifted amount %d does not exceed its fee share %d", i, inputsSum-changeAmount, feeShare)
		}

		redeemTree, err := taptree.RedeemTree(hPoint, order.VUtxoPublicKey, aspXOnlyKey, redeemTimeoutSeq)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: order %d: redeem tree: %w", i, err)
		}

		leafScript, err := taptree.VtxoRedeemLeaf(order.VUtxoPublicKey, redeemTree.OutputKeyXOnly)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: order %d: redeem leaf: %w", i, err)
		}

		resolvedOrders = append(resolvedOrders, resolved{
			owner:      order.VUtxoPublicKey,
			amount:     liftedAmount,
			leafScript: leafScript,
			redeemTree: redeemTree,
		})

		if order.Change != nil {
			outputs = append(outputs, &wire.TxOut{Value: order.Change.Value, PkScript: order.Change.Script})
			outputAssets = append(outputAssets, order.Change.Asset)
		}
	}

	aspClaimScript, err := script.CSV{OwnerPubKey: aspXOnlyKey, TimeoutBIP68: claimTimeoutSeq}.Compile()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: ASP claim leaf: %w", err)
	}

	stakeholders := make([]taptree.Stakeholder, len(resolvedOrders))
	var sharedAmount int64
	for i, r := range resolvedOrders {
		stakeholders[i] = taptree.Stakeholder{Amount: r.amount, PubKey: r.owner, LeafScript: r.leafScript}
		sharedAmount += r.amount
	}

	sharedTree, err := taptree.SharedCoinTree(hPoint, stakeholders, aspClaimScript)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: shared-coin tree: %w", err)
	}

	sharedOut := &wire.TxOut{Value: sharedAmount, PkScript: sharedTree.OutputScript()}
	allOutputs := append([]*wire.TxOut{sharedOut}, outputs...)
	allOutputs = append(allOutputs, &wire.TxOut{Value: totalFee, PkScript: nil})
	allOutputAssets := append([]chainhash.Hash{nativeAsset}, outputAssets...)
	allOutputAssets = append(allOutputAssets, nativeAsset)

	p, err := pset.New(inputs, sequences, inputAssets, allOutputs, allOutputAssets)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build pset: %w", err)
	}

	b64, err := p.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: encode pset: %w", err)
	}

	leaves := make(map[[32]byte]ports.TreeLeaves, len(resolvedOrders))
	for i, r := range resolvedOrders {
		// The shared tree's leaves were reordered by descending amount;
		// find this owner's redeem leaf (and the common ASP claim leaf)
		// to report the exact control blocks a signer needs.
		var vUtxoTree taptree.Tree
		vUtxoTree.InternalKey = sharedTree.InternalKey
		vUtxoTree.OutputKeyXOnly = sharedTree.OutputKeyXOnly
		for _, l := range sharedTree.Leaves {
			if fr, err := script.DecompileFrozenReceiver(l.Script); err == nil && fr.OwnerPubKey == r.owner {
				vUtxoTree.Leaves = append(vUtxoTree.Leaves, l)
			}
		}
		for _, l := range sharedTree.Leaves {
			if _, err := script.DecompileCSV(l.Script); err == nil {
				vUtxoTree.Leaves = append(vUtxoTree.Leaves, l)
			}
		}
		leaves[r.owner] = treeLeavesFor(vUtxoTree, resolvedOrders[i].redeemTree)
	}

	return &ports.UnsignedPoolTransaction{
		PsetBase64: b64,
		VUtxoTxID:  p.TxID(),
		Leaves:     leaves,
		Connectors: nil,
	}, nil
}
