package txbuilder

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

// CreatePoolTransaction builds an unsigned pool PSET for a batch of
// transfer orders (spec §4.3.2). Every pool transaction is funded fresh
// from the ASP's own wallet (the senders' existing vUTXOs are not spent on
// the new pool transaction at all — they're only invalidated later,
// through the forfeit protocol, if a sender tries to redeem them
// unilaterally after having transferred them away). Layout: output 0 the
// shared covenant, output 1 the miner fee, outputs 2..2+N-1 one dust
// connector per transfer, and an optional trailing ASP change output.
func CreatePoolTransaction(
	ctx context.Context, wallet ports.Wallet, hPoint *btcec.PublicKey,
	aspXOnlyKey [32]byte, nativeAsset chainhash.Hash, transfers []ports.VirtualTransfer,
	minerFee int64, redeemTimeoutSeq uint32,
) (*ports.UnsignedPoolTransaction, error) {
	if len(transfers) == 0 {
		return nil, ports.NewValidationError("txbuilder.CreatePoolTransaction", "no transfers given")
	}

	type resolved struct {
		owner      [32]byte
		amount     int64
		leafScript []byte
		redeemTree taptree.Tree
	}

	var resolvedStakeholders []resolved
	var sharedAmount int64

	for i, t := range transfers {
		amount := t.VUtxo.Value
		if t.Amount != nil {
			amount = *t.Amount
		}
		if amount > t.VUtxo.Value {
			return nil, ports.NewValidationError("txbuilder.CreatePoolTransaction", "transfer %d: amount %d exceeds vUTXO value %d", i, amount, t.VUtxo.Value)
		}

		recipientRedeemTree, err := taptree.RedeemTree(hPoint, t.ToPubKey, aspXOnlyKey, redeemTimeoutSeq)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: transfer %d: recipient redeem tree: %w", i, err)
		}
		recipientLeaf, err := taptree.VtxoRedeemLeaf(t.ToPubKey, recipientRedeemTree.OutputKeyXOnly)
		if err != nil {
			return nil, fmt.Errorf("txbuilder: transfer %d: recipient redeem leaf: %w", i, err)
		}
		resolvedStakeholders = append(resolvedStakeholders, resolved{
			owner: t.ToPubKey, amount: amount, leafScript: recipientLeaf, redeemTree: recipientRedeemTree,
		})
		sharedAmount += amount

		if remainder := t.VUtxo.Value - amount; remainder > 0 {
			changeRedeemTree, err := taptree.RedeemTree(hPoint, t.VUtxo.OwnerXOnlyKey, aspXOnlyKey, redeemTimeoutSeq)
			if err != nil {
				return nil, fmt.Errorf("txbuilder: transfer %d: change redeem tree: %w", i, err)
			}
			changeLeaf, err := taptree.VtxoRedeemLeaf(t.VUtxo.OwnerXOnlyKey, changeRedeemTree.OutputKeyXOnly)
			if err != nil {
				return nil, fmt.Errorf("txbuilder: transfer %d: change redeem leaf: %w", i, err)
			}
			resolvedStakeholders = append(resolvedStakeholders, resolved{
				owner: t.VUtxo.OwnerXOnlyKey, amount: remainder, leafScript: changeLeaf, redeemTree: changeRedeemTree,
			})
			sharedAmount += remainder
		}
	}

	aspClaimScript, err := script.CSV{OwnerPubKey: aspXOnlyKey, TimeoutBIP68: bip68.MustEncode(chainparams.ClaimTimeoutSeconds)}.Compile()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: ASP claim leaf: %w", err)
	}

	stakeholders := make([]taptree.Stakeholder, len(resolvedStakeholders))
	for i, r := range resolvedStakeholders {
		stakeholders[i] = taptree.Stakeholder{Amount: r.amount, PubKey: r.owner, LeafScript: r.leafScript}
	}

	sharedTree, err := taptree.SharedCoinTree(hPoint, stakeholders, aspClaimScript)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: shared-coin tree: %w", err)
	}

	n := int64(len(transfers))
	required := sharedAmount + minerFee + n*chainparams.Dust

	selection, err := wallet.CoinSelect(ctx, required, nativeAsset)
	if err != nil {
		return nil, &ports.CoinSelectionError{Amount: required, Asset: nativeAsset.String(), Err: err}
	}

	changeScript, err := wallet.GetChangeScriptPubKey(ctx)
	if err != nil {
		return nil, &ports.ChainError{Op: "GetChangeScriptPubKey", Err: err}
	}

	var inputs []*wire.OutPoint
	var sequences []uint32
	var inputAssets []chainhash.Hash
	for _, c := range selection.Coins {
		inputs = append(inputs, &wire.OutPoint{Hash: c.Outpoint, Index: c.Index})
		sequences = append(sequences, wire.MaxTxInSequenceNum)
		inputAssets = append(inputAssets, c.Asset)
	}

	outputs := []*wire.TxOut{{Value: sharedAmount, PkScript: sharedTree.OutputScript()}}
	outputAssets := []chainhash.Hash{nativeAsset}

	outputs = append(outputs, &wire.TxOut{Value: minerFee, PkScript: nil})
	outputAssets = append(outputAssets, nativeAsset)

	connectors := make([]uint32, 0, n)
	for i := int64(0); i < n; i++ {
		connectors = append(connectors, uint32(chainparams.PoolConnectorsStart+i))
		outputs = append(outputs, &wire.TxOut{Value: chainparams.Dust, PkScript: changeScript})
		outputAssets = append(outputAssets, nativeAsset)
	}

	if selection.Change != nil {
		outputs = append(outputs, &wire.TxOut{Value: selection.Change.Value, PkScript: selection.Change.Script})
		outputAssets = append(outputAssets, selection.Change.Asset)
	}

	p, err := pset.New(inputs, sequences, inputAssets, outputs, outputAssets)
	if err != nil {
		return nil, fmt.Errorf("txbuilder: build pset: %w", err)
	}

	b64, err := p.B64Encode()
	if err != nil {
		return nil, fmt.Errorf("txbuilder: encode pset: %w", err)
	}

	leaves := make(map[[32]byte]ports.TreeLeaves, len(resolvedStakeholders))
	for _, r := range resolvedStakeholders {
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
		leaves[r.owner] = treeLeavesFor(vUtxoTree, r.redeemTree)
	}

	return &ports.UnsignedPoolTransaction{
		PsetBase64: b64,
		VUtxoTxID:  p.TxID(),
		Leaves:     leaves,
		Connectors: connectors,
	}, nil
}
