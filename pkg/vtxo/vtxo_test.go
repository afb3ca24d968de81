package vtxo_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
	"github.com/louisinger/ark-liquid-poc/pkg/vtxo"
	"github.com/stretchr/testify/require"
)

func fillKey(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

// buildValid constructs one ExtendedVirtualUtxo the way createLiftTransaction
// would: a redeem tree for ownerKey, a shared-coin tree holding exactly that
// owner's redeem leaf plus the ASP's claim leaf, and a VirtualUtxo whose
// witnessUtxo script is the shared tree's output script.
func buildValid(t *testing.T, ownerKey, aspKey [32]byte) vtxo.ExtendedVirtualUtxo {
	t.Helper()

	redeemSeq := bip68.MustEncode(chainparams.RedeemTimeoutSeconds)
	claimSeq := bip68.MustEncode(chainparams.ClaimTimeoutSeconds)

	redeemTree, err := taptree.RedeemTree(chainparams.HPointPubKey, ownerKey, aspKey, redeemSeq)
	require.NoError(t, err)

	redeemLeafScript, err := taptree.VtxoRedeemLeaf(ownerKey, redeemTree.OutputKeyXOnly)
	require.NoError(t, err)

	aspClaimScript, err := script.CSV{OwnerPubKey: aspKey, TimeoutBIP68: claimSeq}.Compile()
	require.NoError(t, err)

	sharedTree, err := taptree.SharedCoinTree(chainparams.HPointPubKey, []taptree.Stakeholder{
		{Amount: 100000, PubKey: ownerKey, LeafScript: redeemLeafScript},
	}, aspClaimScript)
	require.NoError(t, err)

	var redeemLeaf, claimLeaf taptree.Leaf
	for _, l := range sharedTree.Leaves {
		if _, err := script.DecompileFrozenReceiver(l.Script); err == nil {
			redeemLeaf = l
		} else {
			claimLeaf = l
		}
	}

	return vtxo.ExtendedVirtualUtxo{
		VUtxo: vtxo.VirtualUtxo{
			TxID:           chainhash.Hash{0x01},
			Index:          0,
			TapInternalKey: chainparams.XHPoint,
			WitnessUtxo: vtxo.WitnessUtxo{
				Asset:  chainhash.Hash{0x02},
				Value:  100000,
				Script: sharedTree.OutputScript(),
			},
		},
		VUtxoTree: vtxo.VirtualUtxoTaprootTree{
			ClaimLeaf:  claimLeaf,
			RedeemLeaf: redeemLeaf,
		},
		RedeemTree: vtxo.RedeemTaprootTree{
			ClaimLeaf:   redeemTree.Leaves[1],
			ForfeitLeaf: redeemTree.Leaves[0],
		},
	}
}

func TestValidateAcceptsWellFormedVUtxo(t *testing.T) {
	owner := fillKey(0x11)
	asp := fillKey(0x22)
	e := buildValid(t, owner, asp)
	require.NoError(t, vtxo.Validate(e, asp))
}

func TestValidateRejectsWrongTapInternalKey(t *testing.T) {
	owner := fillKey(0x11)
	asp := fillKey(0x22)
	e := buildValid(t, owner, asp)
	e.VUtxo.TapInternalKey[0] ^= 0xff
	require.Error(t, vtxo.Validate(e, asp))
}

func TestValidateRejectsMismatchedClaimLeafOwner(t *testing.T) {
	owner := fillKey(0x11)
	asp := fillKey(0x22)
	otherASP := fillKey(0x33)
	e := buildValid(t, owner, asp)
	require.Error(t, vtxo.Validate(e, otherASP))
}

func TestValidateRejectsTamperedWitnessProgram(t *testing.T) {
	owner := fillKey(0x11)
	asp := fillKey(0x22)
	e := buildValid(t, owner, asp)
	e.VUtxo.WitnessUtxo.Script = append([]byte{}, e.VUtxo.WitnessUtxo.Script...)
	e.VUtxo.WitnessUtxo.Script[len(e.VUtxo.WitnessUtxo.Script)-1] ^= 0xff
	require.Error(t, vtxo.Validate(e, asp))
}
