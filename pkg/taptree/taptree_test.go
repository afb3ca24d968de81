package taptree_test

import (
	"testing"

	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
	"github.com/stretchr/testify/require"
)

func fillKey(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func TestRedeemTreeLeavesResolveToSameRoot(t *testing.T) {
	owner := fillKey(0x01)
	provider := fillKey(0x02)

	redeemSeq := bip68.MustEncode(chainparams.RedeemTimeoutSeconds)

	tree, err := taptree.RedeemTree(chainparams.HPointPubKey, owner, provider, redeemSeq)
	require.NoError(t, err)
	require.Len(t, tree.Leaves, 2)

	forfeit, err := script.DecompileForfeit(tree.Leaves[0].Script)
	require.NoError(t, err)
	require.Equal(t, owner, forfeit.OwnerPubKey)
	require.Equal(t, provider, forfeit.ProviderPubKey)

	claim, err := script.DecompileCSV(tree.Leaves[1].Script)
	require.NoError(t, err)
	require.Equal(t, owner, claim.OwnerPubKey)
	require.Equal(t, redeemSeq, claim.TimeoutBIP68)
}

func TestVtxoRedeemLeafEmbedsWitnessProgram(t *testing.T) {
	owner := fillKey(0x03)
	program := fillKey(0x04)

	leaf, err := taptree.VtxoRedeemLeaf(owner, program)
	require.NoError(t, err)

	fr, err := script.DecompileFrozenReceiver(leaf)
	require.NoError(t, err)
	require.Equal(t, owner, fr.OwnerPubKey)
	require.Equal(t, program, fr.WitnessProgram)
}

func TestSharedCoinTreeOrderingIsDeterministic(t *testing.T) {
	owner1 := fillKey(0x10)
	owner2 := fillKey(0x11)

	leaf1, err := script.FrozenReceiver{OwnerPubKey: owner1, WitnessProgram: fillKey(0x20)}.Compile()
	require.NoError(t, err)
	leaf2, err := script.FrozenReceiver{OwnerPubKey: owner2, WitnessProgram: fillKey(0x21)}.Compile()
	require.NoError(t, err)

	aspClaim, err := script.CSV{OwnerPubKey: fillKey(0x30), TimeoutBIP68: bip68.MustEncode(chainparams.ClaimTimeoutSeconds)}.Compile()
	require.NoError(t, err)

	stakeholders := []taptree.Stakeholder{
		{Amount: 60000, PubKey: owner1, LeafScript: leaf1},
		{Amount: 40000, PubKey: owner2, LeafScript: leaf2},
	}

	treeA, err := taptree.SharedCoinTree(chainparams.HPointPubKey, stakeholders, aspClaim)
	require.NoError(t, err)

	reversed := []taptree.Stakeholder{stakeholders[1], stakeholders[0]}
	treeB, err := taptree.SharedCoinTree(chainparams.HPointPubKey, reversed, aspClaim)
	require.NoError(t, err)

	require.Equal(t, treeA.OutputKeyXOnly, treeB.OutputKeyXOnly)
}

func TestOutputScriptLayout(t *testing.T) {
	owner := fillKey(0x05)
	provider := fillKey(0x06)
	redeemSeq := bip68.MustEncode(chainparams.RedeemTimeoutSeconds)

	tree, err := taptree.RedeemTree(chainparams.HPointPubKey, owner, provider, redeemSeq)
	require.NoError(t, err)

	out := tree.OutputScript()
	require.Len(t, out, 34)
	require.Equal(t, byte(0x51), out[0]) // OP_1
	require.Equal(t, byte(0x20), out[1]) // 32-byte push
	require.Equal(t, tree.OutputKeyXOnly[:], out[2:])
}
