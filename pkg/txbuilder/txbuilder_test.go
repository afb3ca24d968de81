package txbuilder_test

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
	"github.com/louisinger/ark-liquid-poc/pkg/txbuilder"
	"github.com/stretchr/testify/require"
)

func fillKey(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

func nativeAsset() chainhash.Hash {
	return chainhash.Hash{0xaa}
}

var (
	aspKey           = fillKey(0x22)
	redeemTimeoutSeq = bip68.MustEncode(chainparams.RedeemTimeoutSeconds)
	claimTimeoutSeq  = bip68.MustEncode(chainparams.ClaimTimeoutSeconds)
)

func TestCreateLiftTransactionRejectsEmptyOrders(t *testing.T) {
	_, err := txbuilder.CreateLiftTransaction(chainparams.HPointPubKey, aspKey, nativeAsset(), nil, 500, claimTimeoutSeq, redeemTimeoutSeq)
	require.Error(t, err)
}

func TestCreateLiftTransactionSingleOrder(t *testing.T) {
	owner := fillKey(0x11)
	order := ports.LiftArgs{
		Coins: []ports.UpdaterInput{
			{Outpoint: chainhash.Hash{0x01}, Index: 0, Asset: nativeAsset(), Value: 100000},
		},
		VUtxoPublicKey: owner,
	}

	result, err := txbuilder.CreateLiftTransaction(chainparams.HPointPubKey, aspKey, nativeAsset(), []ports.LiftArgs{order}, 500, claimTimeoutSeq, redeemTimeoutSeq)
	require.NoError(t, err)
	require.NotEmpty(t, result.PsetBase64)
	require.Empty(t, result.Connectors)

	leaves, ok := result.Leaves[owner]
	require.True(t, ok)
	require.NotEmpty(t, leaves.VUtxoRedeemLeaf)
	require.NotEmpty(t, leaves.VUtxoClaimLeaf)
	require.NotEmpty(t, leaves.RedeemForfeitLeaf)
	require.NotEmpty(t, leaves.RedeemClaimLeaf)

	decoded, err := pset.Decode(result.PsetBase64, []chainhash.Hash{nativeAsset()}, []chainhash.Hash{nativeAsset(), nativeAsset()})
	require.NoError(t, err)
	require.Equal(t, result.VUtxoTxID, decoded.TxID())
}

func TestCreateLiftTransactionRejectsDustLift(t *testing.T) {
	owner := fillKey(0x11)
	order := ports.LiftArgs{
		Coins: []ports.UpdaterInput{
			{Outpoint: chainhash.Hash{0x01}, Index: 0, Asset: nativeAsset(), Value: 100},
		},
		VUtxoPublicKey: owner,
	}
	_, err := txbuilder.CreateLiftTransaction(chainparams.HPointPubKey, aspKey, nativeAsset(), []ports.LiftArgs{order}, 500, claimTimeoutSeq, redeemTimeoutSeq)
	require.Error(t, err)
}

type stubWallet struct {
	changeScript []byte
	coins        []ports.UpdaterInput
	change       *ports.UpdaterOutput
}

func (s *stubWallet) GetPublicKey(ctx context.Context) ([]byte, error) { return nil, nil }

func (s *stubWallet) GetChangeScriptPubKey(ctx context.Context) ([]byte, error) {
	return s.changeScript, nil
}

func (s *stubWallet) CoinSelect(ctx context.Context, amount int64, asset chainhash.Hash) (*ports.CoinSelection, error) {
	return &ports.CoinSelection{Coins: s.coins, Change: s.change}, nil
}

func (s *stubWallet) Sign(ctx context.Context, p *pset.Pset) error { return nil }

func (s *stubWallet) SignSchnorr(ctx context.Context, msg32 [32]byte) (*schnorr.Signature, error) {
	return nil, nil
}

func buildVUtxoRef(t *testing.T, owner [32]byte, amount int64) (ports.ExtendedVirtualUtxoRef, []byte) {
	t.Helper()

	redeemTree, err := taptree.RedeemTree(chainparams.HPointPubKey, owner, aspKey, redeemTimeoutSeq)
	require.NoError(t, err)

	redeemLeaf, err := taptree.VtxoRedeemLeaf(owner, redeemTree.OutputKeyXOnly)
	require.NoError(t, err)

	aspClaimScript, err := script.CSV{OwnerPubKey: aspKey, TimeoutBIP68: claimTimeoutSeq}.Compile()
	require.NoError(t, err)

	sharedTree, err := taptree.SharedCoinTree(chainparams.HPointPubKey, []taptree.Stakeholder{
		{Amount: amount, PubKey: owner, LeafScript: redeemLeaf},
	}, aspClaimScript)
	require.NoError(t, err)

	return ports.ExtendedVirtualUtxoRef{
		TxID:           chainhash.Hash{0x05},
		Index:          0,
		Value:          amount,
		Asset:          nativeAsset(),
		WitnessProgram: sharedTree.OutputScript(),
		OwnerXOnlyKey:  owner,
	}, redeemLeaf
}

func TestCreatePoolTransactionFullTransfer(t *testing.T) {
	sender := fillKey(0x11)
	recipient := fillKey(0x33)
	vUtxoRef, redeemLeaf := buildVUtxoRef(t, sender, 50000)

	wallet := &stubWallet{
		changeScript: []byte{0x00, 0x14},
		coins: []ports.UpdaterInput{
			{Outpoint: chainhash.Hash{0x09}, Index: 0, Asset: nativeAsset(), Value: 200000},
		},
	}

	transfer := ports.VirtualTransfer{VUtxo: vUtxoRef, RedeemLeaf: redeemLeaf, ToPubKey: recipient}

	result, err := txbuilder.CreatePoolTransaction(context.Background(), wallet, chainparams.HPointPubKey, aspKey, nativeAsset(), []ports.VirtualTransfer{transfer}, 500, redeemTimeoutSeq)
	require.NoError(t, err)
	require.Len(t, result.Connectors, 1)
	require.Equal(t, uint32(chainparams.PoolConnectorsStart), result.Connectors[0])

	_, ok := result.Leaves[recipient]
	require.True(t, ok)
	_, senderHasChange := result.Leaves[sender]
	require.False(t, senderHasChange)
}

func TestCreatePoolTransactionPartialTransferLeavesChange(t *testing.T) {
	sender := fillKey(0x11)
	recipient := fillKey(0x33)
	vUtxoRef, redeemLeaf := buildVUtxoRef(t, sender, 50000)

	wallet := &stubWallet{
		changeScript: []byte{0x00, 0x14},
		coins: []ports.UpdaterInput{
			{Outpoint: chainhash.Hash{0x09}, Index: 0, Asset: nativeAsset(), Value: 200000},
		},
	}

	partial := int64(20000)
	transfer := ports.VirtualTransfer{VUtxo: vUtxoRef, RedeemLeaf: redeemLeaf, ToPubKey: recipient, Amount: &partial}

	result, err := txbuilder.CreatePoolTransaction(context.Background(), wallet, chainparams.HPointPubKey, aspKey, nativeAsset(), []ports.VirtualTransfer{transfer}, 500, redeemTimeoutSeq)
	require.NoError(t, err)

	_, recipientOK := result.Leaves[recipient]
	require.True(t, recipientOK)
	_, senderOK := result.Leaves[sender]
	require.True(t, senderOK, "sender should get a change leaf back in the new shared output")
}

func TestCreatePoolTransactionRejectsOverdraw(t *testing.T) {
	sender := fillKey(0x11)
	recipient := fillKey(0x33)
	vUtxoRef, redeemLeaf := buildVUtxoRef(t, sender, 50000)
	wallet := &stubWallet{changeScript: []byte{0x00, 0x14}}

	tooMuch := int64(60000)
	transfer := ports.VirtualTransfer{VUtxo: vUtxoRef, RedeemLeaf: redeemLeaf, ToPubKey: recipient, Amount: &tooMuch}

	_, err := txbuilder.CreatePoolTransaction(context.Background(), wallet, chainparams.HPointPubKey, aspKey, nativeAsset(), []ports.VirtualTransfer{transfer}, 500, redeemTimeoutSeq)
	require.Error(t, err)
}

func TestMakeRedeemTransactionWithoutContinuation(t *testing.T) {
	owner := fillKey(0x11)
	redeemTree, err := taptree.RedeemTree(chainparams.HPointPubKey, owner, aspKey, redeemTimeoutSeq)
	require.NoError(t, err)
	redeemLeaf, err := taptree.VtxoRedeemLeaf(owner, redeemTree.OutputKeyXOnly)
	require.NoError(t, err)

	vUtxoLeaf := taptree.Leaf{Script: redeemLeaf}

	result, err := txbuilder.MakeRedeemTransaction(
		chainhash.Hash{0x07}, 0, vUtxoLeaf,
		nativeAsset(), 50000, redeemTree.OutputScript(),
		0, nil,
	)
	require.NoError(t, err)
	require.NotNil(t, result.Pset)
	require.Len(t, result.Pset.Packet.UnsignedTx.TxOut, 1)
	require.Equal(t, int64(50000), result.Pset.Packet.UnsignedTx.TxOut[0].Value)
}

func TestMakeRedeemTransactionWithContinuation(t *testing.T) {
	owner := fillKey(0x11)
	redeemTree, err := taptree.RedeemTree(chainparams.HPointPubKey, owner, aspKey, redeemTimeoutSeq)
	require.NoError(t, err)
	redeemLeaf, err := taptree.VtxoRedeemLeaf(owner, redeemTree.OutputKeyXOnly)
	require.NoError(t, err)

	vUtxoLeaf := taptree.Leaf{Script: redeemLeaf}

	result, err := txbuilder.MakeRedeemTransaction(
		chainhash.Hash{0x07}, 0, vUtxoLeaf,
		nativeAsset(), 20000, redeemTree.OutputScript(),
		30000, []byte{0x51, 0x20},
	)
	require.NoError(t, err)
	require.Len(t, result.Pset.Packet.UnsignedTx.TxOut, 2)
	require.Equal(t, int64(30000), result.Pset.Packet.UnsignedTx.TxOut[1].Value)
}

func TestMakeRedeemTransactionRejectsNonFrozenReceiverLeaf(t *testing.T) {
	aspClaimScript, err := script.CSV{OwnerPubKey: aspKey, TimeoutBIP68: claimTimeoutSeq}.Compile()
	require.NoError(t, err)

	_, err = txbuilder.MakeRedeemTransaction(
		chainhash.Hash{0x07}, 0, taptree.Leaf{Script: aspClaimScript},
		nativeAsset(), 20000, nil, 0, nil,
	)
	require.Error(t, err)
}
