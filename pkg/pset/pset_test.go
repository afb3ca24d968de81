package pset_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/stretchr/testify/require"
)

func TestNewAndEncodeDecodeRoundTrip(t *testing.T) {
	var asset chainhash.Hash
	asset[0] = 0x01

	outpoint := &wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 0}
	out := &wire.TxOut{Value: 1000, PkScript: []byte{0x51, 0x20}}

	p, err := pset.New(
		[]*wire.OutPoint{outpoint}, []uint32{wire.MaxTxInSequenceNum}, []chainhash.Hash{asset},
		[]*wire.TxOut{out}, []chainhash.Hash{asset},
	)
	require.NoError(t, err)
	require.Len(t, p.Packet.Inputs, 1)
	require.Len(t, p.Packet.Outputs, 1)

	b64, err := p.B64Encode()
	require.NoError(t, err)

	back, err := pset.Decode(b64, []chainhash.Hash{asset}, []chainhash.Hash{asset})
	require.NoError(t, err)
	require.Equal(t, p.TxID(), back.TxID())
	require.Equal(t, p.OutputAssets, back.OutputAssets)
}

func TestAddInputAddOutput(t *testing.T) {
	var asset chainhash.Hash
	asset[0] = 0x03

	p, err := pset.New(nil, nil, nil, nil, nil)
	require.NoError(t, err)

	p.AddInput(&wire.OutPoint{Hash: chainhash.Hash{0x04}, Index: 1}, wire.MaxTxInSequenceNum, asset)
	p.AddOutput(&wire.TxOut{Value: 400, PkScript: []byte{0x51, 0x20}}, asset)

	require.Len(t, p.Packet.Inputs, 1)
	require.Len(t, p.Packet.Outputs, 1)
	require.Equal(t, []chainhash.Hash{asset}, p.InputAssets)
	require.Equal(t, []chainhash.Hash{asset}, p.OutputAssets)
}
