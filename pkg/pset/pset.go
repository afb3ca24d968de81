// Package pset provides an Elements-aware wrapper around
// btcsuite/btcd/btcutil/psbt's PSBT container. Elements-family transactions
// carry an asset id alongside every input and output value (Bitcoin
// transactions do not), so Pset carries a parallel, index-aligned asset
// table next to the embedded *psbt.Packet rather than reimplementing
// Elements' own binary PSET/transaction wire format — see DESIGN.md for why
// that full reimplementation is out of scope for this proof of concept.
package pset

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Pset is an Elements-aware PSBT-shaped container: the underlying Bitcoin-
// shaped *psbt.Packet plus one asset id per input and output, aligned by
// index with Packet.Inputs/Packet.UnsignedTx.TxOut.
type Pset struct {
	Packet *psbt.Packet

	// InputAssets[i] is the asset id of the coin spent by input i.
	InputAssets []chainhash.Hash

	// OutputAssets[i] is the asset id carried by output i.
	OutputAssets []chainhash.Hash
}

// New builds an unsigned Pset from the given inputs and outputs. assets
// must have the same length as outpoints (inputAssets) and txOuts
// (outputAssets); New panics if the lengths disagree, since a caller able
// to construct mismatched slices has a bug, not a runtime condition to
// recover from.
func New(
	outpoints []*wire.OutPoint, sequences []uint32, inputAssets []chainhash.Hash,
	txOuts []*wire.TxOut, outputAssets []chainhash.Hash,
) (*Pset, error) {
	if len(outpoints) != len(inputAssets) {
		panic("pset: len(outpoints) != len(inputAssets)")
	}
	if len(txOuts) != len(outputAssets) {
		panic("pset: len(txOuts) != len(outputAssets)")
	}

	p, err := psbt.New(outpoints, txOuts, 2, 0, sequences)
	if err != nil {
		return nil, fmt.Errorf("pset: new: %w", err)
	}

	return &Pset{
		Packet:       p,
		InputAssets:  append([]chainhash.Hash(nil), inputAssets...),
		OutputAssets: append([]chainhash.Hash(nil), outputAssets...),
	}, nil
}

// AddOutput appends one output and its asset id to p.
func (p *Pset) AddOutput(out *wire.TxOut, asset chainhash.Hash) {
	p.Packet.UnsignedTx.AddTxOut(out)
	p.Packet.Outputs = append(p.Packet.Outputs, psbt.POutput{})
	p.OutputAssets = append(p.OutputAssets, asset)
}

// AddInput appends one input and its asset id to p.
func (p *Pset) AddInput(outpoint *wire.OutPoint, sequence uint32, asset chainhash.Hash) {
	p.Packet.UnsignedTx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
	p.Packet.UnsignedTx.TxIn[len(p.Packet.UnsignedTx.TxIn)-1].Sequence = sequence
	p.Packet.Inputs = append(p.Packet.Inputs, psbt.PInput{})
	p.InputAssets = append(p.InputAssets, asset)
}

// B64Encode serializes p to its base64 PSET representation (the underlying
// packet's, the asset table is local bookkeeping reconstructed by callers
// that already know which assets they put in).
func (p *Pset) B64Encode() (string, error) {
	return p.Packet.B64Encode()
}

// Decode parses a base64 PSET produced by B64Encode, pairing it with the
// given per-input/output asset tables (which travel out of band in this
// POC — see the package doc).
func Decode(b64 string, inputAssets, outputAssets []chainhash.Hash) (*Pset, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, fmt.Errorf("pset: decode: %w", err)
	}
	if len(inputAssets) != len(p.Inputs) {
		return nil, fmt.Errorf("pset: decode: %d input assets for %d inputs", len(inputAssets), len(p.Inputs))
	}
	if len(outputAssets) != len(p.Outputs) {
		return nil, fmt.Errorf("pset: decode: %d output assets for %d outputs", len(outputAssets), len(p.Outputs))
	}
	return &Pset{
		Packet:       p,
		InputAssets:  append([]chainhash.Hash(nil), inputAssets...),
		OutputAssets: append([]chainhash.Hash(nil), outputAssets...),
	}, nil
}

// TxID returns the txid of p's unsigned transaction.
func (p *Pset) TxID() chainhash.Hash {
	return p.Packet.UnsignedTx.TxHash()
}
