package pool

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
)

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

func xOnlyToPublicKey(x [32]byte) (*btcec.PublicKey, error) {
	return schnorr.ParsePubKey(x[:])
}

// outputScriptAt returns the scriptPubKey of output index within a base64
// PSET, decoded directly from the raw packet since the caller doesn't have
// (and doesn't need) a per-output asset table for this lookup.
func outputScriptAt(b64 string, index int) ([]byte, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, fmt.Errorf("pool: decode pset: %w", err)
	}
	if index < 0 || index >= len(p.UnsignedTx.TxOut) {
		return nil, fmt.Errorf("pool: output index %d out of range", index)
	}
	return p.UnsignedTx.TxOut[index].PkScript, nil
}

// decodePsetNoAssets decodes a base64 PSET without needing its asset table
// populated; only the wallet's Sign call and the finalize/extract path
// below need Packet, not InputAssets/OutputAssets.
func decodePsetNoAssets(b64 string) (*pset.Pset, error) {
	p, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	if err != nil {
		return nil, fmt.Errorf("pool: decode pset: %w", err)
	}
	return &pset.Pset{Packet: p}, nil
}

func serializeTxHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("pool: serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
