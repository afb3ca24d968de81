package watcher

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/forfeitmsg"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

func decodeTxHex(hexTx string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(hexTx)
	if err != nil {
		return nil, fmt.Errorf("watcher: decode transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("watcher: deserialize transaction: %w", err)
	}
	return tx, nil
}

func serializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("watcher: serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// serializeWitness encodes a witness stack the same way psbt's own
// FinalScriptWitness field expects it to be stored: a CompactSize witness
// item count followed by each length-prefixed item.
func serializeWitness(stack [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := psbt.WriteTxWitness(&buf, stack); err != nil {
		return nil, fmt.Errorf("watcher: serialize witness: %w", err)
	}
	return buf.Bytes(), nil
}

// forfeitWitness assembles the full witness stack for a forfeit-leaf spend:
// the four-element prefix script.Finalize computes (spec §4.4), plus the
// leaf script and its control block to complete the tapscript spend.
func forfeitWitness(aspSigBytes, userSigBytes []byte, msg forfeitmsg.Message, leaf taptree.Leaf) [][]byte {
	aspSig, _ := schnorr.ParseSignature(aspSigBytes)
	userSig, _ := schnorr.ParseSignature(userSigBytes)
	stack := script.Finalize(aspSig, userSig, msg.VUtxoTxID, msg.VUtxoIndex, msg.PromisedPoolTxID)
	stack = append(stack, leaf.Script, leaf.ControlBlock)
	return stack
}
