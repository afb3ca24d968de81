// Package memwallet is an in-memory reference ports.Wallet, grounded on
// Klingon-tech-klingdex's single-key P2WPKH signing helper
// (internal/wallet/tx.go:signP2WPKH): a fixed private key controls every
// coin the wallet reports, signed with BIP143 witness signatures. It exists
// to exercise the Wallet interface end-to-end in tests, not to be a
// production key store.
package memwallet

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
)

// Coin is one spendable output the wallet can offer to CoinSelect.
type Coin struct {
	Outpoint chainhash.Hash
	Index    uint32
	Asset    chainhash.Hash
	Value    int64
}

// Wallet is a single-key in-memory ports.Wallet: one private key both owns
// every coin (via a fixed P2WPKH script) and signs Schnorr messages.
type Wallet struct {
	mu sync.Mutex

	priv         *btcec.PrivateKey
	script       []byte
	changeScript []byte
	coins        []Coin
	handedOut    []Coin
}

// New builds a Wallet funded with coins, all assumed to be controlled by
// script (the wallet's own P2WPKH scriptPubKey). changeScript is returned
// by GetChangeScriptPubKey for connector and change outputs.
func New(priv *btcec.PrivateKey, script, changeScript []byte, coins []Coin) *Wallet {
	return &Wallet{priv: priv, script: script, changeScript: changeScript, coins: append([]Coin(nil), coins...)}
}

func (w *Wallet) GetPublicKey(ctx context.Context) ([]byte, error) {
	return w.priv.PubKey().SerializeCompressed(), nil
}

func (w *Wallet) GetChangeScriptPubKey(ctx context.Context) ([]byte, error) {
	return w.changeScript, nil
}

// CoinSelect greedily accumulates coins of asset until amount is covered,
// returning the unspent remainder as a change output back to the wallet's
// own change script. Errors if the wallet's coins don't cover amount.
func (w *Wallet) CoinSelect(ctx context.Context, amount int64, asset chainhash.Hash) (*ports.CoinSelection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var selected []Coin
	var sum int64
	for _, c := range w.coins {
		if c.Asset != asset {
			continue
		}
		selected = append(selected, c)
		sum += c.Value
		if sum >= amount {
			break
		}
	}
	if sum < amount {
		return nil, fmt.Errorf("memwallet: only %d of asset %s available, need %d", sum, asset, amount)
	}

	w.coins = remaining(w.coins, selected)
	w.handedOut = append(w.handedOut, selected...)

	coins := make([]ports.UpdaterInput, len(selected))
	for i, c := range selected {
		coins[i] = ports.UpdaterInput{Outpoint: c.Outpoint, Index: c.Index, Asset: c.Asset, Value: c.Value}
	}

	result := &ports.CoinSelection{Coins: coins}
	if change := sum - amount; change > 0 {
		result.Change = &ports.UpdaterOutput{Script: w.changeScript, Asset: asset, Value: change}
	}
	return result, nil
}

func remaining(all, selected []Coin) []Coin {
	used := make(map[chainhash.Hash]bool, len(selected))
	for _, c := range selected {
		used[c.Outpoint] = true
	}
	var out []Coin
	for _, c := range all {
		if !used[c.Outpoint] {
			out = append(out, c)
		}
	}
	return out
}

// Sign signs every input it recognizes as its own with a BIP143 witness
// signature, the same signP2WPKH shape Klingon-tech-klingdex's wallet uses:
// either one of its coins (still held, or handed out through a prior
// CoinSelect), or an input whose psbt.PInput.WitnessUtxo names the wallet's
// own script (how a connector or change output built in an earlier
// transaction is identified here, since the wallet never tracked it as a
// coin of its own).
func (w *Wallet) Sign(ctx context.Context, p *pset.Pset) error {
	w.mu.Lock()
	byOutpoint := make(map[chainhash.Hash]int64, len(w.coins)+len(w.handedOut))
	for _, c := range w.coins {
		byOutpoint[c.Outpoint] = c.Value
	}
	for _, c := range w.handedOut {
		byOutpoint[c.Outpoint] = c.Value
	}
	w.mu.Unlock()

	tx := p.Packet.UnsignedTx

	prevOuts := make(map[wire.OutPoint]*wire.TxOut)
	for i, in := range tx.TxIn {
		if wu := p.Packet.Inputs[i].WitnessUtxo; wu != nil {
			prevOuts[in.PreviousOutPoint] = wu
			continue
		}
		if value, ok := byOutpoint[in.PreviousOutPoint.Hash]; ok {
			prevOuts[in.PreviousOutPoint] = wire.NewTxOut(value, w.script)
		}
	}
	fetcher := txscript.NewMultiPrevOutFetcher(prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prevOut, ok := prevOuts[in.PreviousOutPoint]
		if !ok {
			continue
		}
		if !bytes.Equal(prevOut.PkScript, w.script) && !bytes.Equal(prevOut.PkScript, w.changeScript) {
			continue
		}

		witness, err := txscript.WitnessSignature(tx, sigHashes, i, prevOut.Value, prevOut.PkScript, txscript.SigHashAll, w.priv, true)
		if err != nil {
			return fmt.Errorf("memwallet: sign input %d: %w", i, err)
		}

		var buf bytes.Buffer
		if err := psbt.WriteTxWitness(&buf, witness); err != nil {
			return fmt.Errorf("memwallet: serialize witness for input %d: %w", i, err)
		}
		p.Packet.Inputs[i].FinalScriptWitness = buf.Bytes()
	}
	return nil
}

func (w *Wallet) SignSchnorr(ctx context.Context, msg32 [32]byte) (*schnorr.Signature, error) {
	return schnorr.Sign(w.priv, msg32[:], schnorr.FastSign(), schnorr.CustomNonce([32]byte{}))
}
