// Package watcher implements PoolWatcher (spec §4.6): the safety loop that
// scans the chain for a vUTXO owner's unilateral redeem attempt, and — if
// that owner already transferred the same vUTXO away through PoolManager —
// broadcasts the forfeit transaction that claims the redeem output before
// the owner's claim timeout can fire.
package watcher

import (
	"bytes"
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/louisinger/ark-liquid-poc/pkg/chainsource"
	"github.com/louisinger/ark-liquid-poc/pkg/forfeitmsg"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
)

// forfeitTxFee is the miner fee the watcher subtracts from a forfeit
// transaction's single main output (spec §4.6 step 5b).
const forfeitTxFee = 500

// Watcher is the PoolWatcher actor. It holds no long-lived mutable state of
// its own; each WatchRedeem call re-derives everything it needs from the
// chain and the repository.
type Watcher struct {
	wallet      ports.Wallet
	repo        ports.PoolWatcherRepository
	chain       ports.ChainSource
	hPoint      *btcec.PublicKey
	aspXOnly    [32]byte
	nativeAsset chainhash.Hash
	redeemSeq   uint32
	logger      *logrus.Entry
}

// New builds a Watcher.
func New(
	wallet ports.Wallet, repo ports.PoolWatcherRepository, chain ports.ChainSource, hPoint *btcec.PublicKey,
	aspXOnly [32]byte, nativeAsset chainhash.Hash, redeemTimeoutSeq uint32, logger *logrus.Logger,
) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		wallet: wallet, repo: repo, chain: chain, hPoint: hPoint, aspXOnly: aspXOnly, nativeAsset: nativeAsset,
		redeemSeq: redeemTimeoutSeq, logger: logger.WithField("component", "watcher.Watcher"),
	}
}

// WatchRedeem implements spec §4.6: it reconstructs ownerXOnly's redeem
// script, looks up the forfeit message and signature stored for it,
// discovers every unspent output paying that script (each one a redeem
// broadcast by the owner), and for each, builds, signs, and broadcasts a
// forfeit transaction consuming the next available connector from the
// promised pool. Per-unspent failures are logged and skipped rather than
// aborting the whole scan (spec §7: "surfaces per-unspent failures but
// continues processing"), except InsufficientConnectorsError, which
// spec §7 marks fatal and operator-visible.
func (w *Watcher) WatchRedeem(ctx context.Context, ownerXOnly [32]byte) ([]chainhash.Hash, error) {
	redeemTree, err := taptree.RedeemTree(w.hPoint, ownerXOnly, w.aspXOnly, w.redeemSeq)
	if err != nil {
		return nil, fmt.Errorf("watcher: rebuild redeem tree: %w", err)
	}
	redeemScriptPubKey := redeemTree.OutputScript()
	forfeitLeaf := redeemTree.Leaves[0] // RedeemTree assembles [forfeitLeaf, claimLeaf] in that order.

	stored, err := w.repo.GetForfeit(ctx, redeemScriptPubKey)
	if err != nil {
		return nil, fmt.Errorf("watcher: no forfeit stored for owner %x: %w", ownerXOnly, err)
	}

	digest := forfeitmsg.Hash(stored.Message)
	aspSig, err := w.wallet.SignSchnorr(ctx, digest)
	if err != nil {
		return nil, ports.NewChainError("Wallet.SignSchnorr", err)
	}

	unspents, err := w.chain.ListUnspents(ctx, chainsource.ScriptHash(redeemScriptPubKey))
	if err != nil {
		return nil, ports.NewChainError("ChainSource.ListUnspents", err)
	}

	var broadcast []chainhash.Hash
	log := w.logger.WithField("owner", fmt.Sprintf("%x", ownerXOnly))

	for _, u := range unspents {
		txid, err := w.forfeitOne(ctx, u, stored, aspSig, redeemScriptPubKey, forfeitLeaf)
		if err != nil {
			if _, fatal := err.(*ports.InsufficientConnectorsError); fatal {
				return broadcast, err
			}
			log.WithError(err).Warn("forfeit attempt failed for one redeem unspent, continuing")
			continue
		}
		log.WithField("forfeitTxId", txid.String()).Info("broadcast forfeit transaction")
		broadcast = append(broadcast, txid)
	}

	return broadcast, nil
}

func (w *Watcher) forfeitOne(
	ctx context.Context, u ports.Unspent, stored ports.StoredForfeit, aspSig *schnorr.Signature,
	redeemScriptPubKey []byte, forfeitLeaf taptree.Leaf,
) (chainhash.Hash, error) {
	pool, err := w.repo.GetPoolTransaction(ctx, stored.Message.PromisedPoolTxID)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: load promised pool tx %s: %w", stored.Message.PromisedPoolTxID, err)
	}
	if len(pool.Connectors) == 0 {
		return chainhash.Hash{}, &ports.InsufficientConnectorsError{PoolTxID: stored.Message.PromisedPoolTxID.String()}
	}
	connectorIdx := pool.Connectors[0]

	poolTx, err := decodeTxHex(pool.Hex)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: decode promised pool tx: %w", err)
	}
	if int(connectorIdx) >= len(poolTx.TxOut) {
		return chainhash.Hash{}, fmt.Errorf("watcher: connector index %d out of range for pool tx", connectorIdx)
	}
	connectorOut := poolTx.TxOut[connectorIdx]

	fetched, err := w.chain.FetchTransactions(ctx, []chainhash.Hash{u.TxHash})
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: fetch redeem tx %s: %w", u.TxHash, err)
	}
	redeemTx, err := decodeTxHex(fetched[0].Hex)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: decode redeem tx: %w", err)
	}
	if u.TxPos >= len(redeemTx.TxOut) {
		return chainhash.Hash{}, fmt.Errorf("watcher: redeem output index %d out of range", u.TxPos)
	}
	redeemOut := redeemTx.TxOut[u.TxPos]
	if !bytes.Equal(redeemOut.PkScript, redeemScriptPubKey) {
		return chainhash.Hash{}, fmt.Errorf("watcher: redeem unspent does not pay the expected script")
	}

	changeScript, err := w.wallet.GetChangeScriptPubKey(ctx)
	if err != nil {
		return chainhash.Hash{}, ports.NewChainError("Wallet.GetChangeScriptPubKey", err)
	}

	// Build the forfeit tx as a Pset (spec §4.6 step 5b): input 0 the next
	// connector, input 1 the redeemed output carrying the forfeit leaf; one
	// main output back to the ASP's change script, one fee output.
	p, err := pset.New(
		[]*wire.OutPoint{
			{Hash: stored.Message.PromisedPoolTxID, Index: connectorIdx},
			{Hash: u.TxHash, Index: uint32(u.TxPos)},
		},
		[]uint32{wire.MaxTxInSequenceNum, wire.MaxTxInSequenceNum},
		[]chainhash.Hash{w.nativeAsset, w.nativeAsset},
		[]*wire.TxOut{
			wire.NewTxOut(connectorOut.Value+redeemOut.Value-forfeitTxFee, changeScript),
			wire.NewTxOut(forfeitTxFee, nil),
		},
		[]chainhash.Hash{w.nativeAsset, w.nativeAsset},
	)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: build forfeit pset: %w", err)
	}
	p.Packet.Inputs[0].WitnessUtxo = connectorOut

	// Input 1 (spec §4.6 step 5c): finalize directly with the forfeit
	// witness, the same way script-path spends are finalized throughout
	// this repo (pkg/memwallet.Sign sets FinalScriptWitness the same way
	// for its own P2WPKH spends).
	witnessStack := forfeitWitness(aspSig.Serialize(), stored.Signature.Serialize(), stored.Message, forfeitLeaf)
	witnessBytes, err := serializeWitness(witnessStack)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: serialize forfeit witness: %w", err)
	}
	p.Packet.Inputs[1].FinalScriptWitness = witnessBytes

	// Input 0 (spec §4.6 step 5c): the ASP wallet signs its own connector
	// input with SIGHASH_ALL.
	if err := w.wallet.Sign(ctx, p); err != nil {
		return chainhash.Hash{}, ports.NewChainError("Wallet.Sign", err)
	}

	// Both inputs are already finalized directly (input 1 above, input 0 by
	// wallet.Sign, the same way memwallet.Sign sets FinalScriptWitness for
	// its own spends) — Extract needs nothing further from the library's
	// own PartialSig-driven finalizer.
	tx, err := psbt.Extract(p.Packet)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("watcher: extract forfeit transaction: %w", err)
	}

	raw, err := serializeTx(tx)
	if err != nil {
		return chainhash.Hash{}, err
	}

	txid, err := w.chain.BroadcastTransaction(ctx, raw)
	if err != nil {
		return chainhash.Hash{}, ports.NewChainError("ChainSource.BroadcastTransaction", err)
	}

	if err := w.repo.UpdateConnectors(ctx, stored.Message.PromisedPoolTxID, pool.Connectors[1:]); err != nil {
		return chainhash.Hash{}, ports.NewChainError("Repository.UpdateConnectors", err)
	}

	return txid, nil
}
