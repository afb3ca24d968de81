package watcher_test

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/bip68"
	"github.com/louisinger/ark-liquid-poc/pkg/chainsource"
	"github.com/louisinger/ark-liquid-poc/pkg/forfeitmsg"
	"github.com/louisinger/ark-liquid-poc/pkg/memrepo"
	"github.com/louisinger/ark-liquid-poc/pkg/memwallet"
	"github.com/louisinger/ark-liquid-poc/pkg/pool"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
	"github.com/louisinger/ark-liquid-poc/pkg/vtxo"
	"github.com/louisinger/ark-liquid-poc/pkg/watcher"
	"github.com/stretchr/testify/require"
)

var (
	nativeAsset      = chainhash.Hash{0xaa}
	redeemTimeoutSeq = bip68.MustEncode(chainparams.RedeemTimeoutSeconds)
	claimTimeoutSeq  = bip68.MustEncode(chainparams.ClaimTimeoutSeconds)
)

func fillKey(b byte) [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = b
	}
	return out
}

// fakeChain is a minimal ports.ChainSource test double: its unspents and
// transaction hexes are seeded directly rather than discovered over a
// websocket, since WatchRedeem's behavior under a given chain state is what
// these tests exercise, not chainsource.ChainSource's wire format.
type fakeChain struct {
	unspents     map[string][]ports.Unspent
	transactions map[chainhash.Hash]string
	broadcast    []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		unspents:     make(map[string][]ports.Unspent),
		transactions: make(map[chainhash.Hash]string),
	}
}

func (f *fakeChain) seedUnspent(scriptPubKey []byte, u ports.Unspent, tx *wire.MsgTx) {
	key := chainsource.ScriptHash(scriptPubKey)
	f.unspents[key] = append(f.unspents[key], u)
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err)
	}
	f.transactions[u.TxHash] = hex.EncodeToString(buf.Bytes())
}

func (f *fakeChain) ListUnspents(ctx context.Context, scriptHex string) ([]ports.Unspent, error) {
	return f.unspents[scriptHex], nil
}

func (f *fakeChain) FetchTransactions(ctx context.Context, txids []chainhash.Hash) ([]ports.FetchedTransaction, error) {
	out := make([]ports.FetchedTransaction, len(txids))
	for i, txid := range txids {
		hexTx, ok := f.transactions[txid]
		if !ok {
			return nil, ports.NewChainError("FetchTransactions", nil)
		}
		out[i] = ports.FetchedTransaction{TxID: txid, Hex: hexTx}
	}
	return out, nil
}

func (f *fakeChain) BroadcastTransaction(ctx context.Context, hexTx string) (chainhash.Hash, error) {
	f.broadcast = append(f.broadcast, hexTx)
	raw, err := hex.DecodeString(hexTx)
	if err != nil {
		return chainhash.Hash{}, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return chainhash.Hash{}, err
	}
	return tx.TxHash(), nil
}

func (f *fakeChain) Close() error { return nil }

var _ ports.ChainSource = (*fakeChain)(nil)

type senderVUtxo struct {
	priv         *btcec.PrivateKey
	xkey         [32]byte
	e            vtxo.ExtendedVirtualUtxo
	redeemScript []byte
}

func buildSender(t *testing.T, aspKey [32]byte, amount int64) senderVUtxo {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	var xkey [32]byte
	copy(xkey[:], schnorr.SerializePubKey(priv.PubKey()))

	redeemTree, err := taptree.RedeemTree(chainparams.HPointPubKey, xkey, aspKey, redeemTimeoutSeq)
	require.NoError(t, err)
	redeemLeafScript, err := taptree.VtxoRedeemLeaf(xkey, redeemTree.OutputKeyXOnly)
	require.NoError(t, err)

	aspClaimScript, err := script.CSV{OwnerPubKey: aspKey, TimeoutBIP68: claimTimeoutSeq}.Compile()
	require.NoError(t, err)

	sharedTree, err := taptree.SharedCoinTree(chainparams.HPointPubKey, []taptree.Stakeholder{
		{Amount: amount, PubKey: xkey, LeafScript: redeemLeafScript},
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

	e := vtxo.ExtendedVirtualUtxo{
		VUtxo: vtxo.VirtualUtxo{
			TxID:           chainhash.Hash{0x01, byte(amount)},
			Index:          0,
			TapInternalKey: chainparams.XHPoint,
			WitnessUtxo: vtxo.WitnessUtxo{
				Asset:  nativeAsset,
				Value:  amount,
				Script: sharedTree.OutputScript(),
			},
		},
		VUtxoTree: vtxo.VirtualUtxoTaprootTree{ClaimLeaf: claimLeaf, RedeemLeaf: redeemLeaf},
		RedeemTree: vtxo.RedeemTaprootTree{
			ClaimLeaf:   redeemTree.Leaves[1],
			ForfeitLeaf: redeemTree.Leaves[0],
		},
	}

	return senderVUtxo{priv: priv, xkey: xkey, e: e, redeemScript: redeemTree.OutputScript()}
}

// exitTx builds the on-chain transaction a cheating owner would broadcast to
// start a unilateral exit: a single output paying their redeem-tree script.
// Its input doesn't need to be a genuine spend of the shared output for this
// test — WatchRedeem never re-derives or checks it, only the output it
// creates.
func exitTx(redeemScript []byte, value int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{seed}, Index: 0}})
	tx.AddTxOut(wire.NewTxOut(value, redeemScript))
	return tx
}

func newManagerAndWatcher(t *testing.T, aspPriv *btcec.PrivateKey, chain ports.ChainSource) (*pool.Manager, *watcher.Watcher, *memrepo.Repository) {
	t.Helper()

	aspKey := fillKeyFromPriv(aspPriv)

	changeScript := []byte{0x00, 0x14}
	changeKey := fillKey(0x99)
	changeScript = append(changeScript, changeKey[:20]...)

	wallet := memwallet.New(aspPriv, changeScript, changeScript, []memwallet.Coin{
		{Outpoint: chainhash.Hash{0xf0}, Index: 0, Asset: nativeAsset, Value: 10_000_000},
	})
	repo := memrepo.New()

	m := pool.NewManager(wallet, repo, chainparams.HPointPubKey, aspKey, nativeAsset, 500, redeemTimeoutSeq, 20*time.Millisecond, nil)
	go m.Run()
	t.Cleanup(m.Close)

	w := watcher.New(wallet, repo, chain, chainparams.HPointPubKey, aspKey, nativeAsset, redeemTimeoutSeq, nil)

	return m, w, repo
}

// promiseTransfer drives one full SendRequest/Send round trip so sender ends
// up with a stored forfeit and the promised pool transaction persisted with
// its connector(s), the state a cheating exit attempt forfeits against.
func promiseTransfer(t *testing.T, m *pool.Manager, sender senderVUtxo, recipient [32]byte) forfeitmsg.Message {
	t.Helper()

	ctx := context.Background()
	result, err := m.SendRequest(ctx, sender.e, recipient, nil)
	require.NoError(t, err)

	sig, err := forfeitmsg.Sign(sender.priv, result.ForfeitMessage)
	require.NoError(t, err)

	_, err = m.Send(ctx, result.ForfeitMessage, hex.EncodeToString(sig.Serialize()))
	require.NoError(t, err)

	return result.ForfeitMessage
}

func TestWatchRedeemForfeitsACheatingExit(t *testing.T) {
	aspPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	chain := newFakeChain()
	m, w, repo := newManagerAndWatcher(t, aspPriv, chain)

	sender := buildSender(t, fillKeyFromPriv(aspPriv), 100000)
	forfeitMsg := promiseTransfer(t, m, sender, fillKey(0x33))

	pooled, err := repo.GetPoolTransaction(context.Background(), forfeitMsg.PromisedPoolTxID)
	require.NoError(t, err)
	require.Len(t, pooled.Connectors, 1)

	tx := exitTx(sender.redeemScript, 100000, 0x07)
	chain.seedUnspent(sender.redeemScript, ports.Unspent{Height: 1, TxPos: 0, TxHash: tx.TxHash()}, tx)

	broadcastTxIDs, err := w.WatchRedeem(context.Background(), sender.xkey)
	require.NoError(t, err)
	require.Len(t, broadcastTxIDs, 1)
	require.Len(t, chain.broadcast, 1)

	after, err := repo.GetPoolTransaction(context.Background(), forfeitMsg.PromisedPoolTxID)
	require.NoError(t, err)
	require.Empty(t, after.Connectors)
}

func TestWatchRedeemReturnsInsufficientConnectorsOnSecondCheat(t *testing.T) {
	aspPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	chain := newFakeChain()
	m, w, _ := newManagerAndWatcher(t, aspPriv, chain)

	sender := buildSender(t, fillKeyFromPriv(aspPriv), 100000)
	promiseTransfer(t, m, sender, fillKey(0x33))

	firstExit := exitTx(sender.redeemScript, 100000, 0x07)
	chain.seedUnspent(sender.redeemScript, ports.Unspent{Height: 1, TxPos: 0, TxHash: firstExit.TxHash()}, firstExit)
	secondExit := exitTx(sender.redeemScript, 100000, 0x08)
	chain.seedUnspent(sender.redeemScript, ports.Unspent{Height: 1, TxPos: 0, TxHash: secondExit.TxHash()}, secondExit)

	broadcastTxIDs, err := w.WatchRedeem(context.Background(), sender.xkey)
	require.Error(t, err)
	require.IsType(t, &ports.InsufficientConnectorsError{}, err)
	require.Len(t, broadcastTxIDs, 1, "the first cheat still gets forfeited before the connector pool runs dry")
}

func fillKeyFromPriv(priv *btcec.PrivateKey) [32]byte {
	var out [32]byte
	copy(out[:], schnorr.SerializePubKey(priv.PubKey()))
	return out
}
