// Package ports declares the interfaces the core depends on but does not
// implement (Wallet, ChainSource, Repository) and the order/result types
// that cross those boundaries, plus the typed error kinds in errors.go.
// pkg/chainsource, pkg/memwallet, and pkg/memrepo are the adapters that
// make these interfaces concrete.
package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/louisinger/ark-liquid-poc/pkg/forfeitmsg"
	"github.com/louisinger/ark-liquid-poc/pkg/pset"
)

// UpdaterInput is one coin a Wallet contributes to a transaction being
// built: the outpoint it spends, its asset, and its value.
type UpdaterInput struct {
	Outpoint chainhash.Hash
	Index    uint32
	Asset    chainhash.Hash
	Value    int64
}

// UpdaterOutput is a change (or connector) output a Wallet controls.
type UpdaterOutput struct {
	Script []byte
	Asset  chainhash.Hash
	Value  int64
}

// CoinSelection is the result of Wallet.CoinSelect: the coins chosen to
// cover the requested amount, plus an optional change output for the
// remainder.
type CoinSelection struct {
	Coins  []UpdaterInput
	Change *UpdaterOutput
}

// Wallet is the ASP's signing and coin-selection authority. Implementations
// sign only the inputs they control, leaving every other input of the
// *pset.Pset untouched — coherent partial-signing is what lets the core
// layer and the wallet cooperate on one shared PSET.
type Wallet interface {
	// GetPublicKey returns the ASP's 33-byte compressed public key.
	GetPublicKey(ctx context.Context) ([]byte, error)

	// GetChangeScriptPubKey returns a SegWit script the wallet can sign,
	// used for both connector outputs and ASP change.
	GetChangeScriptPubKey(ctx context.Context) ([]byte, error)

	// CoinSelect selects coins of the given asset summing to at least
	// amount, returning an error if the wallet cannot cover it
	// (txbuilder.CreatePoolTransaction wraps that error in a
	// CoinSelectionError).
	CoinSelect(ctx context.Context, amount int64, asset chainhash.Hash) (*CoinSelection, error)

	// Sign signs every input of p the wallet holds a key for, in place.
	Sign(ctx context.Context, p *pset.Pset) error

	// SignSchnorr produces a BIP-340 Schnorr signature over msg32 with
	// empty auxiliary randomness, under the ASP's key.
	SignSchnorr(ctx context.Context, msg32 [32]byte) (*schnorr.Signature, error)
}

// Unspent is one unspent output returned by ChainSource.ListUnspents.
type Unspent struct {
	Height int64
	TxPos  int
	TxHash chainhash.Hash
}

// FetchedTransaction pairs a txid with its Elements-format transaction hex.
type FetchedTransaction struct {
	TxID chainhash.Hash
	Hex  string
}

// ChainSource is the read/broadcast boundary to the Elements network.
type ChainSource interface {
	// ListUnspents lists the unspent outputs paying scriptHex, keyed by
	// the Electrum convention (reversed-SHA256 of the script).
	ListUnspents(ctx context.Context, scriptHex string) ([]Unspent, error)

	// FetchTransactions fetches the hex of each given txid, retrying up
	// to 5 times at 1-second spacing on a missingtransaction response.
	FetchTransactions(ctx context.Context, txids []chainhash.Hash) ([]FetchedTransaction, error)

	// BroadcastTransaction submits hex to the network and returns its
	// txid.
	BroadcastTransaction(ctx context.Context, hex string) (chainhash.Hash, error)

	// Close releases the underlying connection.
	Close() error
}

// StoredForfeit is the persisted record of one user's signed forfeit
// message against a particular redeem script.
type StoredForfeit struct {
	Message   forfeitmsg.Message
	Signature *schnorr.Signature
}

// StoredPoolTransaction is the persisted record of a finalized pool
// transaction and its remaining, unconsumed connector output indices.
type StoredPoolTransaction struct {
	Hex        string
	Connectors []uint32
}

// PoolManagerRepository is the subset of Repository the PoolManager writes
// through: persisting a user's forfeit signature and a finalized pool
// transaction.
type PoolManagerRepository interface {
	SetForfeit(ctx context.Context, redeemScriptPubKey []byte, f StoredForfeit) error
	SetPoolTransaction(ctx context.Context, hex string, connectors []uint32) error
}

// PoolWatcherRepository is the subset of Repository the PoolWatcher reads
// and updates: looking up a stored forfeit and pool transaction, and
// marking connectors consumed as they're spent.
type PoolWatcherRepository interface {
	GetForfeit(ctx context.Context, scriptPubKey []byte) (StoredForfeit, error)
	GetPoolTransaction(ctx context.Context, txID chainhash.Hash) (StoredPoolTransaction, error)
	UpdateConnectors(ctx context.Context, poolTxID chainhash.Hash, connectors []uint32) error
}

// Repository is the union of both capability sets; concrete adapters (e.g.
// pkg/memrepo) implement both at once, but PoolManager and PoolWatcher each
// depend only on the half they use.
type Repository interface {
	PoolManagerRepository
	PoolWatcherRepository
}

// LiftArgs is one order in a lift transaction (spec §3): the on-chain coins
// a user contributes, their optional change, and the x-only public key
// that will own the resulting vUTXO.
type LiftArgs struct {
	Coins          []UpdaterInput
	Change         *UpdaterOutput
	VUtxoPublicKey [32]byte
}

// VirtualTransfer is one order in a pool transaction (spec §3): the
// sender's existing vUTXO and its redeem leaf, the recipient, and an
// optional partial amount (full-value transfer if nil).
type VirtualTransfer struct {
	VUtxo      ExtendedVirtualUtxoRef
	RedeemLeaf []byte
	ToPubKey   [32]byte
	Amount     *int64
}

// ExtendedVirtualUtxoRef is the subset of an ExtendedVirtualUtxo a transfer
// order needs to reference; pkg/vtxo.ExtendedVirtualUtxo satisfies a
// superset of this shape, but ports can't import pkg/vtxo without an
// import cycle (vtxo depends on ports for its error types), so transfer
// orders carry the raw outpoint and owner key directly instead.
type ExtendedVirtualUtxoRef struct {
	TxID           chainhash.Hash
	Index          uint32
	Value          int64
	Asset          chainhash.Hash
	WitnessProgram []byte
	OwnerXOnlyKey  [32]byte
}

// TreeLeaves is the per-owner (vUtxoTree, redeemTree) pair carried inside
// an UnsignedPoolTransaction, keyed by the owner's x-only public key.
type TreeLeaves struct {
	VUtxoClaimLeaf    []byte
	VUtxoClaimCB      []byte
	VUtxoRedeemLeaf   []byte
	VUtxoRedeemCB     []byte
	RedeemClaimLeaf   []byte
	RedeemClaimCB     []byte
	RedeemForfeitLeaf []byte
	RedeemForfeitCB   []byte
}

// UnsignedPoolTransaction is the result of building a lift or pool
// transaction (spec §3): the unsigned PSET, the new shared vUTXO's
// outpoint, each owner's resolved tree leaves, and the list of connector
// output indices (empty for a lift transaction).
type UnsignedPoolTransaction struct {
	PsetBase64 string
	VUtxoTxID  chainhash.Hash
	Leaves     map[[32]byte]TreeLeaves
	Connectors []uint32
}
