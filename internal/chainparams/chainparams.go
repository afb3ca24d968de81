// Package chainparams holds the fixed cryptographic and protocol constants
// the rest of the core is built against: the unspendable internal key shared
// by every Taproot output in the protocol, the two BIP-68 claim timeouts,
// the connector dust value, and the pool output layout offsets.
package chainparams

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
)

// hPointHex is the standard NUMS (nothing-up-my-sleeve) point used across the
// Taproot-asset ecosystem as an unspendable internal key. Nobody knows its
// discrete log, so a Taproot output keyed by it can only be spent through a
// committed script leaf, never a key-path spend.
const hPointHex = "0250929b74c1a04954b78b4b6035e97a5e078a5a0f28ec96d547bfee9ace803ac0"

// HPoint is the 33-byte compressed unspendable internal key used as the
// internal key of every Taproot output in the protocol (shared pool output,
// redeem output).
var HPoint []byte

// XHPoint is the 32-byte x-only form of HPoint, as carried on a
// VirtualUtxo.tapInternalKey.
var XHPoint [32]byte

// HPointPubKey is HPoint parsed as a public key, for callers that need to
// feed it into txscript's Taproot helpers directly.
var HPointPubKey *btcec.PublicKey

func init() {
	b, err := hex.DecodeString(hPointHex)
	if err != nil {
		panic("chainparams: invalid embedded H_POINT: " + err.Error())
	}

	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		panic("chainparams: H_POINT does not parse as a public key: " + err.Error())
	}

	HPoint = b
	HPointPubKey = pk
	copy(XHPoint[:], b[1:])
}

// Relative BIP-68 timelocks, in seconds. Both must be a multiple of 512 (the
// BIP-68 time-granularity unit) to be representable as a sequence number; see
// pkg/bip68. 30 and 15 days aren't themselves multiples of 512 seconds, so
// both are rounded up to the nearest representable value.
const (
	// ClaimTimeoutSeconds is the ASP's claim deadline after pool
	// confirmation: 30 days, rounded up to the nearest 512-second unit
	// (5063 units, ~30.003 days).
	ClaimTimeoutSeconds = 5063 * 512

	// RedeemTimeoutSeconds is the user's claim deadline after broadcasting
	// a redeem transaction: 15 days, rounded up to the nearest 512-second
	// unit (2532 units, ~15.004 days).
	RedeemTimeoutSeconds = 2532 * 512
)

func init() {
	if RedeemTimeoutSeconds >= ClaimTimeoutSeconds {
		panic("chainparams: REDEEM_TIMEOUT must be strictly less than CLAIM_TIMEOUT")
	}
}

// Dust is the value, in satoshi-equivalent units, of a connector output.
const Dust = 400

// Pool transaction output layout (spec §3 invariants): output 0 is always
// the shared covenant, output 1 the miner fee, outputs 2..2+N-1 the
// connectors (one per transfer), and anything after that is ASP change.
const (
	PoolSharedOutputIndex = 0
	PoolFeeOutputIndex    = 1
	PoolConnectorsStart   = 2
)

// DefaultBatchIntervalSeconds is how long, in seconds, the PoolManager waits,
// once a request has been enqueued, before batching the queue into a pool
// transaction.
const DefaultBatchIntervalSeconds = 5
