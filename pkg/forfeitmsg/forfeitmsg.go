// Package forfeitmsg implements the canonical forfeit-message digest and the
// Schnorr sign/verify helpers built on top of it (spec §4.4). A forfeit
// message binds a sender's vUTXO outpoint to the pool transaction the ASP
// has promised to include the corresponding transfer in; the sender's
// signature over its digest is what lets the ASP later claim the vUTXO's
// redeem output via the Forfeit leaf if the sender cheats.
package forfeitmsg

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Message is a ForfeitMessage: a binding of one vUTXO outpoint to the pool
// transaction promised to supersede it.
type Message struct {
	// VUtxoTxID is the txid of the pool transaction that created the vUTXO
	// being forfeited.
	VUtxoTxID chainhash.Hash

	// VUtxoIndex is the output index of that vUTXO within VUtxoTxID.
	VUtxoIndex uint32

	// PromisedPoolTxID is the txid of the pool transaction the ASP has
	// promised will carry the sender's transfer.
	PromisedPoolTxID chainhash.Hash
}

// reversed returns the 32-byte reversal of h, matching the wire convention
// used for txids inside hashed protocol messages (spec §3: "reverse(...)").
func reversed(h chainhash.Hash) [32]byte {
	var out [32]byte
	for i, b := range h {
		out[31-i] = b
	}
	return out
}

// Serialize returns the canonical byte serialization of m:
// reverse(vUtxoTxID) || u32_le(vUtxoIndex) || reverse(promisedPoolTxID).
func (m Message) Serialize() []byte {
	buf := make([]byte, 0, 32+4+32)

	vtxid := reversed(m.VUtxoTxID)
	buf = append(buf, vtxid[:]...)

	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], m.VUtxoIndex)
	buf = append(buf, idx[:]...)

	ptxid := reversed(m.PromisedPoolTxID)
	buf = append(buf, ptxid[:]...)

	return buf
}

// Hash returns the canonical digest of m: SHA256 of its canonical
// serialization.
func Hash(m Message) [32]byte {
	return sha256.Sum256(m.Serialize())
}

// Sign produces a BIP-340 Schnorr signature over Hash(m) under priv, using
// empty auxiliary randomness as the protocol requires for determinism
// across signer implementations.
func Sign(priv *btcec.PrivateKey, m Message) (*schnorr.Signature, error) {
	digest := Hash(m)
	return schnorr.Sign(priv, digest[:], schnorr.FastSign(), schnorr.CustomNonce([32]byte{}))
}

// Verify reports whether sig is a valid BIP-340 Schnorr signature over
// Hash(m) under pub.
func Verify(pub *btcec.PublicKey, m Message, sig *schnorr.Signature) bool {
	digest := Hash(m)
	return sig.Verify(digest[:], pub)
}
