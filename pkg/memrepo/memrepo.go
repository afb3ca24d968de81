// Package memrepo is an in-memory reference ports.Repository: forfeits in a
// map keyed by hex-encoded scriptPubKey, pool transactions in a map keyed by
// txid, both guarded by a single mutex. It exists to exercise the
// Repository interface end-to-end in tests.
package memrepo

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
)

// Repository is an in-memory ports.Repository.
type Repository struct {
	mu sync.Mutex

	forfeits map[string]ports.StoredForfeit
	pools    map[chainhash.Hash]ports.StoredPoolTransaction
}

// New builds an empty Repository.
func New() *Repository {
	return &Repository{
		forfeits: make(map[string]ports.StoredForfeit),
		pools:    make(map[chainhash.Hash]ports.StoredPoolTransaction),
	}
}

func (r *Repository) SetForfeit(ctx context.Context, redeemScriptPubKey []byte, f ports.StoredForfeit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forfeits[hex.EncodeToString(redeemScriptPubKey)] = f
	return nil
}

func (r *Repository) SetPoolTransaction(ctx context.Context, hexTx string, connectors []uint32) error {
	tx, err := decodeTx(hexTx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[tx.TxHash()] = ports.StoredPoolTransaction{Hex: hexTx, Connectors: append([]uint32(nil), connectors...)}
	return nil
}

func (r *Repository) GetForfeit(ctx context.Context, scriptPubKey []byte) (ports.StoredForfeit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.forfeits[hex.EncodeToString(scriptPubKey)]
	if !ok {
		return ports.StoredForfeit{}, fmt.Errorf("memrepo: no forfeit stored for script %x", scriptPubKey)
	}
	return f, nil
}

func (r *Repository) GetPoolTransaction(ctx context.Context, txID chainhash.Hash) (ports.StoredPoolTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[txID]
	if !ok {
		return ports.StoredPoolTransaction{}, fmt.Errorf("memrepo: no pool transaction stored for txid %s", txID)
	}
	return p, nil
}

func (r *Repository) UpdateConnectors(ctx context.Context, poolTxID chainhash.Hash, connectors []uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolTxID]
	if !ok {
		return fmt.Errorf("memrepo: no pool transaction stored for txid %s", poolTxID)
	}
	p.Connectors = append([]uint32(nil), connectors...)
	r.pools[poolTxID] = p
	return nil
}
