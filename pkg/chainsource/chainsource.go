// Package chainsource is an Electrum-protocol ports.ChainSource adapter
// over a persistent gorilla/websocket connection: JSON-RPC requests framed
// as individual text messages, one per call, matching the request/response
// shape Klingon-tech-klingdex's electrum backend uses
// (internal/backend/electrum.go) but carried over a websocket transport
// instead of a raw TCP socket, the way Klingon-tech-klingdex's own
// internal/rpc/websocket.go frames its JSON events.
package chainsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gorilla/websocket"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
)

// missingTransactionRetries and missingTransactionDelay implement the
// bounded retry spec §6/§7 requires on a "missingtransaction" response: up
// to 5 attempts, 1 second apart.
const (
	missingTransactionRetries = 5
	missingTransactionDelay   = time.Second
)

// ChainSource is an Electrum-protocol ports.ChainSource over a websocket
// connection. One ChainSource owns exactly one connection; concurrent
// calls are serialized onto it since Electrum's line-based JSON-RPC framing
// has no way to tell two in-flight responses apart by anything but call
// order.
type ChainSource struct {
	conn      *websocket.Conn
	mu        sync.Mutex
	requestID atomic.Uint64
}

// Dial connects to an Electrum-over-websocket endpoint (e.g.
// "wss://host:port/ws") and returns a ready ChainSource.
func Dial(ctx context.Context, url string) (*ChainSource, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, ports.NewChainError("chainsource.Dial", err)
	}
	return &ChainSource{conn: conn}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call issues one Electrum JSON-RPC method and decodes its result into out.
// The connection is serialized under c.mu: Electrum's line-oriented framing
// gives us no request/response correlation beyond ordering.
func (c *ChainSource) call(ctx context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.requestID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		c.conn.SetReadDeadline(deadline)
	}

	if err := c.conn.WriteJSON(req); err != nil {
		return ports.NewChainError(method, err)
	}

	var resp rpcResponse
	if err := c.conn.ReadJSON(&resp); err != nil {
		return ports.NewChainError(method, err)
	}
	if resp.Error != nil {
		return ports.NewChainError(method, fmt.Errorf("electrum error %d: %s", resp.Error.Code, resp.Error.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return ports.NewChainError(method, fmt.Errorf("decode result: %w", err))
	}
	return nil
}

// ScriptHash returns the Electrum-convention scripthash key for script:
// reversed SHA256, hex encoded (spec §6 "keyed by reversed-SHA256 script
// hash").
func ScriptHash(script []byte) string {
	h := sha256.Sum256(script)
	rev := make([]byte, len(h))
	for i, b := range h {
		rev[len(h)-1-i] = b
	}
	return hex.EncodeToString(rev)
}

type listUnspentEntry struct {
	Height int64  `json:"height"`
	TxPos  int    `json:"tx_pos"`
	TxHash string `json:"tx_hash"`
}

// ListUnspents implements ports.ChainSource (spec §6): scriptHex is an
// already-computed Electrum scripthash (see ScriptHash), matching the
// interface's documented key.
func (c *ChainSource) ListUnspents(ctx context.Context, scriptHex string) ([]ports.Unspent, error) {
	var entries []listUnspentEntry
	if err := c.call(ctx, "blockchain.scripthash.listunspent", []any{scriptHex}, &entries); err != nil {
		return nil, err
	}

	out := make([]ports.Unspent, len(entries))
	for i, e := range entries {
		txid, err := chainhash.NewHashFromStr(e.TxHash)
		if err != nil {
			return nil, ports.NewChainError("ListUnspents", fmt.Errorf("parse tx_hash %q: %w", e.TxHash, err))
		}
		out[i] = ports.Unspent{Height: e.Height, TxPos: e.TxPos, TxHash: *txid}
	}
	return out, nil
}

// FetchTransactions implements ports.ChainSource (spec §6): fetches each
// txid's hex, retrying up to missingTransactionRetries times at
// missingTransactionDelay spacing if the server reports
// "missingtransaction" (the Electrum server hasn't indexed a just-broadcast
// transaction yet). Any other error propagates immediately.
func (c *ChainSource) FetchTransactions(ctx context.Context, txids []chainhash.Hash) ([]ports.FetchedTransaction, error) {
	out := make([]ports.FetchedTransaction, len(txids))
	for i, txid := range txids {
		hexTx, err := c.fetchOneWithRetry(ctx, txid)
		if err != nil {
			return nil, err
		}
		out[i] = ports.FetchedTransaction{TxID: txid, Hex: hexTx}
	}
	return out, nil
}

func (c *ChainSource) fetchOneWithRetry(ctx context.Context, txid chainhash.Hash) (string, error) {
	var lastErr error
	for attempt := 0; attempt < missingTransactionRetries; attempt++ {
		var hexTx string
		err := c.call(ctx, "blockchain.transaction.get", []any{txid.String(), false}, &hexTx)
		if err == nil {
			return hexTx, nil
		}
		lastErr = err
		if !isMissingTransaction(err) {
			return "", err
		}
		select {
		case <-time.After(missingTransactionDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", ports.NewChainError("FetchTransactions", fmt.Errorf("txid %s still missing after %d attempts: %w", txid, missingTransactionRetries, lastErr))
}

func isMissingTransaction(err error) bool {
	return err != nil && containsFold(err.Error(), "missingtransaction")
}

func containsFold(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			a, b := s[i+j], substr[j]
			if 'A' <= a && a <= 'Z' {
				a += 'a' - 'A'
			}
			if 'A' <= b && b <= 'Z' {
				b += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// BroadcastTransaction implements ports.ChainSource (spec §6).
func (c *ChainSource) BroadcastTransaction(ctx context.Context, hexTx string) (chainhash.Hash, error) {
	var txidStr string
	if err := c.call(ctx, "blockchain.transaction.broadcast", []any{hexTx}, &txidStr); err != nil {
		return chainhash.Hash{}, err
	}
	txid, err := chainhash.NewHashFromStr(txidStr)
	if err != nil {
		return chainhash.Hash{}, ports.NewChainError("BroadcastTransaction", fmt.Errorf("parse broadcast result %q: %w", txidStr, err))
	}
	return *txid, nil
}

// Close implements ports.ChainSource.
func (c *ChainSource) Close() error {
	return c.conn.Close()
}

var _ ports.ChainSource = (*ChainSource)(nil)
