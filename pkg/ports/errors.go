package ports

import "fmt"

// Error kinds raised across the core (spec §7). They're declared once here
// so callers on either side of a package boundary can errors.As against a
// single set of types regardless of which package raised the error.

// ValidationError wraps a malformed script, mismatched keys, invalid vUTXO
// tree, invalid BIP-68 encoding, confidential asset/value, or out-of-range
// amount. Always fatal for the affected operation; never retried.
type ValidationError struct {
	Op  string
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %v", e.Op, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError, formatting its message like
// fmt.Errorf.
func NewValidationError(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Err: fmt.Errorf(format, args...)}
}

// SignatureError signals a Schnorr verification failure on a forfeit
// message. It rejects only the send() call that produced it; the pending
// pool is left untouched.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string { return fmt.Sprintf("signature error: %v", e.Err) }
func (e *SignatureError) Unwrap() error { return e.Err }

// NewSignatureError builds a SignatureError.
func NewSignatureError(format string, args ...any) *SignatureError {
	return &SignatureError{Err: fmt.Errorf(format, args...)}
}

// InsufficientConnectorsError signals that the watcher cannot forfeit a
// redeemed vUTXO because the promised pool transaction has no unused
// connector left. Fatal and operator-visible.
type InsufficientConnectorsError struct {
	PoolTxID string
}

func (e *InsufficientConnectorsError) Error() string {
	return fmt.Sprintf("pool %s has no unused connectors left", e.PoolTxID)
}

// ChainError wraps a chain-source RPC transport failure. missingtransaction
// is retried by the ChainSource adapter itself (bounded); every other error
// propagates as-is wrapped in ChainError.
type ChainError struct {
	Op  string
	Err error
}

func (e *ChainError) Error() string { return fmt.Sprintf("chain error in %s: %v", e.Op, e.Err) }
func (e *ChainError) Unwrap() error { return e.Err }

// NewChainError builds a ChainError.
func NewChainError(op string, err error) *ChainError {
	return &ChainError{Op: op, Err: err}
}

// CoinSelectionError signals that the wallet could not cover the amount a
// request needed; propagated to the triggering request.
type CoinSelectionError struct {
	Amount int64
	Asset  string
	Err    error
}

func (e *CoinSelectionError) Error() string {
	return fmt.Sprintf("coin selection failed for %d of asset %s: %v", e.Amount, e.Asset, e.Err)
}

func (e *CoinSelectionError) Unwrap() error { return e.Err }
