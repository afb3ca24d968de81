// Package pool implements PoolManager (spec §4.5): the single-goroutine
// actor that batches incoming transfer requests into pool transactions,
// collects sender forfeit signatures, and co-signs, persists, and hands
// back the finalized pool transaction once every sender has signed off.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"github.com/louisinger/ark-liquid-poc/internal/chainparams"
	"github.com/louisinger/ark-liquid-poc/pkg/forfeitmsg"
	"github.com/louisinger/ark-liquid-poc/pkg/ports"
	"github.com/louisinger/ark-liquid-poc/pkg/script"
	"github.com/louisinger/ark-liquid-poc/pkg/taptree"
	"github.com/louisinger/ark-liquid-poc/pkg/txbuilder"
	"github.com/louisinger/ark-liquid-poc/pkg/vtxo"
)

// SendRequestResult is what sendRequest (spec §4.5) hands back once its
// batch has been built: the pool PSET every sender in the batch must
// forfeit-sign against, the message to sign, and the caller's own resulting
// vUTXO references.
type SendRequestResult struct {
	NextPoolPset   string
	ForfeitMessage forfeitmsg.Message
	ReceiverUtxo   ports.ExtendedVirtualUtxoRef
	ChangeUtxo     *ports.ExtendedVirtualUtxoRef
}

type sendRequest struct {
	ctx      context.Context
	vUtxo    vtxo.ExtendedVirtualUtxo
	toPubKey [32]byte
	amount   *int64
	resultCh chan sendRequestOutcome
}

type sendRequestOutcome struct {
	result SendRequestResult
	err    error
}

type vutxoKey struct {
	txid  chainhash.Hash
	index uint32
}

type forfeitEntry struct {
	ownerPubKey        [32]byte
	redeemScriptPubKey []byte
}

type signedEntry struct {
	msg                forfeitmsg.Message
	sig                *schnorr.Signature
	redeemScriptPubKey []byte
	resultCh           chan finalizeOutcome
}

type finalizeOutcome struct {
	poolTxHex string
	err       error
}

// PendingPool is the state spec §4.5 tracks per promisedPoolTxID: Open
// while toForfeit is non-empty, Closed (and finalized) the instant the
// last forfeit signature arrives.
type PendingPool struct {
	psetB64    string
	connectors []uint32
	toForfeit  map[vutxoKey]*forfeitEntry
	signed     []signedEntry
}

type sendCall struct {
	ctx      context.Context
	msg      forfeitmsg.Message
	sigHex   string
	resultCh chan finalizeOutcome
}

// Manager is the PoolManager actor. Its mutable state (queue, pending-pool
// map) is owned exclusively by the goroutine started in Run — every other
// method only ever sends on a channel and waits for a reply, so there is no
// state to protect with a mutex.
type Manager struct {
	wallet      ports.Wallet
	repo        ports.PoolManagerRepository
	hPoint      *btcec.PublicKey
	aspXOnly    [32]byte
	nativeAsset chainhash.Hash
	minerFee    int64
	interval    time.Duration
	redeemSeq   uint32
	logger      *logrus.Entry

	requests chan *sendRequest
	sends    chan sendCall
	closeCh  chan struct{}
	doneCh   chan struct{}
}

// NewManager builds a Manager. Run must be called once (typically in its
// own goroutine) before SendRequest/Send are used.
func NewManager(
	wallet ports.Wallet, repo ports.PoolManagerRepository, hPoint *btcec.PublicKey,
	aspXOnly [32]byte, nativeAsset chainhash.Hash, minerFee int64, redeemSeq uint32,
	interval time.Duration, logger *logrus.Logger,
) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		wallet:      wallet,
		repo:        repo,
		hPoint:      hPoint,
		aspXOnly:    aspXOnly,
		nativeAsset: nativeAsset,
		minerFee:    minerFee,
		interval:    interval,
		redeemSeq:   redeemSeq,
		logger:      logger.WithField("component", "pool.Manager"),
		requests:    make(chan *sendRequest),
		sends:       make(chan sendCall),
		closeCh:     make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Close stops the Manager's goroutine. Requests already queued but not yet
// batched are dropped; callers blocked in SendRequest/Send receive an error.
// SendRequest/Send calls made after Close return only when their context
// ends.
func (m *Manager) Close() {
	close(m.closeCh)
	<-m.doneCh
}

// Run is the Manager's single cooperative goroutine: the pending queue and
// pending-pool map are mutated only here, at request arrival, timer fire,
// or signature arrival, matching spec §5's ordering guarantees.
func (m *Manager) Run() {
	defer close(m.doneCh)

	var pending []*sendRequest
	var timer *time.Timer
	var timerC <-chan time.Time
	pools := make(map[chainhash.Hash]*PendingPool)

	for {
		select {
		case req := <-m.requests:
			pending = append(pending, req)
			if timer == nil {
				timer = time.NewTimer(m.interval)
				timerC = timer.C
				m.logger.Debug("batching timer armed")
			}

		case <-timerC:
			timer = nil
			timerC = nil
			batch := pending
			pending = nil
			m.processBatch(batch, pools)

		case call := <-m.sends:
			m.processSend(call, pools)

		case <-m.closeCh:
			if timer != nil {
				timer.Stop()
			}
			for _, req := range pending {
				req.resultCh <- sendRequestOutcome{err: fmt.Errorf("pool: manager closed")}
			}
			for _, pp := range pools {
				for _, s := range pp.signed {
					s.resultCh <- finalizeOutcome{err: fmt.Errorf("pool: manager closed")}
				}
			}
			return
		}
	}
}

// SendRequest validates an incoming transfer request, enqueues it, and
// blocks until its batch has been built (spec §4.5 sendRequest).
func (m *Manager) SendRequest(ctx context.Context, vu vtxo.ExtendedVirtualUtxo, toPubKey [32]byte, amount *int64) (*SendRequestResult, error) {
	if err := vtxo.Validate(vu, m.aspXOnly); err != nil {
		return nil, err
	}

	req := &sendRequest{ctx: ctx, vUtxo: vu, toPubKey: toPubKey, amount: amount, resultCh: make(chan sendRequestOutcome, 1)}

	select {
	case m.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case out := <-req.resultCh:
		if out.err != nil {
			return nil, out.err
		}
		return &out.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send submits a sender's forfeit signature over the message returned by
// SendRequest (spec §4.5 send). It blocks until either the signature is
// rejected, or the pending pool closes and the finalized pool transaction
// hex is available.
func (m *Manager) Send(ctx context.Context, msg forfeitmsg.Message, sigHex string) (string, error) {
	call := sendCall{ctx: ctx, msg: msg, sigHex: sigHex, resultCh: make(chan finalizeOutcome, 1)}

	select {
	case m.sends <- call:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case out := <-call.resultCh:
		return out.poolTxHex, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// processBatch builds one pool transaction for every request queued during
// the window just elapsed, resolves each caller's receiver/change vUTXO
// references, and registers a new Open PendingPool keyed by the pool
// transaction's txid (spec §4.5 step 4-5).
func (m *Manager) processBatch(batch []*sendRequest, pools map[chainhash.Hash]*PendingPool) {
	if len(batch) == 0 {
		return
	}

	transfers := make([]ports.VirtualTransfer, len(batch))
	for i, req := range batch {
		transfers[i] = ports.VirtualTransfer{
			VUtxo: ports.ExtendedVirtualUtxoRef{
				TxID:           req.vUtxo.VUtxo.TxID,
				Index:          req.vUtxo.VUtxo.Index,
				Value:          req.vUtxo.VUtxo.WitnessUtxo.Value,
				Asset:          req.vUtxo.VUtxo.WitnessUtxo.Asset,
				WitnessProgram: req.vUtxo.VUtxo.WitnessUtxo.Script,
				OwnerXOnlyKey:  ownerKeyOf(req.vUtxo),
			},
			RedeemLeaf: req.vUtxo.VUtxoTree.RedeemLeaf.Script,
			ToPubKey:   req.toPubKey,
			Amount:     req.amount,
		}
	}

	result, err := txbuilder.CreatePoolTransaction(context.Background(), m.wallet, m.hPoint, m.aspXOnly, m.nativeAsset, transfers, m.minerFee, m.redeemSeq)
	if err != nil {
		m.logger.WithError(err).Warn("pool batch build failed, rejecting all queued requests")
		for _, req := range batch {
			req.resultCh <- sendRequestOutcome{err: err}
		}
		return
	}

	sharedOutputScript, err := outputScriptAt(result.PsetBase64, chainparams.PoolSharedOutputIndex)
	if err != nil {
		for _, req := range batch {
			req.resultCh <- sendRequestOutcome{err: err}
		}
		return
	}

	pp := &PendingPool{
		psetB64:    result.PsetBase64,
		connectors: result.Connectors,
		toForfeit:  make(map[vutxoKey]*forfeitEntry, len(batch)),
	}

	for _, req := range batch {
		owner := ownerKeyOf(req.vUtxo)
		amount := req.vUtxo.VUtxo.WitnessUtxo.Value
		if req.amount != nil {
			amount = *req.amount
		}

		// The forfeit record is keyed by the owner's redeem-tree output
		// script (spec §4.6), not the shared output the vUtxo lived in:
		// PoolWatcher only ever has ownerXOnly to work from when it spots a
		// redeem broadcast, and this is the one script it can rebuild from
		// that alone.
		ownerRedeemTree, err := taptree.RedeemTree(m.hPoint, owner, m.aspXOnly, m.redeemSeq)
		if err != nil {
			req.resultCh <- sendRequestOutcome{err: fmt.Errorf("pool: rebuild owner redeem tree: %w", err)}
			continue
		}

		receiverUtxo := ports.ExtendedVirtualUtxoRef{
			TxID:           result.VUtxoTxID,
			Index:          chainparams.PoolSharedOutputIndex,
			Value:          amount,
			Asset:          m.nativeAsset,
			WitnessProgram: sharedOutputScript,
			OwnerXOnlyKey:  req.toPubKey,
		}

		var changeUtxo *ports.ExtendedVirtualUtxoRef
		if remainder := req.vUtxo.VUtxo.WitnessUtxo.Value - amount; remainder > 0 {
			changeUtxo = &ports.ExtendedVirtualUtxoRef{
				TxID:           result.VUtxoTxID,
				Index:          chainparams.PoolSharedOutputIndex,
				Value:          remainder,
				Asset:          m.nativeAsset,
				WitnessProgram: sharedOutputScript,
				OwnerXOnlyKey:  owner,
			}
		}

		forfeitMsg := forfeitmsg.Message{
			VUtxoTxID:        req.vUtxo.VUtxo.TxID,
			VUtxoIndex:       req.vUtxo.VUtxo.Index,
			PromisedPoolTxID: result.VUtxoTxID,
		}

		key := vutxoKey{txid: req.vUtxo.VUtxo.TxID, index: req.vUtxo.VUtxo.Index}
		pp.toForfeit[key] = &forfeitEntry{
			ownerPubKey:        owner,
			redeemScriptPubKey: ownerRedeemTree.OutputScript(),
		}

		req.resultCh <- sendRequestOutcome{result: SendRequestResult{
			NextPoolPset:   result.PsetBase64,
			ForfeitMessage: forfeitMsg,
			ReceiverUtxo:   receiverUtxo,
			ChangeUtxo:     changeUtxo,
		}}
	}

	pools[result.VUtxoTxID] = pp
	m.logger.WithField("promisedPoolTxId", result.VUtxoTxID.String()).WithField("transfers", len(batch)).Info("pool batch opened")
}

// processSend verifies one sender's forfeit signature, moves it from
// toForfeit to signed, and — once toForfeit drains — finalizes and persists
// the pool transaction, resolving every collected sender with its hex
// (spec §4.5 send, state machine Open -> Closed -> persisted). The Manager
// does not broadcast the transaction itself.
func (m *Manager) processSend(call sendCall, pools map[chainhash.Hash]*PendingPool) {
	log := m.logger.WithField("promisedPoolTxId", call.msg.PromisedPoolTxID.String())

	pp, ok := pools[call.msg.PromisedPoolTxID]
	if !ok {
		call.resultCh <- finalizeOutcome{err: ports.NewValidationError("pool.Send", "no pending pool for promisedPoolTxID %s", call.msg.PromisedPoolTxID)}
		return
	}

	key := vutxoKey{txid: call.msg.VUtxoTxID, index: call.msg.VUtxoIndex}
	entry, ok := pp.toForfeit[key]
	if !ok {
		call.resultCh <- finalizeOutcome{err: ports.NewValidationError("pool.Send", "no matching forfeit entry for vUtxo %s:%d", call.msg.VUtxoTxID, call.msg.VUtxoIndex)}
		return
	}

	sigBytes, err := decodeHex(call.sigHex)
	if err != nil {
		call.resultCh <- finalizeOutcome{err: ports.NewSignatureError("malformed signature hex: %v", err)}
		return
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		call.resultCh <- finalizeOutcome{err: ports.NewSignatureError("malformed schnorr signature: %v", err)}
		return
	}

	ownerPub, err := xOnlyToPublicKey(entry.ownerPubKey)
	if err != nil {
		call.resultCh <- finalizeOutcome{err: ports.NewSignatureError("owner key: %v", err)}
		return
	}
	if !forfeitmsg.Verify(ownerPub, call.msg, sig) {
		call.resultCh <- finalizeOutcome{err: ports.NewSignatureError("forfeit signature does not verify under owner key")}
		return
	}

	delete(pp.toForfeit, key)
	pp.signed = append(pp.signed, signedEntry{msg: call.msg, sig: sig, redeemScriptPubKey: entry.redeemScriptPubKey, resultCh: call.resultCh})
	log.WithField("remaining", len(pp.toForfeit)).Info("forfeit signature accepted")

	if len(pp.toForfeit) > 0 {
		return
	}

	hex, err := m.finalizeAndPersist(call.ctx, pp)
	delete(pools, call.msg.PromisedPoolTxID)

	if err != nil {
		log.WithError(err).Error("pool finalize/persist failed, rejecting all collected senders")
		for _, s := range pp.signed {
			s.resultCh <- finalizeOutcome{err: err}
		}
		return
	}

	log.WithField("connectors", pp.connectors).Info("pool transaction closed and persisted")
	for _, s := range pp.signed {
		s.resultCh <- finalizeOutcome{poolTxHex: hex}
	}
}

// finalizeAndPersist co-signs the ASP's own inputs, finalizes and extracts
// the raw transaction hex, and persists the pool transaction and every
// collected forfeit signature through the repository (spec §4.5 step 5).
func (m *Manager) finalizeAndPersist(ctx context.Context, pp *PendingPool) (string, error) {
	p, err := decodePsetNoAssets(pp.psetB64)
	if err != nil {
		return "", err
	}

	if err := m.wallet.Sign(ctx, p); err != nil {
		return "", ports.NewChainError("Wallet.Sign", err)
	}

	if err := psbt.MaybeFinalizeAll(p.Packet); err != nil {
		return "", fmt.Errorf("pool: finalize pset: %w", err)
	}

	tx, err := psbt.Extract(p.Packet)
	if err != nil {
		return "", fmt.Errorf("pool: extract transaction: %w", err)
	}

	hex, err := serializeTxHex(tx)
	if err != nil {
		return "", err
	}

	if err := m.repo.SetPoolTransaction(ctx, hex, pp.connectors); err != nil {
		return "", ports.NewChainError("Repository.SetPoolTransaction", err)
	}

	for _, s := range pp.signed {
		if err := m.repo.SetForfeit(ctx, s.redeemScriptPubKey, ports.StoredForfeit{Message: s.msg, Signature: s.sig}); err != nil {
			return "", ports.NewChainError("Repository.SetForfeit", err)
		}
	}

	return hex, nil
}

func ownerKeyOf(vu vtxo.ExtendedVirtualUtxo) [32]byte {
	claim, err := script.DecompileCSV(vu.RedeemTree.ClaimLeaf.Script)
	if err != nil {
		// vtxo.Validate already rejected malformed trees before this point.
		return [32]byte{}
	}
	return claim.OwnerPubKey
}
