// Package abci contains the ABCI application that connects the notary
// contract to the Tendermint consensus engine. CheckTx authenticates the
// transaction envelope and checks payload shape; DeliverTx runs the
// contract with the envelope signer as caller and the block height as
// logical time. Events of a block are released downstream on Commit.
package abci

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"log"
	"strconv"
	"sync"

	abci "github.com/tendermint/tendermint/abci/types"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/scheme"
	"notary.mini/notary/internal/types"
)

const (
	CodeTypeOK                   uint32 = 0
	CodeTypeEncodingError        uint32 = 1
	CodeTypeAuthError            uint32 = 2
	CodeTypeInvalidTx            uint32 = 3
	CodeTypeAlreadyCommitted     uint32 = 4
	CodeTypeUnknownDocument      uint32 = 5
	CodeTypeInvalidSignature     uint32 = 6
	CodeTypeDuplicateEndorsement uint32 = 7
	CodeTypeNotFound             uint32 = 8
	CodeTypeStorageError         uint32 = 9
	CodeTypeUnknownPath          uint32 = 10
)

// Query paths served by Query.
const (
	PathVerify     = "/verify"
	PathSignatures = "/signatures"
	PathDocuments  = "/documents"
	PathParams     = "/params"
)

// ABCI event types and attribute keys.
const (
	EventTypeCommitted = "notary.committed"
	EventTypeSigned    = "notary.signed"

	AttrFingerprint = "fingerprint"
	AttrActor       = "actor"
	AttrTimestamp   = "timestamp"
	AttrEventID     = "event_id"
)

const appVersion uint64 = 1

// Block metadata shares the store with the contract under its own prefixes:
//
//	h | height BE64              -> app hash
//	x | height BE64 | index BE32 -> JSON events of a successful tx
const (
	prefixHeight  byte = 'h'
	prefixReceipt byte = 'x'
)

func heightKey(height int64) []byte {
	return binary.BigEndian.AppendUint64([]byte{prefixHeight}, uint64(height))
}

func receiptKey(height uint64, index uint32) []byte {
	k := binary.BigEndian.AppendUint64([]byte{prefixReceipt}, height)
	return binary.BigEndian.AppendUint32(k, index)
}

// Application implements the ABCI interface on top of a notary contract.
type Application struct {
	abci.BaseApplication

	contract *notary.Contract
	store    kvstore.Store
	params   notary.Params
	sink     notary.EventSink

	mu         sync.Mutex
	height     int64  // block being executed
	txIndex    uint32 // position of the next DeliverTx in the block
	lastHeight int64
	appHash    []byte
	block      hash.Hash
	txEvents   []types.Event
	pending    []types.Event
}

// NewApplication builds the contract over store and restores the last
// committed height. sink, if not nil, receives events after their block
// commits.
func NewApplication(ctx context.Context, store kvstore.Store, params notary.Params, sink notary.EventSink) (*Application, error) {
	app := &Application{
		store:  store,
		params: params,
		sink:   sink,
		block:  sha256.New(),
	}
	contract, err := notary.New(store, nil, params, notary.WithEventSink(notary.EventSinkFunc(app.collect)))
	if err != nil {
		return nil, err
	}
	app.contract = contract

	err = store.View(ctx, func(rd kvstore.Reader) error {
		return rd.Scan([]byte{prefixHeight}, func(key, value []byte) error {
			if len(key) != 9 {
				return fmt.Errorf("malformed height key %x", key)
			}
			app.lastHeight = int64(binary.BigEndian.Uint64(key[1:]))
			app.appHash = append([]byte(nil), value...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("restore last height: %w", err)
	}
	if app.lastHeight > 0 {
		log.Printf("INFO: Restored ledger at height %d (app hash %X)", app.lastHeight, app.appHash)
	}
	return app, nil
}

// Contract returns the contract the application executes.
func (app *Application) Contract() *notary.Contract {
	return app.contract
}

// LastHeight returns the height of the last committed block.
func (app *Application) LastHeight() int64 {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.lastHeight
}

func (app *Application) collect(ev types.Event) {
	app.txEvents = append(app.txEvents, ev)
}

// txEnv is the execution environment of one delivered transaction. Its
// receipt lets a block replayed after a crash return the original results.
type txEnv struct {
	caller types.Identity
	height uint64
	index  uint32
}

func (e txEnv) Caller() (types.Identity, bool) { return e.caller, e.caller != "" }
func (e txEnv) Sequence() uint64              { return e.height }

func (e txEnv) Receipt(events []types.Event) ([]byte, []byte) {
	b, err := json.Marshal(events)
	if err != nil {
		return nil, nil
	}
	return receiptKey(e.height, e.index), b
}

// receipt loads the events recorded for a tx that was already applied.
func (app *Application) receipt(ctx context.Context, env txEnv) ([]types.Event, bool, error) {
	var raw []byte
	err := app.store.View(ctx, func(rd kvstore.Reader) error {
		var err error
		raw, err = rd.Get(receiptKey(env.height, env.index))
		return err
	})
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var events []types.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, false, fmt.Errorf("decode receipt: %w", err)
	}
	return events, true, nil
}

func (app *Application) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.Lock()
	defer app.mu.Unlock()
	return abci.ResponseInfo{
		Data:             "notary",
		Version:          types.Version,
		AppVersion:       appVersion,
		LastBlockHeight:  app.lastHeight,
		LastBlockAppHash: app.appHash,
	}
}

// decode authenticates the envelope and checks the payload shape. It does
// not touch ledger state.
func (app *Application) decode(raw []byte) (*types.SignedTransaction, *types.Transaction, uint32, string) {
	var stx types.SignedTransaction
	if err := json.Unmarshal(raw, &stx); err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode signed tx"
	}

	sch, err := scheme.Lookup(stx.Scheme)
	if err != nil {
		return nil, nil, CodeTypeAuthError, err.Error()
	}
	if want, _ := scheme.Lookup(app.params.SignatureScheme); sch.Name() != want.Name() {
		return nil, nil, CodeTypeAuthError, fmt.Sprintf("scheme %s not accepted by this ledger", sch.Name())
	}
	if !sch.Verify(stx.PublicKey, stx.Tx, stx.Signature) {
		return nil, nil, CodeTypeAuthError, "invalid signature"
	}

	tx, err := stx.GetTransaction()
	if err != nil {
		return nil, nil, CodeTypeEncodingError, "failed to decode inner tx"
	}

	switch tx.Type {
	case types.TxCommit:
		var p types.CommitPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return nil, nil, CodeTypeEncodingError, "failed to decode commit payload"
		}
		if len(p.Fingerprint) != app.params.FingerprintSize {
			return nil, nil, CodeTypeInvalidTx, fmt.Sprintf("fingerprint must be %d bytes", app.params.FingerprintSize)
		}
		if len(p.Metadata) > app.params.MaxMetadataSize {
			return nil, nil, CodeTypeInvalidTx, fmt.Sprintf("metadata exceeds %d bytes", app.params.MaxMetadataSize)
		}
	case types.TxSign:
		var p types.SignPayload
		if err := json.Unmarshal(tx.Payload, &p); err != nil {
			return nil, nil, CodeTypeEncodingError, "failed to decode sign payload"
		}
		if len(p.Fingerprint) != app.params.FingerprintSize {
			return nil, nil, CodeTypeInvalidTx, fmt.Sprintf("fingerprint must be %d bytes", app.params.FingerprintSize)
		}
		if len(p.Signature) == 0 {
			return nil, nil, CodeTypeInvalidTx, "missing endorsement signature"
		}
	default:
		return nil, nil, CodeTypeInvalidTx, "unknown transaction type"
	}
	return &stx, tx, CodeTypeOK, ""
}

func (app *Application) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	_, _, code, msg := app.decode(req.Tx)
	return abci.ResponseCheckTx{Code: code, Log: msg}
}

func (app *Application) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.height = req.Header.Height
	app.txIndex = 0
	app.block.Reset()
	return abci.ResponseBeginBlock{}
}

func (app *Application) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	index := app.txIndex
	app.txIndex++

	stx, tx, code, msg := app.decode(req.Tx)
	if code != CodeTypeOK {
		return abci.ResponseDeliverTx{Code: code, Log: msg}
	}

	ctx := context.Background()
	env := txEnv{caller: stx.Caller(), height: uint64(app.height), index: index}

	replayed, ok, err := app.receipt(ctx, env)
	if err != nil {
		log.Printf("Warning: failed to read receipt of tx %d at height %d: %v", index, app.height, err)
		return abci.ResponseDeliverTx{Code: CodeTypeStorageError, Log: err.Error()}
	}
	if ok {
		log.Printf("INFO: tx %d at height %d already applied, replaying result", index, app.height)
		app.txEvents = replayed
		return app.delivered(req.Tx)
	}

	app.txEvents = nil
	switch tx.Type {
	case types.TxCommit:
		var p types.CommitPayload
		_ = json.Unmarshal(tx.Payload, &p) // shape checked by decode
		_, err = app.contract.Commit(ctx, env, p.Fingerprint, env.caller, p.Metadata)
	case types.TxSign:
		var p types.SignPayload
		_ = json.Unmarshal(tx.Payload, &p)
		_, err = app.contract.Sign(ctx, env, p.Fingerprint, env.caller, p.Signature)
	}
	if err != nil {
		code := CodeFor(err)
		if code == CodeTypeStorageError {
			log.Printf("Warning: %s tx from %s failed: %v", tx.Type, env.caller, err)
		}
		return abci.ResponseDeliverTx{Code: code, Log: err.Error()}
	}
	return app.delivered(req.Tx)
}

// delivered records a successful tx in the block and converts its events.
func (app *Application) delivered(raw []byte) abci.ResponseDeliverTx {
	app.block.Write(raw)
	app.pending = append(app.pending, app.txEvents...)
	events := make([]abci.Event, 0, len(app.txEvents))
	for _, ev := range app.txEvents {
		events = append(events, toABCIEvent(ev))
		log.Printf("INFO: %s %s by %s at height %d", ev.Kind, ev.Fingerprint, ev.Actor, ev.Timestamp)
	}
	app.txEvents = nil
	return abci.ResponseDeliverTx{Code: CodeTypeOK, Events: events}
}

// Commit seals the block: the app hash chains the previous hash with the
// digest of the block's successful transactions.
func (app *Application) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	h := sha256.New()
	h.Write(app.appHash)
	h.Write(app.block.Sum(nil))
	appHash := h.Sum(nil)

	err := app.store.Update(context.Background(), func(tx kvstore.Txn) error {
		return tx.InsertIfAbsent(heightKey(app.height), appHash)
	})
	switch {
	case errors.Is(err, kvstore.ErrKeyExists):
		log.Printf("Warning: height %d already recorded, keeping replayed state", app.height)
	case err != nil:
		// in-memory height must never run ahead of the stored one
		panic(fmt.Sprintf("failed to record height %d: %v", app.height, err))
	}

	app.lastHeight = app.height
	app.appHash = appHash
	app.block.Reset()

	if app.sink != nil {
		for _, ev := range app.pending {
			app.sink.Publish(ev)
		}
	}
	app.pending = nil
	return abci.ResponseCommit{Data: appHash}
}

func (app *Application) Query(req abci.RequestQuery) abci.ResponseQuery {
	ctx := context.Background()
	height := app.LastHeight()

	var (
		value any
		err   error
	)
	switch req.Path {
	case PathVerify:
		var fp types.Fingerprint
		if fp, err = app.fingerprintArg(req.Data); err == nil {
			value, err = app.contract.Verify(ctx, fp)
		}
	case PathSignatures:
		var fp types.Fingerprint
		if fp, err = app.fingerprintArg(req.Data); err == nil {
			value, err = app.contract.ListSignatures(ctx, fp)
		}
	case PathDocuments:
		value, err = app.contract.DocumentsBy(ctx, types.Identity(bytes.TrimSpace(req.Data)))
	case PathParams:
		value = app.contract.Params()
	default:
		return abci.ResponseQuery{Code: CodeTypeUnknownPath, Log: "unknown query path " + strconv.Quote(req.Path), Height: height}
	}
	if err != nil {
		return abci.ResponseQuery{Code: CodeFor(err), Log: err.Error(), Height: height}
	}

	b, err := json.Marshal(value)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error(), Height: height}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Key: req.Data, Value: b, Height: height}
}

// fingerprintArg accepts either raw fingerprint bytes or their hex text.
func (app *Application) fingerprintArg(data []byte) (types.Fingerprint, error) {
	if len(data) == app.params.FingerprintSize {
		return types.Fingerprint(data), nil
	}
	fp, err := types.ParseFingerprint(string(data))
	if err != nil {
		return nil, &notary.Error{Kind: notary.ErrInvalidInput, Msg: "query data is not a fingerprint", Err: err}
	}
	return fp, nil
}

// CodeFor maps a contract error to its ABCI result code.
func CodeFor(err error) uint32 {
	switch notary.KindOf(err) {
	case nil:
		if err == nil {
			return CodeTypeOK
		}
		return CodeTypeStorageError
	case notary.ErrInvalidInput:
		return CodeTypeInvalidTx
	case notary.ErrAlreadyCommitted:
		return CodeTypeAlreadyCommitted
	case notary.ErrUnknownDocument:
		return CodeTypeUnknownDocument
	case notary.ErrUnauthorized:
		return CodeTypeAuthError
	case notary.ErrInvalidSignature:
		return CodeTypeInvalidSignature
	case notary.ErrDuplicateEndorsement:
		return CodeTypeDuplicateEndorsement
	case notary.ErrNotFound:
		return CodeTypeNotFound
	default:
		return CodeTypeStorageError
	}
}

func toABCIEvent(ev types.Event) abci.Event {
	typ := EventTypeCommitted
	if ev.Kind == types.EventSigned {
		typ = EventTypeSigned
	}
	return abci.Event{
		Type: typ,
		Attributes: []abci.EventAttribute{
			{Key: []byte(AttrFingerprint), Value: []byte(ev.Fingerprint.String()), Index: true},
			{Key: []byte(AttrActor), Value: []byte(ev.Actor), Index: true},
			{Key: []byte(AttrTimestamp), Value: []byte(strconv.FormatUint(ev.Timestamp, 10)), Index: false},
			{Key: []byte(AttrEventID), Value: []byte(ev.ID), Index: false},
		},
	}
}
