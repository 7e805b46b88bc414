// Package notary implements the notarization state machine. A fingerprint
// moves from unknown to committed exactly once, then collects endorsements,
// one per signer; nothing is ever updated or removed.
//
// Contract is the entry point. It runs every mutating operation inside a
// single kvstore.Update so a failed operation leaves no trace, and releases
// the operation's events only after the update has committed.
package notary

import (
	"context"
	"fmt"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/scheme"
	"notary.mini/notary/internal/types"
)

// Contract orchestrates HashRegistry, SignatureLedger and
// VerificationService over one store.
type Contract struct {
	store        kvstore.Store
	params       Params
	hasher       scheme.Hasher
	registry     *HashRegistry
	ledger       *SignatureLedger
	verification *VerificationService
	sink         EventSink
}

// Option configures a Contract.
type Option func(*Contract)

// WithEventSink delivers committed events to sink.
func WithEventSink(sink EventSink) Option {
	return func(c *Contract) { c.sink = sink }
}

// New builds a contract over store. A nil verifier selects the identity
// verifier for params.SignatureScheme.
func New(store kvstore.Store, verifier Verifier, params Params, opts ...Option) (*Contract, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if verifier == nil {
		v, err := scheme.NewIdentityVerifier(params.SignatureScheme)
		if err != nil {
			return nil, err
		}
		verifier = v
	}
	hasher, err := scheme.LookupHasher(params.FingerprintAlgorithm)
	if err != nil {
		return nil, err
	}

	registry := NewHashRegistry(params)
	ledger := NewSignatureLedger(params, registry, verifier)
	c := &Contract{
		store:        store,
		params:       params,
		hasher:       hasher,
		registry:     registry,
		ledger:       ledger,
		verification: NewVerificationService(registry, ledger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Params returns the ledger configuration.
func (c *Contract) Params() Params {
	return c.params
}

// Fingerprint hashes document content with the configured algorithm.
func (c *Contract) Fingerprint(content []byte) types.Fingerprint {
	return types.Fingerprint(c.hasher(content))
}

// CanonicalMessage returns the message a signer must sign to endorse rec.
func (c *Contract) CanonicalMessage(rec types.DocumentRecord) []byte {
	return CanonicalMessage(c.params, rec)
}

func authenticated(env Env, fp types.Fingerprint) (types.Identity, error) {
	if env == nil {
		return "", newError(ErrUnauthorized, fp, "no execution environment")
	}
	caller, ok := env.Caller()
	if !ok {
		return "", newError(ErrUnauthorized, fp, "caller is not authenticated")
	}
	return caller, nil
}

// Commit notarizes fp on behalf of committer, who must be the
// authenticated caller.
func (c *Contract) Commit(ctx context.Context, env Env, fp types.Fingerprint, committer types.Identity, metadata []byte) (types.DocumentRecord, error) {
	caller, err := authenticated(env, fp)
	if err != nil {
		return types.DocumentRecord{}, err
	}
	if caller != committer {
		return types.DocumentRecord{}, newError(ErrUnauthorized, fp, "caller %s cannot commit as %s", caller, committer)
	}

	var (
		j   journal
		rec types.DocumentRecord
	)
	err = c.store.Update(ctx, func(tx kvstore.Txn) error {
		var err error
		rec, err = c.registry.Commit(tx, &j, fp, committer, metadata, env.Sequence())
		if err != nil {
			return err
		}
		return writeReceipt(tx, env, j.events)
	})
	if err != nil {
		return types.DocumentRecord{}, storageError(fp, err)
	}
	c.publish(j.events)
	return rec, nil
}

// Sign attaches signer's endorsement to the record of fp.
func (c *Contract) Sign(ctx context.Context, env Env, fp types.Fingerprint, signer types.Identity, signature []byte) (types.Endorsement, error) {
	caller, err := authenticated(env, fp)
	if err != nil {
		return types.Endorsement{}, err
	}

	var (
		j journal
		e types.Endorsement
	)
	err = c.store.Update(ctx, func(tx kvstore.Txn) error {
		var err error
		e, err = c.ledger.Sign(tx, &j, caller, fp, signer, signature, env.Sequence())
		if err != nil {
			return err
		}
		return writeReceipt(tx, env, j.events)
	})
	if err != nil {
		return types.Endorsement{}, storageError(fp, err)
	}
	c.publish(j.events)
	return e, nil
}

// Verify answers whether fp is notarized and by whom.
func (c *Contract) Verify(ctx context.Context, fp types.Fingerprint) (types.VerificationResult, error) {
	var res types.VerificationResult
	err := c.store.View(ctx, func(rd kvstore.Reader) error {
		var err error
		res, err = c.verification.Verify(rd, fp)
		return err
	})
	if err != nil {
		return types.VerificationResult{}, storageError(fp, err)
	}
	return res, nil
}

// ListSignatures returns the endorsements of fp in signing order.
func (c *Contract) ListSignatures(ctx context.Context, fp types.Fingerprint) ([]types.Endorsement, error) {
	var sigs []types.Endorsement
	err := c.store.View(ctx, func(rd kvstore.Reader) error {
		var err error
		sigs, err = c.ledger.ListSignatures(rd, fp)
		return err
	})
	if err != nil {
		return nil, storageError(fp, err)
	}
	return sigs, nil
}

// Record returns the record of fp or an ErrNotFound error.
func (c *Contract) Record(ctx context.Context, fp types.Fingerprint) (types.DocumentRecord, error) {
	var rec types.DocumentRecord
	err := c.store.View(ctx, func(rd kvstore.Reader) error {
		var err error
		rec, err = c.registry.Get(rd, fp)
		return err
	})
	if err != nil {
		return types.DocumentRecord{}, storageError(fp, err)
	}
	return rec, nil
}

// DocumentsBy lists the fingerprints committed by id in commit order.
func (c *Contract) DocumentsBy(ctx context.Context, id types.Identity) ([]types.Fingerprint, error) {
	var docs []types.Fingerprint
	err := c.store.View(ctx, func(rd kvstore.Reader) error {
		var err error
		docs, err = c.registry.DocumentsBy(rd, id)
		return err
	})
	if err != nil {
		return nil, storageError(nil, err)
	}
	return docs, nil
}

func writeReceipt(tx kvstore.Txn, env Env, events []types.Event) error {
	r, ok := env.(Receipter)
	if !ok {
		return nil
	}
	key, value := r.Receipt(events)
	if key == nil {
		return nil
	}
	if err := tx.InsertIfAbsent(key, value); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

func (c *Contract) publish(events []types.Event) {
	if c.sink == nil {
		return
	}
	for _, ev := range events {
		c.sink.Publish(ev)
	}
}
