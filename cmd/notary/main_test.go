package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/scheme"
	"notary.mini/notary/internal/tendermint"
	"notary.mini/notary/internal/types"
)

// localLedger executes submissions directly against a contract, one
// height per transaction.
type localLedger struct {
	contract *notary.Contract
	height   uint64
}

func (l *localLedger) Submit(ctx context.Context, tx *types.Transaction, signer types.Signer, _ bool) (*tendermint.TxResult, error) {
	stx, err := tx.Sign(signer)
	if err != nil {
		return nil, err
	}
	l.height++
	env := notary.StaticEnv{Identity: stx.Caller(), Height: l.height}
	switch tx.Type {
	case types.TxCommit:
		var p types.CommitPayload
		json.Unmarshal(tx.Payload, &p)
		_, err = l.contract.Commit(ctx, env, p.Fingerprint, env.Identity, p.Metadata)
	case types.TxSign:
		var p types.SignPayload
		json.Unmarshal(tx.Payload, &p)
		_, err = l.contract.Sign(ctx, env, p.Fingerprint, env.Identity, p.Signature)
	}
	if err != nil {
		return nil, err
	}
	return &tendermint.TxResult{Hash: "AB", Height: int64(l.height)}, nil
}

func (l *localLedger) Verify(ctx context.Context, fp types.Fingerprint) (types.VerificationResult, error) {
	return l.contract.Verify(ctx, fp)
}

func (l *localLedger) Documents(ctx context.Context, id types.Identity) ([]types.Fingerprint, error) {
	return l.contract.DocumentsBy(ctx, id)
}

func (l *localLedger) Params(context.Context) (notary.Params, error) {
	return l.contract.Params(), nil
}

func newCLI(t *testing.T, params notary.Params) (*cli, *bytes.Buffer, *localLedger) {
	t.Helper()
	c, err := notary.New(kvstore.NewMemory(), nil, params)
	if err != nil {
		t.Fatalf("notary.New: %v", err)
	}
	ledger := &localLedger{contract: c}
	out := &bytes.Buffer{}
	return &cli{
		out:     out,
		keyFile: filepath.Join(t.TempDir(), "key.pem"),
		client:  ledger,
		commit:  true,
	}, out, ledger
}

func TestCommitSignVerifyFlow(t *testing.T) {
	c, out, ledger := newCLI(t, notary.DefaultParams())
	ctx := context.Background()

	doc := filepath.Join(t.TempDir(), "contract.txt")
	if err := os.WriteFile(doc, []byte("terms"), 0644); err != nil {
		t.Fatalf("write doc: %v", err)
	}

	if err := c.run(ctx, "keygen", nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	self := types.Identity(strings.TrimSpace(out.String()))
	out.Reset()

	if err := c.run(ctx, "commit", []string{"-metadata", "v1", doc}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.run(ctx, "commit", []string{doc}); !errorsIsKind(err, notary.ErrAlreadyCommitted) {
		t.Fatalf("second commit: %v", err)
	}
	if err := c.run(ctx, "sign", []string{doc}); err != nil {
		t.Fatalf("sign: %v", err)
	}

	fp := ledger.contract.Fingerprint([]byte("terms"))
	out.Reset()
	if err := c.run(ctx, "verify", []string{fp.String()}); err != nil {
		t.Fatalf("verify by hex: %v", err)
	}
	var res types.VerificationResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode verify output: %v", err)
	}
	if !res.Exists || res.Record.Committer != self || string(res.Record.Metadata) != "v1" || len(res.Signatures) != 1 {
		t.Fatalf("unexpected verification %+v", res)
	}

	out.Reset()
	if err := c.run(ctx, "documents", nil); err != nil {
		t.Fatalf("documents: %v", err)
	}
	if !strings.Contains(out.String(), fp.String()) {
		t.Fatalf("documents output %q lacks %s", out.String(), fp)
	}
}

func errorsIsKind(err, kind error) bool {
	return err != nil && notary.KindOf(err) == kind
}

func TestSignRequiresNotarizedDocument(t *testing.T) {
	c, _, ledger := newCLI(t, notary.DefaultParams())
	ctx := context.Background()
	if err := c.run(ctx, "keygen", nil); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	fp := ledger.contract.Fingerprint([]byte("nothing"))
	err := c.run(ctx, "sign", []string{fp.String()})
	if err == nil || !strings.Contains(err.Error(), "not notarized") {
		t.Fatalf("got %v", err)
	}
}

func TestResolveFingerprint(t *testing.T) {
	params := notary.DefaultParams()
	params.FingerprintAlgorithm = scheme.SHA512256
	hasher, _ := scheme.LookupHasher(scheme.SHA512256)

	doc := filepath.Join(t.TempDir(), "doc.bin")
	os.WriteFile(doc, []byte("payload"), 0644)
	fp, err := resolveFingerprint(params, doc)
	if err != nil || !bytes.Equal(fp, hasher([]byte("payload"))) {
		t.Fatalf("file: %x %v", fp, err)
	}

	hexFP := strings.Repeat("ab", 32)
	fp, err = resolveFingerprint(params, hexFP)
	if err != nil || fp.String() != hexFP {
		t.Fatalf("hex: %s %v", fp, err)
	}

	for _, bad := range []string{"abcd", "not-a-file-or-hex"} {
		if _, err := resolveFingerprint(params, bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestCLIRejectsForeignScheme(t *testing.T) {
	params := notary.DefaultParams()
	params.SignatureScheme = scheme.ECDSAP256
	c, _, _ := newCLI(t, params)
	err := c.run(context.Background(), "commit", []string{strings.Repeat("cd", 32)})
	if err == nil || !strings.Contains(err.Error(), "ecdsa-p256") {
		t.Fatalf("got %v", err)
	}
	if err := c.run(context.Background(), "bogus", nil); err == nil {
		t.Fatal("expected error for unknown command")
	}
}
