package tendermint

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	tmabci "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	notaryabci "notary.mini/notary/internal/abci"
	"notary.mini/notary/internal/identity"
	"notary.mini/notary/internal/kvstore"
	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/types"
)

// fakeNode serves the subset of the Tendermint RPC the client uses, with
// one block per broadcast_tx_commit.
type fakeNode struct {
	mu     sync.Mutex
	app    *notaryabci.Application
	height int64
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	var result any
	switch req.Method {
	case "broadcast_tx_sync", "broadcast_tx_commit":
		var p struct{ Tx string }
		_ = json.Unmarshal(req.Params, &p)
		tx, _ := base64.StdEncoding.DecodeString(p.Tx)
		check := n.app.CheckTx(tmabci.RequestCheckTx{Tx: tx})
		if req.Method == "broadcast_tx_sync" {
			result = map[string]any{"code": check.Code, "log": check.Log, "hash": "AB"}
			break
		}
		res := map[string]any{
			"check_tx": map[string]any{"code": check.Code, "log": check.Log},
			"hash":     "AB",
			"height":   "0",
		}
		if check.Code == 0 {
			n.height++
			n.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Height: n.height}})
			deliver := n.app.DeliverTx(tmabci.RequestDeliverTx{Tx: tx})
			n.app.Commit()
			res["deliver_tx"] = map[string]any{"code": deliver.Code, "log": deliver.Log}
			res["height"] = strconv.FormatInt(n.height, 10)
		}
		result = res
	case "abci_query":
		var p struct{ Path, Data string }
		_ = json.Unmarshal(req.Params, &p)
		data, _ := hex.DecodeString(p.Data)
		q := n.app.Query(tmabci.RequestQuery{Path: p.Path, Data: data})
		result = map[string]any{"response": map[string]any{"code": q.Code, "log": q.Log, "value": q.Value}}
	default:
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": -32601, "message": "Method not found", "data": req.Method}})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func newNode(t *testing.T) (*Client, *notaryabci.Application) {
	t.Helper()
	app, err := notaryabci.NewApplication(context.Background(), kvstore.NewMemory(), notary.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	srv := httptest.NewServer(&fakeNode{app: app})
	t.Cleanup(srv.Close)
	return NewClient(srv.URL), app
}

func TestClientCommitSignVerify(t *testing.T) {
	client, app := newNode(t)
	ctx := context.Background()
	alice, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	fp := app.Contract().Fingerprint([]byte("report.pdf"))

	tx, _ := types.NewTransaction(types.TxCommit, types.CommitPayload{Fingerprint: fp, Metadata: []byte("q3 report")})
	res, err := client.Submit(ctx, tx, alice, true)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Height != 1 {
		t.Fatalf("commit height = %d, want 1", res.Height)
	}

	_, err = client.Submit(ctx, tx, alice, true)
	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != "deliver_tx" || txErr.Code != notaryabci.CodeTypeAlreadyCommitted {
		t.Fatalf("second commit: got %v", err)
	}

	rec := types.DocumentRecord{Fingerprint: fp, Metadata: []byte("q3 report")}
	sig, _ := alice.Sign(app.Contract().CanonicalMessage(rec))
	tx, _ = types.NewTransaction(types.TxSign, types.SignPayload{Fingerprint: fp, Signature: sig})
	if _, err := client.Submit(ctx, tx, alice, true); err != nil {
		t.Fatalf("sign: %v", err)
	}

	vr, err := client.Verify(ctx, fp)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !vr.Exists || vr.Record.Committer != alice.Address() || len(vr.Signatures) != 1 {
		t.Fatalf("unexpected verification %+v", vr)
	}
	sigs, err := client.Signatures(ctx, fp)
	if err != nil || len(sigs) != 1 || sigs[0].SignedAt != 3 {
		t.Fatalf("Signatures: %+v %v", sigs, err)
	}

	docs, err := client.Documents(ctx, alice.Address())
	if err != nil || len(docs) != 1 || docs[0].String() != fp.String() {
		t.Fatalf("Documents: %v %v", docs, err)
	}
	params, err := client.Params(ctx)
	if err != nil || params != notary.DefaultParams() {
		t.Fatalf("Params: %+v %v", params, err)
	}

	missing := app.Contract().Fingerprint([]byte("missing"))
	vr, err = client.Verify(ctx, missing)
	if err != nil || vr.Exists {
		t.Fatalf("verify missing: %+v %v", vr, err)
	}
	_, err = client.Signatures(ctx, missing)
	if !errors.As(err, &txErr) || txErr.Code != notaryabci.CodeTypeUnknownDocument {
		t.Fatalf("signatures of missing: %v", err)
	}
}

func TestClientSyncRejectedByCheckTx(t *testing.T) {
	client, _ := newNode(t)
	_, err := client.BroadcastTxSync(context.Background(), []byte("not a tx"))
	var txErr *TxError
	if !errors.As(err, &txErr) || txErr.Stage != "check_tx" || txErr.Code != notaryabci.CodeTypeEncodingError {
		t.Fatalf("got %v", err)
	}
}

func TestClientRPCError(t *testing.T) {
	client, _ := newNode(t)
	var out any
	err := client.call(context.Background(), "status", nil, &out)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Fatalf("got %v", err)
	}
}

func TestNewABCIServerValidation(t *testing.T) {
	app, err := notaryabci.NewApplication(context.Background(), kvstore.NewMemory(), notary.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	if _, err := NewABCIServer(nil, &Config{SocketAddress: "unix://x.sock"}); err == nil {
		t.Fatal("expected error for nil app")
	}
	if _, err := NewABCIServer(app, nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewABCIServer(app, &Config{}); err == nil {
		t.Fatal("expected error for empty socket")
	}

	socket := "unix://" + filepath.Join(t.TempDir(), "notary.sock")
	srv, err := NewABCIServer(app, &Config{SocketAddress: socket})
	if err != nil {
		t.Fatalf("NewABCIServer: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !srv.IsRunning() {
		t.Fatal("server not running after Start")
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if srv.IsRunning() {
		t.Fatal("server still running after Stop")
	}
}
