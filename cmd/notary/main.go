// Command notary is the client for a notaryd ledger: it manages the local
// key, fingerprints documents and submits commit and sign transactions
// through a Tendermint node.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"notary.mini/notary/internal/config"
	"notary.mini/notary/internal/identity"
	"notary.mini/notary/internal/notary"
	"notary.mini/notary/internal/scheme"
	"notary.mini/notary/internal/tendermint"
	"notary.mini/notary/internal/types"
)

const usage = `Usage: notary [flags] <command> [args]

Commands:
  keygen                        create the signing key if missing and print its identity
  fingerprint <file|hex>        print the fingerprint of a document
  commit [-metadata s] <file|hex>
                                notarize a document
  sign <file|hex>               endorse a notarized document
  verify <file|hex>             show the record and endorsements of a document
  documents [identity]          list documents committed by identity (default: own key)

Flags:
`

func main() {
	log.SetFlags(0)

	cfg, err := config.LoadConfig(config.Path())
	if err != nil {
		log.Printf("Warning: %v, using defaults", err)
		cfg = config.Defaults()
	}

	fs := flag.NewFlagSet("notary", flag.ExitOnError)
	keyFile := fs.String("key", cfg.KeyFile, "Path to the ed25519 signing key (PEM)")
	rpcAddr := fs.String("rpc", cfg.TendermintRPC, "Tendermint RPC address")
	async := fs.Bool("async", false, "Return after CheckTx instead of waiting for the block")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	cli := &cli{
		out:     os.Stdout,
		keyFile: *keyFile,
		client:  tendermint.NewClient(*rpcAddr),
		commit:  !*async,
	}
	if err := cli.run(ctx, fs.Arg(0), fs.Args()[1:]); err != nil {
		var txErr *tendermint.TxError
		if errors.As(err, &txErr) {
			log.Fatalf("notary: %s rejected (code %d): %s", txErr.Stage, txErr.Code, txErr.Log)
		}
		log.Fatalf("notary: %v", err)
	}
}

// ledger is the node API used by the commands.
type ledger interface {
	Submit(ctx context.Context, tx *types.Transaction, signer types.Signer, commit bool) (*tendermint.TxResult, error)
	Verify(ctx context.Context, fp types.Fingerprint) (types.VerificationResult, error)
	Documents(ctx context.Context, id types.Identity) ([]types.Fingerprint, error)
	Params(ctx context.Context) (notary.Params, error)
}

type cli struct {
	out     io.Writer
	keyFile string
	client  ledger
	commit  bool
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "keygen":
		id, err := identity.LoadOrCreateIdentity(c.keyFile)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, id.Address())
		return nil
	case "fingerprint":
		return c.withDocument(ctx, args, func(_ notary.Params, fp types.Fingerprint) error {
			fmt.Fprintln(c.out, fp)
			return nil
		})
	case "commit":
		sub := flag.NewFlagSet("commit", flag.ContinueOnError)
		metadata := sub.String("metadata", "", "Metadata label stored with the record")
		if err := sub.Parse(args); err != nil {
			return err
		}
		return c.withDocument(ctx, sub.Args(), func(params notary.Params, fp types.Fingerprint) error {
			return c.submit(ctx, params, types.TxCommit, types.CommitPayload{Fingerprint: fp, Metadata: []byte(*metadata)}, fp)
		})
	case "sign":
		return c.withDocument(ctx, args, func(params notary.Params, fp types.Fingerprint) error {
			res, err := c.client.Verify(ctx, fp)
			if err != nil {
				return err
			}
			if !res.Exists {
				return fmt.Errorf("document %s is not notarized", fp)
			}
			id, err := c.identity(params)
			if err != nil {
				return err
			}
			sig, err := id.Sign(notary.CanonicalMessage(params, *res.Record))
			if err != nil {
				return err
			}
			return c.submit(ctx, params, types.TxSign, types.SignPayload{Fingerprint: fp, Signature: sig}, fp)
		})
	case "verify":
		return c.withDocument(ctx, args, func(_ notary.Params, fp types.Fingerprint) error {
			res, err := c.client.Verify(ctx, fp)
			if err != nil {
				return err
			}
			return c.print(res)
		})
	case "documents":
		var who types.Identity
		if len(args) > 0 {
			who = types.Identity(args[0])
		} else {
			id, err := identity.LoadIdentity(c.keyFile)
			if err != nil {
				return err
			}
			who = id.Address()
		}
		docs, err := c.client.Documents(ctx, who)
		if err != nil {
			return err
		}
		return c.print(docs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// withDocument resolves the single document argument into a fingerprint
// using the node's parameters.
func (c *cli) withDocument(ctx context.Context, args []string, fn func(notary.Params, types.Fingerprint) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected one document argument")
	}
	params, err := c.client.Params(ctx)
	if err != nil {
		return fmt.Errorf("fetch ledger params: %w", err)
	}
	fp, err := resolveFingerprint(params, args[0])
	if err != nil {
		return err
	}
	return fn(params, fp)
}

// resolveFingerprint hashes the file at arg, or, when no such file exists,
// parses arg as a hex fingerprint of the ledger's size.
func resolveFingerprint(params notary.Params, arg string) (types.Fingerprint, error) {
	hasher, err := scheme.LookupHasher(params.FingerprintAlgorithm)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(arg)
	if err == nil {
		return types.Fingerprint(hasher(content)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	fp, perr := types.ParseFingerprint(arg)
	if perr != nil || len(fp) != params.FingerprintSize {
		return nil, fmt.Errorf("%q is neither a readable file nor a %d-byte hex fingerprint", arg, params.FingerprintSize)
	}
	return fp, nil
}

func (c *cli) identity(params notary.Params) (*identity.Identity, error) {
	if params.SignatureScheme != identity.SchemeName {
		return nil, fmt.Errorf("ledger uses %s keys; this client signs with %s only", params.SignatureScheme, identity.SchemeName)
	}
	return identity.LoadIdentity(c.keyFile)
}

func (c *cli) submit(ctx context.Context, params notary.Params, txType types.TransactionType, payload any, fp types.Fingerprint) error {
	id, err := c.identity(params)
	if err != nil {
		return err
	}
	tx, err := types.NewTransaction(txType, payload)
	if err != nil {
		return err
	}
	res, err := c.client.Submit(ctx, tx, id, c.commit)
	if err != nil {
		return err
	}
	if res.Height > 0 {
		fmt.Fprintf(c.out, "%s %s: tx %s at height %d\n", txType, fp, res.Hash, res.Height)
	} else {
		fmt.Fprintf(c.out, "%s %s: tx %s accepted\n", txType, fp, res.Hash)
	}
	return nil
}

func (c *cli) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
