package main

import (
	"context"
	"path/filepath"
	"testing"

	"notary.mini/notary/internal/config"
	"notary.mini/notary/internal/kvstore"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	cfg := config.Defaults()
	cfg.Backend = config.BackendMemory
	s, err := openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*kvstore.Memory); !ok {
		t.Fatalf("memory backend returned %T", s)
	}
	s.Close()

	cfg.Backend = config.BackendSQLite
	cfg.DBFile = filepath.Join(t.TempDir(), "notary.db")
	s, err = openStore(ctx, cfg)
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if sq, ok := s.(*kvstore.SQLite); !ok || sq.Path() != cfg.DBFile {
		t.Fatalf("sqlite backend returned %T", s)
	}
	s.Close()

	cfg.Backend = "redis"
	if _, err := openStore(ctx, cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
