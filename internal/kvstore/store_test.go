package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

var errAbort = errors.New("abort")

// runConformance exercises the behavior every backend must share.
func runConformance(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("InsertAndGet", func(t *testing.T) {
		s := open(t)
		err := s.Update(ctx, func(tx Txn) error {
			return tx.InsertIfAbsent([]byte("a/1"), []byte("one"))
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		err = s.View(ctx, func(r Reader) error {
			v, err := r.Get([]byte("a/1"))
			if err != nil {
				return err
			}
			if string(v) != "one" {
				t.Errorf("got %q, want one", v)
			}
			_, err = r.Get([]byte("a/2"))
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("missing key: got %v, want ErrNotFound", err)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("View: %v", err)
		}
	})

	t.Run("InsertIfAbsentNeverOverwrites", func(t *testing.T) {
		s := open(t)
		if err := s.Update(ctx, func(tx Txn) error {
			return tx.InsertIfAbsent([]byte("k"), []byte("first"))
		}); err != nil {
			t.Fatalf("first insert: %v", err)
		}
		err := s.Update(ctx, func(tx Txn) error {
			return tx.InsertIfAbsent([]byte("k"), []byte("second"))
		})
		if !errors.Is(err, ErrKeyExists) {
			t.Fatalf("second insert: got %v, want ErrKeyExists", err)
		}
		assertValue(t, s, "k", "first")
	})

	t.Run("DuplicateWithinTransaction", func(t *testing.T) {
		s := open(t)
		err := s.Update(ctx, func(tx Txn) error {
			if err := tx.InsertIfAbsent([]byte("dup"), []byte("x")); err != nil {
				return err
			}
			return tx.InsertIfAbsent([]byte("dup"), []byte("y"))
		})
		if !errors.Is(err, ErrKeyExists) {
			t.Fatalf("got %v, want ErrKeyExists", err)
		}
		assertMissing(t, s, "dup")
	})

	t.Run("AbortDiscardsInserts", func(t *testing.T) {
		s := open(t)
		err := s.Update(ctx, func(tx Txn) error {
			if err := tx.InsertIfAbsent([]byte("x/1"), []byte("v")); err != nil {
				return err
			}
			if err := tx.InsertIfAbsent([]byte("x/2"), []byte("v")); err != nil {
				return err
			}
			return errAbort
		})
		if !errors.Is(err, errAbort) {
			t.Fatalf("got %v, want errAbort", err)
		}
		assertMissing(t, s, "x/1")
		assertMissing(t, s, "x/2")
	})

	t.Run("ReadYourWrites", func(t *testing.T) {
		s := open(t)
		err := s.Update(ctx, func(tx Txn) error {
			if err := tx.InsertIfAbsent([]byte("ryw"), []byte("staged")); err != nil {
				return err
			}
			v, err := tx.Get([]byte("ryw"))
			if err != nil {
				return err
			}
			if string(v) != "staged" {
				return fmt.Errorf("got %q", v)
			}
			count := 0
			if err := tx.Scan([]byte("ry"), func(k, v []byte) error {
				count++
				return nil
			}); err != nil {
				return err
			}
			if count != 1 {
				return fmt.Errorf("scan saw %d keys", count)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	})

	t.Run("ScanOrderAndPrefix", func(t *testing.T) {
		s := open(t)
		keys := [][]byte{
			{'p', 0x02},
			{'p', 0x00, 0xff},
			{'p', 0xff},
			{'p', 0x01},
			{'q', 0x00},
			{'o', 0xff},
		}
		for _, k := range keys {
			k := k
			if err := s.Update(ctx, func(tx Txn) error {
				return tx.InsertIfAbsent(k, []byte{k[len(k)-1]})
			}); err != nil {
				t.Fatalf("insert %x: %v", k, err)
			}
		}

		var got [][]byte
		err := s.View(ctx, func(r Reader) error {
			return r.Scan([]byte{'p'}, func(k, v []byte) error {
				got = append(got, k)
				return nil
			})
		})
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		want := [][]byte{{'p', 0x00, 0xff}, {'p', 0x01}, {'p', 0x02}, {'p', 0xff}}
		if len(got) != len(want) {
			t.Fatalf("got %d keys %x, want %d", len(got), got, len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("key %d = %x, want %x", i, got[i], want[i])
			}
		}
	})

	t.Run("ConcurrentInsertHasOneWinner", func(t *testing.T) {
		s := open(t)
		const writers = 32
		errs := make([]error, writers)
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = s.Update(ctx, func(tx Txn) error {
					return tx.InsertIfAbsent([]byte("race"), []byte{byte(i)})
				})
			}(i)
		}
		wg.Wait()

		won := 0
		for i, err := range errs {
			switch {
			case err == nil:
				won++
			case !errors.Is(err, ErrKeyExists):
				t.Errorf("writer %d: got %v, want ErrKeyExists", i, err)
			}
		}
		if won != 1 {
			t.Fatalf("%d writers won, want 1", won)
		}
	})

	t.Run("ScanStopsOnError", func(t *testing.T) {
		s := open(t)
		for _, k := range []string{"s/1", "s/2", "s/3"} {
			k := k
			if err := s.Update(ctx, func(tx Txn) error {
				return tx.InsertIfAbsent([]byte(k), []byte("v"))
			}); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
		seen := 0
		err := s.View(ctx, func(r Reader) error {
			return r.Scan([]byte("s/"), func(k, v []byte) error {
				seen++
				return errAbort
			})
		})
		if !errors.Is(err, errAbort) || seen != 1 {
			t.Fatalf("err=%v seen=%d", err, seen)
		}
	})
}

func assertValue(t *testing.T, s Store, key, want string) {
	t.Helper()
	err := s.View(context.Background(), func(r Reader) error {
		v, err := r.Get([]byte(key))
		if err != nil {
			return err
		}
		if string(v) != want {
			t.Errorf("%s = %q, want %q", key, v, want)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("View %s: %v", key, err)
	}
}

func assertMissing(t *testing.T, s Store, key string) {
	t.Helper()
	err := s.View(context.Background(), func(r Reader) error {
		_, err := r.Get([]byte(key))
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("%s: got %v, want ErrNotFound", key, err)
	}
}

func TestMemoryConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store {
		s := NewMemory()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLiteConformance(t *testing.T) {
	runConformance(t, func(t *testing.T) Store {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "notary.db"))
		if err != nil {
			t.Fatalf("NewSQLite: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("NOTARY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set NOTARY_TEST_POSTGRES_DSN to run postgres backend tests")
	}
	n := 0
	runConformance(t, func(t *testing.T) Store {
		n++
		s, err := ConnectPostgres(context.Background(), dsn, fmt.Sprintf("notary_kv_test_%d_%d", os.Getpid(), n))
		if err != nil {
			t.Fatalf("ConnectPostgres: %v", err)
		}
		t.Cleanup(func() {
			_, _ = s.DB.Exec(context.Background(), `DROP TABLE IF EXISTS `+s.table)
			s.Close()
		})
		return s
	})
}

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "notary.db")

	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	if err := s.Update(ctx, func(tx Txn) error {
		return tx.InsertIfAbsent([]byte("durable"), []byte("yes"))
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	assertValue(t, s2, "durable", "yes")
	if s2.Path() != path {
		t.Errorf("Path() = %s, want %s", s2.Path(), path)
	}
}

func TestClosedStore(t *testing.T) {
	ctx := context.Background()
	stores := map[string]Store{"memory": NewMemory()}
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	stores["sqlite"] = sq

	for name, s := range stores {
		if err := s.Close(); err != nil {
			t.Fatalf("%s close: %v", name, err)
		}
		err := s.Update(ctx, func(tx Txn) error { return nil })
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s Update after close: got %v", name, err)
		}
		err = s.View(ctx, func(r Reader) error { return nil })
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s View after close: got %v", name, err)
		}
	}
}

func TestMemoryReadOnlyView(t *testing.T) {
	s := NewMemory()
	err := s.View(context.Background(), func(r Reader) error {
		return r.(Txn).InsertIfAbsent([]byte("k"), []byte("v"))
	})
	if !errors.Is(err, ErrReadOnly) {
		t.Fatalf("got %v, want ErrReadOnly", err)
	}
	if s.Len() != 0 {
		t.Fatalf("view inserted %d keys", s.Len())
	}
}

func TestPrefixEnd(t *testing.T) {
	cases := []struct {
		in, want []byte
	}{
		{[]byte("ab"), []byte("ac")},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{nil, nil},
	}
	for _, tc := range cases {
		if got := prefixEnd(tc.in); !bytes.Equal(got, tc.want) || (got == nil) != (tc.want == nil) {
			t.Errorf("prefixEnd(%x) = %x, want %x", tc.in, got, tc.want)
		}
	}
}
