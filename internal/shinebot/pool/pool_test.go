package pool_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shineshop/shinebot/internal/shinebot/pool"
)

// newTestFilePool writes the given content to a temp pool file and returns a
// FilePool over it.
func newTestFilePool(t *testing.T, content string) *pool.FilePool {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write pool file: %v", err)
	}
	return pool.NewFilePool(path, "hunter2")
}

// TestWithdrawAllInOrder verifies that N withdrawals on a pool of size N
// return each credential exactly once, in file order, and that the (N+1)th
// call reports ErrEmpty.
func TestWithdrawAllInOrder(t *testing.T) {
	p := newTestFilePool(t, "acct1\nacct2\nacct3")
	ctx := context.Background()

	for _, want := range []string{"acct1", "acct2", "acct3"} {
		cred, err := p.WithdrawOne(ctx)
		if err != nil {
			t.Fatalf("WithdrawOne: %v", err)
		}
		if cred.Identifier != want {
			t.Errorf("Identifier = %q, want %q", cred.Identifier, want)
		}
		if cred.Secret != "hunter2" {
			t.Errorf("Secret = %q, want the shared secret", cred.Secret)
		}
	}

	if _, err := p.WithdrawOne(ctx); !errors.Is(err, pool.ErrEmpty) {
		t.Errorf("4th withdrawal: err = %v, want ErrEmpty", err)
	}
}

// TestWithdrawSkipsBlankLines verifies that blank and whitespace-only lines
// in the pool file are not treated as credentials.
func TestWithdrawSkipsBlankLines(t *testing.T) {
	p := newTestFilePool(t, "\n  \nacct1\n\n")
	ctx := context.Background()

	cred, err := p.WithdrawOne(ctx)
	if err != nil {
		t.Fatalf("WithdrawOne: %v", err)
	}
	if cred.Identifier != "acct1" {
		t.Errorf("Identifier = %q, want acct1", cred.Identifier)
	}

	if _, err := p.WithdrawOne(ctx); !errors.Is(err, pool.ErrEmpty) {
		t.Errorf("2nd withdrawal: err = %v, want ErrEmpty", err)
	}
}

// TestWithdrawPersistsRemoval verifies that the withdrawn identifier is gone
// from the file before WithdrawOne returns.
func TestWithdrawPersistsRemoval(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.txt")
	if err := os.WriteFile(path, []byte("acct1\nacct2"), 0o600); err != nil {
		t.Fatalf("write pool file: %v", err)
	}
	p := pool.NewFilePool(path, "s")

	if _, err := p.WithdrawOne(context.Background()); err != nil {
		t.Fatalf("WithdrawOne: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "acct2" {
		t.Errorf("file content = %q, want %q", string(data), "acct2")
	}
}

// TestWithdrawMissingFile verifies that a missing pool file is an I/O error,
// not an empty pool.
func TestWithdrawMissingFile(t *testing.T) {
	p := pool.NewFilePool(filepath.Join(t.TempDir(), "absent.txt"), "s")

	_, err := p.WithdrawOne(context.Background())
	if err == nil {
		t.Fatal("expected an error for a missing pool file")
	}
	if errors.Is(err, pool.ErrEmpty) {
		t.Error("missing file must not read as ErrEmpty")
	}
}

// TestConcurrentWithdrawalsAreUnique verifies that concurrent callers never
// receive the same credential.
func TestConcurrentWithdrawalsAreUnique(t *testing.T) {
	p := pool.NewMemPool("s", "a1", "a2", "a3", "a4", "a5")
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cred, err := p.WithdrawOne(ctx)
			if err != nil {
				return // ErrEmpty for the overflow callers
			}
			mu.Lock()
			seen[cred.Identifier]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 5 {
		t.Errorf("got %d distinct credentials, want 5", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("credential %q issued %d times", id, n)
		}
	}
}

// TestRemaining verifies the count tracks withdrawals.
func TestRemaining(t *testing.T) {
	p := newTestFilePool(t, "a1\na2")
	ctx := context.Background()

	if n, _ := p.Remaining(ctx); n != 2 {
		t.Errorf("Remaining = %d, want 2", n)
	}
	if _, err := p.WithdrawOne(ctx); err != nil {
		t.Fatalf("WithdrawOne: %v", err)
	}
	if n, _ := p.Remaining(ctx); n != 1 {
		t.Errorf("Remaining = %d, want 1", n)
	}
}
