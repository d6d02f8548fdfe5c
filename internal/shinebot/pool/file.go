package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FilePool reads credentials from a plain text file, one account identifier
// per line, first line = next to withdraw. Blank lines are skipped.
//
// The mutex makes the read-remove-rewrite cycle atomic within the process;
// the rewrite goes through a temp file + rename so a crash cannot leave a
// truncated pool behind.
type FilePool struct {
	mu           sync.Mutex
	path         string
	sharedSecret string
}

// NewFilePool returns a FilePool over the file at path. Every withdrawn
// credential carries sharedSecret as its password.
func NewFilePool(path, sharedSecret string) *FilePool {
	return &FilePool{path: path, sharedSecret: sharedSecret}
}

// WithdrawOne removes the first identifier from the file and returns it.
func (p *FilePool) WithdrawOne(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines, err := p.readLines()
	if err != nil {
		return Credential{}, err
	}
	if len(lines) == 0 {
		return Credential{}, ErrEmpty
	}

	identifier := lines[0]
	if err := p.writeLines(lines[1:]); err != nil {
		return Credential{}, err
	}

	return Credential{Identifier: identifier, Secret: p.sharedSecret}, nil
}

// Remaining counts the identifiers left in the file.
func (p *FilePool) Remaining(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines, err := p.readLines()
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// readLines returns the non-blank trimmed lines of the pool file in order.
func (p *FilePool) readLines() ([]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("pool: read %s: %w", p.path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines, nil
}

// writeLines atomically replaces the pool file with the given identifiers.
func (p *FilePool) writeLines(lines []string) error {
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("pool: create temp for %s: %w", p.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(strings.Join(lines, "\n")); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("pool: write %s: %w", p.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("pool: close temp for %s: %w", p.path, err)
	}

	if err := os.Rename(tmpName, p.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("pool: replace %s: %w", p.path, err)
	}
	return nil
}
