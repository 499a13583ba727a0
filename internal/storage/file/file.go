package file

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/entities"
)

// tokenPrefix namespaces our challenge tokens so they are
// distinguishable from unrelated TXT records on the same domain.
const tokenPrefix = "luckyads_"

const tokenLength = 32

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Documents is a file-based implementation of storage.Documents.
// Each document is a single JSON file rewritten in full on save.
type Documents struct {
	queuePath    string
	snapshotPath string
}

// NewDocuments returns Documents persisting the queue and the config
// snapshot at the given paths. Parent directories are created on save.
func NewDocuments(queuePath, snapshotPath string) *Documents {
	return &Documents{
		queuePath:    queuePath,
		snapshotPath: snapshotPath,
	}
}

// LoadQueue reads the persisted pending queue.
// A missing document yields an empty map.
func (d *Documents) LoadQueue() (entities.Entries, error) {
	data, err := os.ReadFile(d.queuePath)
	if errors.Is(err, os.ErrNotExist) {
		return entities.Entries{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue document: %w", err)
	}

	entries := entities.Entries{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode queue document: %w", err)
	}

	return entries, nil
}

// SaveQueue rewrites the pending queue document in full.
func (d *Documents) SaveQueue(entries entities.Entries) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode queue document: %w", err)
	}

	return writeFile(d.queuePath, data)
}

// LoadSnapshot reads the last-known-good config snapshot.
// A missing document yields nil.
func (d *Documents) LoadSnapshot() (json.RawMessage, error) {
	data, err := os.ReadFile(d.snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config snapshot: %w", err)
	}

	return data, nil
}

// SaveSnapshot rewrites the config snapshot document.
func (d *Documents) SaveSnapshot(doc json.RawMessage) error {
	return writeFile(d.snapshotPath, doc)
}

// Tokens is a file-based implementation of storage.Tokens keeping one
// small text file per domain.
type Tokens struct {
	dir string
}

// NewTokens returns Tokens storing per-domain token files under dir.
func NewTokens(dir string) *Tokens {
	return &Tokens{dir: dir}
}

// GetOrCreate returns the token for domain, generating and persisting
// one if it does not exist yet. The create is O_EXCL so two concurrent
// calls for the same new domain agree on a single persisted value: the
// loser of the race re-reads the winner's file.
func (t *Tokens) GetOrCreate(domain string) (string, error) {
	path := t.path(domain)

	if token, err := readToken(path); err == nil {
		return token, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create tokens dir: %w", err)
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return readToken(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create token file: %w", err)
	}

	if _, err := f.WriteString(token); err != nil {
		f.Close() //nolint:errcheck,gosec
		return "", fmt.Errorf("failed to write token file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close token file: %w", err)
	}

	return token, nil
}

// Remove deletes the token file for domain, silently if already gone.
func (t *Tokens) Remove(domain string) error {
	if err := os.Remove(t.path(domain)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (t *Tokens) path(domain string) string {
	return filepath.Join(t.dir, domain+".txt")
}

func readToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func generateToken() (string, error) {
	var b strings.Builder
	b.WriteString(tokenPrefix)
	for i := 0; i < tokenLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(tokenAlphabet))))
		if err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
