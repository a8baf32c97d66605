package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JSONLedgerStore keeps the ledger in a single JSON file
type JSONLedgerStore struct {
	path string
}

// NewJSONLedgerStore creates a store backed by the file at path
func NewJSONLedgerStore(path string) *JSONLedgerStore {
	return &JSONLedgerStore{path: path}
}

// Path returns the location of the backing file
func (s *JSONLedgerStore) Path() string {
	return s.path
}

// Initialize creates the data directory and an empty document if needed
func (s *JSONLedgerStore) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat ledger file: %w", err)
	}

	return s.Save(ctx, NewLedgerDocument(time.Now()))
}

// Load reads and decodes the ledger file. A missing file reads as an empty
// document; the next Save recreates it.
func (s *JSONLedgerStore) Load(ctx context.Context) (*LedgerDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewLedgerDocument(time.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var doc LedgerDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode ledger file: %w", err)
	}
	if doc.Records == nil {
		doc.Records = []ReplyRecord{}
	}

	return &doc, nil
}

// Save encodes doc and replaces the ledger file
func (s *JSONLedgerStore) Save(ctx context.Context, doc *LedgerDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write ledger file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	return nil
}

// HealthCheck verifies the ledger file can be read and decoded
func (s *JSONLedgerStore) HealthCheck(ctx context.Context) error {
	_, err := s.Load(ctx)
	return err
}

// Close is a no-op for the file store
func (s *JSONLedgerStore) Close() error {
	return nil
}
