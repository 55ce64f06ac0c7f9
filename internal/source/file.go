package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tokengate/tokengate/internal/domain"
)

const (
	documentFileMode = 0o600
	documentDirMode  = 0o700
	tempFilePattern  = ".tokens-*.json.tmp"
)

// FileSource mirrors one alias to a JSON document on local disk. Writes go
// through a temp file and rename so a crash mid-write never truncates the
// document.
type FileSource struct {
	alias string
	path  string
}

func NewFileSource(alias, path string) *FileSource {
	return &FileSource{alias: alias, path: filepath.Clean(path)}
}

func (s *FileSource) Alias() string           { return s.alias }
func (s *FileSource) Kind() domain.SourceKind { return domain.SourceKindFile }
func (s *FileSource) Location() string        { return s.path }

func (s *FileSource) Load(ctx context.Context) ([]domain.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrSourceUnavailable, s.path, err)
	}
	return decodeDocument(data, s.alias, time.Now().UTC())
}

func (s *FileSource) Store(ctx context.Context, tokens []domain.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeDocument(tokens)
	if err != nil {
		return fmt.Errorf("encode token document: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), documentDirMode); err != nil {
		return fmt.Errorf("%w: create source directory: %w", domain.ErrSourceUnavailable, err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(s.path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("%w: create temp document: %w", domain.ErrSourceUnavailable, err)
	}
	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: write temp document: %w", domain.ErrSourceUnavailable, err)
	}
	if err := tempFile.Chmod(documentFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("%w: chmod temp document: %w", domain.ErrSourceUnavailable, err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("%w: close temp document: %w", domain.ErrSourceUnavailable, err)
	}
	if err := os.Rename(tempName, s.path); err != nil {
		return fmt.Errorf("%w: replace document: %w", domain.ErrSourceUnavailable, err)
	}
	cleanup = false
	return nil
}
