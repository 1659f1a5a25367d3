package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps objects under RootDir and hands out URLs below PublicURL,
// which the router serves as static files.
type DiskStore struct {
	RootDir   string
	PublicURL string
}

func NewDiskStore(rootDir, publicURL string) *DiskStore {
	if publicURL == "" {
		publicURL = "/files"
	}
	return &DiskStore{
		RootDir:   filepath.Clean(rootDir),
		PublicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *DiskStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	abs, rel, err := s.ensureTarget(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return s.PublicURL + "/" + rel, nil
}

func (s *DiskStore) Delete(_ context.Context, ref string) error {
	rel, ok := strings.CutPrefix(ref, s.PublicURL+"/")
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	abs, _, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *DiskStore) ensureTarget(name string) (abs, rel string, err error) {
	abs, rel, err = s.resolve(name)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", "", fmt.Errorf("create files dir: %w", err)
	}
	return abs, rel, nil
}

// resolve keeps every object inside RootDir.
func (s *DiskStore) resolve(name string) (abs, rel string, err error) {
	rel = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	rel = filepath.ToSlash(filepath.Clean("/" + rel))
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" || rel == "." {
		return "", "", fmt.Errorf("bad object name %q", name)
	}
	return filepath.Join(s.RootDir, filepath.FromSlash(rel)), rel, nil
}
