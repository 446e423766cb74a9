package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const xdgAppName = "promemoria"

// KV is a small key-value store keeping one file per key under Dir.
type KV struct {
	Dir string
	mu  sync.RWMutex
}

// NewKV stores its files under dir, created on first write.
func NewKV(dir string) *KV {
	return &KV{Dir: dir}
}

// DefaultDir returns ~/.config/promemoria.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", xdgAppName), nil
}

func (kv *KV) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(kv.Dir, key+".json"), nil
}

// Get returns the value stored under key. ok is false when the key was never set.
func (kv *KV) Get(key string) (value []byte, ok bool, err error) {
	p, err := kv.path(key)
	if err != nil {
		return nil, false, err
	}

	kv.mu.RLock()
	defer kv.mu.RUnlock()

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Set replaces the value under key. The write goes through a temp file and a
// rename so readers never see a partial value.
func (kv *KV) Set(key string, value []byte) error {
	p, err := kv.path(key)
	if err != nil {
		return err
	}

	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := os.MkdirAll(kv.Dir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}
