// Package cache stores completed stage outputs on disk, keyed by document
// content so reprocessing an unchanged file skips work already done.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// StageCache persists JSON stage payloads under Dir. Keys incorporate the
// document fingerprint, the stage name, and the configuration version, so a
// config change naturally misses instead of serving stale results.
type StageCache struct {
	Dir           string
	ConfigVersion string
	Logger        *zap.Logger
}

// New creates a stage cache rooted at dir.
func New(dir, configVersion string, logger *zap.Logger) *StageCache {
	return &StageCache{Dir: dir, ConfigVersion: configVersion, Logger: logger}
}

func (c *StageCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	return os.MkdirAll(c.Dir, 0o755)
}

// Key builds the cache key for one document stage.
func (c *StageCache) Key(fingerprint, stage string) string {
	h := sha256.Sum256([]byte(fingerprint + "|" + stage + "|" + c.ConfigVersion))
	return hex.EncodeToString(h[:])
}

func (c *StageCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Get unmarshals the cached payload for (fingerprint, stage) into out.
// A corrupt entry is removed and reported as a miss.
func (c *StageCache) Get(fingerprint, stage string, out any) (bool, error) {
	if err := c.ensureDir(); err != nil {
		return false, err
	}
	p := c.pathFor(c.Key(fingerprint, stage))
	b, err := os.ReadFile(p)
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		if c.Logger != nil {
			c.Logger.Warn("removing corrupt cache entry",
				zap.String("stage", stage), zap.Error(err))
		}
		_ = os.Remove(p)
		return false, nil
	}
	return true, nil
}

// Put stores the payload for (fingerprint, stage). The first writer wins;
// an existing entry is left untouched so concurrent workers cannot clobber
// each other.
func (c *StageCache) Put(fingerprint, stage string, payload any) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cache payload: %w", err)
	}

	p := c.pathFor(c.Key(fingerprint, stage))
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(p)
		return err
	}
	return f.Close()
}

// Invalidate removes every cached stage for a document fingerprint. Used
// when an attempt is cancelled mid-flight and its partial outputs must not
// survive.
func (c *StageCache) Invalidate(fingerprint string, stages ...string) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	var firstErr error
	for _, stage := range stages {
		p := c.pathFor(c.Key(fingerprint, stage))
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear removes all entries. Used by the cache admin subcommand.
func (c *StageCache) Clear() error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.Dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
