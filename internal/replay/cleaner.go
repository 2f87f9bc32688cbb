package replay

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"paddlearena/engine/internal/logging"
)

// RetentionPolicy bounds how many bundles survive on disk and for how long.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted bundles.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes replay bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Sweep eagerly so retention applies immediately on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed",
			logging.Error(err), logging.String("directory", c.dir))
		return
	}

	//1.- Collect bundle directories newest-first so limits favour recent matches.
	bundles := make([]bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, bundle{path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })

	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		expired := c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge
		overCount := c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles
		if expired || overCount {
			if err := os.RemoveAll(b.path); err != nil {
				c.log.Warn("replay retention removal failed",
					logging.Error(err), logging.String("path", b.path))
			} else {
				c.log.Info("replay bundle removed", logging.String("path", b.path))
				continue
			}
		}
		kept++
		stats.Bundles++
		stats.Bytes += b.size
	}

	c.mu.Lock()
	c.stats = stats
	c.mu.Unlock()
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
