package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/pkg/models"
)

const (
	// FileName is the persisted record inside the data directory
	FileName = "energy_usage.json"

	// DefaultTTL applies when no expiration period is configured
	DefaultTTL = 12 * time.Hour
)

// Entry is the persisted form of the cache
type Entry struct {
	ExpireAt time.Time           `json:"expire_at"`
	Usage    *models.EnergyUsage `json:"usage"`
}

// Cache holds the latest usage snapshot and when it is due for refresh.
// The snapshot and its expiration are always read and written together.
type Cache struct {
	mu       sync.RWMutex
	usage    *models.EnergyUsage
	expireAt time.Time

	// persistMu orders writes to disk; readers never wait on it
	persistMu sync.Mutex
	write     func(path string, data []byte) error

	dataDir string
	ttl     time.Duration
	clock   clockwork.Clock
	logger  logrus.FieldLogger
}

// Option configures a Cache
type Option func(*Cache)

// WithClock replaces the wall clock, for tests
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		c.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// New creates an empty cache persisting to dataDir. A non-positive ttl means DefaultTTL.
func New(dataDir string, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c := &Cache{
		dataDir: dataDir,
		ttl:     ttl,
		write:   writeFile,
		clock:   clockwork.NewRealClock(),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// An empty cache is already due for refresh
	c.expireAt = c.clock.Now()
	return c
}

// Path returns the location of the persisted record
func (c *Cache) Path() string {
	return filepath.Join(c.dataDir, FileName)
}

// TTL returns the configured expiration period
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Restore loads the persisted record, if any. Failures leave the cache empty and are
// only logged.
func (c *Cache) Restore() {
	c.logger.WithField("path", c.Path()).Info("Loading data from local cache")

	entry, err := readEntry(c.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		c.logger.WithError(err).Error("Failed to restore cache")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.usage = entry.Usage
	c.expireAt = entry.ExpireAt
}

// Read returns the current snapshot whether or not it has expired
func (c *Cache) Read() (models.EnergyUsage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.usage == nil {
		return models.EnergyUsage{}, false
	}
	return *c.usage, true
}

// RemainingUntilExpiration returns the time left before a refresh is due.
// ok is false once that time has passed.
func (c *Cache) RemainingUntilExpiration() (remaining time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	remaining = c.expireAt.Sub(c.clock.Now())
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// ExpireAt returns the current expiration time
func (c *Cache) ExpireAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expireAt
}

// Update replaces the snapshot, restarts the expiration period and persists the entry.
// The in-memory state is updated even when persisting fails; that error is returned.
func (c *Cache) Update(usage models.EnergyUsage) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	c.usage = &usage
	c.expireAt = c.clock.Now().Add(c.ttl)
	entry := Entry{ExpireAt: c.expireAt, Usage: c.usage}
	c.mu.Unlock()

	log := c.logger.WithField("expire_at", entry.ExpireAt.Format(time.RFC3339))
	if err := c.persist(entry); err != nil {
		log.WithError(err).Error("Failed to persist cache")
		return err
	}

	log.Info("Cache is updated")
	return nil
}

func (c *Cache) persist(entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.MkdirAll(c.dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := c.write(c.Path(), data); err != nil {
		return fmt.Errorf("replacing cache entry: %w", err)
	}
	return nil
}

func readEntry(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decoding cache entry: %w", err)
	}
	if entry.ExpireAt.IsZero() {
		return Entry{}, fmt.Errorf("decoding cache entry: missing expire_at")
	}
	return entry, nil
}

// writeFile replaces path atomically, staging the temp file next to it
func writeFile(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o644, renameio.WithTempDir(filepath.Dir(path)))
}
