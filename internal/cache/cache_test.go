package cache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/pkg/models"
)

var epoch = time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

func sampleUsage() models.EnergyUsage {
	return models.EnergyUsage{
		UpdateTimestamp: epoch,
		Electricity: []models.UsageRecord{
			{Date: models.NewDate(2021, 12, 5), MinutesIncluded: 1440, Value: 12.5, Unit: models.KilowattHour},
			{Date: models.NewDate(2021, 12, 6), MinutesIncluded: 300, Value: 2.1, Unit: models.KilowattHour},
		},
		NaturalGas: []models.UsageRecord{
			{Date: models.NewDate(2021, 12, 5), MinutesIncluded: 1440, Value: 8.5, Unit: models.CubicMeters},
		},
	}
}

func newTestCache(t *testing.T, dir string, clock clockwork.Clock) *Cache {
	t.Helper()
	return New(dir, time.Hour, WithClock(clock), WithLogger(logging.Discard()))
}

func TestNew_StartsEmptyAndExpired(t *testing.T) {
	c := newTestCache(t, t.TempDir(), clockwork.NewFakeClockAt(epoch))

	_, ok := c.Read()
	assert.False(t, ok)

	_, ok = c.RemainingUntilExpiration()
	assert.False(t, ok)
}

func TestNew_DefaultTTL(t *testing.T) {
	c := New(t.TempDir(), 0)
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestUpdate_ExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	c := newTestCache(t, t.TempDir(), clock)

	require.NoError(t, c.Update(sampleUsage()))

	remaining, ok := c.RemainingUntilExpiration()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, remaining)

	clock.Advance(59 * time.Minute)
	remaining, ok = c.RemainingUntilExpiration()
	assert.True(t, ok)
	assert.Equal(t, time.Minute, remaining)

	// exactly at the expiration time the entry is due
	clock.Advance(time.Minute)
	_, ok = c.RemainingUntilExpiration()
	assert.False(t, ok)

	// stale data is still served
	usage, ok := c.Read()
	assert.True(t, ok)
	assert.Equal(t, sampleUsage(), usage)
}

func TestUpdate_PersistsAndRestores(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(epoch)

	first := newTestCache(t, dir, clock)
	require.NoError(t, first.Update(sampleUsage()))
	assert.FileExists(t, filepath.Join(dir, FileName))

	clock.Advance(20 * time.Minute)
	second := newTestCache(t, dir, clock)
	second.Restore()

	usage, ok := second.Read()
	require.True(t, ok)
	assert.Equal(t, sampleUsage(), usage)
	assert.True(t, epoch.Add(time.Hour).Equal(second.ExpireAt()))

	remaining, ok := second.RemainingUntilExpiration()
	assert.True(t, ok)
	assert.Equal(t, 40*time.Minute, remaining)
}

func TestUpdate_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	c := newTestCache(t, dir, clockwork.NewFakeClockAt(epoch))

	require.NoError(t, c.Update(sampleUsage()))
	require.NoError(t, c.Update(sampleUsage()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, FileName, entries[0].Name())
}

func TestRestore_MissingFile(t *testing.T) {
	c := newTestCache(t, t.TempDir(), clockwork.NewFakeClockAt(epoch))
	c.Restore()

	_, ok := c.Read()
	assert.False(t, ok)
	_, ok = c.RemainingUntilExpiration()
	assert.False(t, ok)
}

func TestRestore_CorruptFileLeavesCacheEmpty(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":     "{not json",
		"no expiry":   `{"usage": null}`,
		"wrong shape": `{"expire_at": "2021-12-07T10:00:00Z", "usage": {"electricity": "lots"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

			c := newTestCache(t, dir, clockwork.NewFakeClockAt(epoch))
			c.Restore()

			_, ok := c.Read()
			assert.False(t, ok)
			_, ok = c.RemainingUntilExpiration()
			assert.False(t, ok)
		})
	}
}

func TestRestore_ExpiredEntryServesStaleData(t *testing.T) {
	dir := t.TempDir()
	content := `{"expire_at":"2021-12-07T08:00:00Z","usage":{"update_timestamp":"2021-12-06T20:00:00Z",` +
		`"electricity":[{"date":"2021-12-05","minutes_included":1440,"value":12.5,"unit_of_measurement":"kWh"}],` +
		`"natural_gas":[]}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644))

	c := newTestCache(t, dir, clockwork.NewFakeClockAt(epoch))
	c.Restore()

	usage, ok := c.Read()
	require.True(t, ok)
	require.Len(t, usage.Electricity, 1)
	assert.Equal(t, 12.5, usage.Electricity[0].Value)

	_, ok = c.RemainingUntilExpiration()
	assert.False(t, ok)
}

func TestUpdate_PersistFailureStillUpdatesMemory(t *testing.T) {
	// a regular file where the data directory should be
	blocker := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := newTestCache(t, blocker, clockwork.NewFakeClockAt(epoch))
	err := c.Update(sampleUsage())
	assert.Error(t, err)

	usage, ok := c.Read()
	assert.True(t, ok)
	assert.Equal(t, sampleUsage(), usage)

	remaining, ok := c.RemainingUntilExpiration()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, remaining)
}

func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	c := newTestCache(t, t.TempDir(), clockwork.NewFakeClockAt(epoch))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if usage, ok := c.Read(); ok {
					assert.Len(t, usage.Electricity, 2)
				}
				c.RemainingUntilExpiration()
			}
		}()
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Update(sampleUsage()))
	}
	wg.Wait()
}

func TestRead_DoesNotWaitForPersist(t *testing.T) {
	c := newTestCache(t, t.TempDir(), clockwork.NewFakeClockAt(epoch))

	writing := make(chan struct{})
	release := make(chan struct{})
	c.write = func(path string, data []byte) error {
		close(writing)
		<-release
		return writeFile(path, data)
	}

	done := make(chan error, 1)
	go func() { done <- c.Update(sampleUsage()) }()
	<-writing

	readDone := make(chan bool, 1)
	go func() {
		_, ok := c.Read()
		readDone <- ok
	}()
	select {
	case ok := <-readDone:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("read blocked on the disk write")
	}

	remaining, ok := c.RemainingUntilExpiration()
	assert.True(t, ok)
	assert.Equal(t, time.Hour, remaining)

	close(release)
	require.NoError(t, <-done)
	_, err := os.Stat(c.Path())
	assert.NoError(t, err)
}
