package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "nested", FileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMarkPublished(t *testing.T) {
	db := openTestDB(t)
	day := models.NewDate(2021, 12, 5)
	at := time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

	published, err := db.IsPublished(models.Electricity, day)
	require.NoError(t, err)
	assert.False(t, published)

	record := models.UsageRecord{Date: day, MinutesIncluded: 1440, Value: 12.5, Unit: models.KilowattHour}
	require.NoError(t, db.MarkPublished(models.Electricity, record, at))

	published, err = db.IsPublished(models.Electricity, day)
	require.NoError(t, err)
	assert.True(t, published)

	// tracked per commodity
	published, err = db.IsPublished(models.NaturalGas, day)
	require.NoError(t, err)
	assert.False(t, published)
}

func TestMarkPublished_IgnoresDuplicates(t *testing.T) {
	db := openTestDB(t)
	day := models.NewDate(2021, 12, 5)
	first := time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

	require.NoError(t, db.MarkPublished(models.NaturalGas,
		models.UsageRecord{Date: day, MinutesIncluded: 1440, Value: 8.5, Unit: models.CubicMeters}, first))
	require.NoError(t, db.MarkPublished(models.NaturalGas,
		models.UsageRecord{Date: day, MinutesIncluded: 1440, Value: 9.1, Unit: models.CubicMeters}, first.Add(time.Hour)))

	list, err := db.ListPublished(models.NaturalGas)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 8.5, list[0].Value)
	assert.Equal(t, first, list[0].PublishedAt)
}

func TestListPublished_NewestFirst(t *testing.T) {
	db := openTestDB(t)
	at := time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

	for _, d := range []int{3, 5, 4} {
		record := models.UsageRecord{Date: models.NewDate(2021, 12, d), MinutesIncluded: 1440, Value: float64(d), Unit: models.KilowattHour}
		require.NoError(t, db.MarkPublished(models.Electricity, record, at))
	}

	list, err := db.ListPublished(models.Electricity)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, models.NewDate(2021, 12, 5), list[0].Date)
	assert.Equal(t, models.NewDate(2021, 12, 3), list[2].Date)
	assert.Equal(t, models.KilowattHour, list[0].Unit)
	assert.Equal(t, models.Electricity, list[0].Commodity)
}
