package scraper

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/pkg/models"
)

// writeArchive builds a ZIP archive holding the given files
func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "export.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range files {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return path
}

func newTestExtractor() *Extractor {
	return NewExtractor(logging.Discard())
}

func TestExtract_ElectricFixture(t *testing.T) {
	archive := writeArchive(t, map[string]string{"usage_export.csv": intervalExport})

	records, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	require.NoError(t, err)

	assert.Equal(t, []models.UsageRecord{
		{Date: models.NewDate(2021, 12, 5), MinutesIncluded: 180, Value: 2.99, Unit: models.KilowattHour},
		{Date: models.NewDate(2021, 12, 6), MinutesIncluded: 150, Value: 1.31, Unit: models.KilowattHour},
	}, records)
}

func TestExtract_GasIsConvertedToCubicMeters(t *testing.T) {
	archive := writeArchive(t, map[string]string{"usage_export.csv": intervalExport})

	records, err := newTestExtractor().Extract(archive, NaturalGasUsageFilter, models.CubicFeet)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, models.CubicMeters, records[0].Unit)
	assert.Equal(t, models.Round2(3.00*2.83168), records[0].Value)
}

func TestExtract_CommoditiesDoNotLeak(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		"electric.csv": intervalExport,
		"gas.csv":      dailyExport,
	})
	e := newTestExtractor()

	electricity, err := e.Extract(archive, ElectricUsageFilter, models.KilowattHour)
	require.NoError(t, err)
	for _, r := range electricity {
		assert.Equal(t, models.KilowattHour, r.Unit)
	}

	gas, err := e.Extract(archive, NaturalGasUsageFilter, models.CubicFeet)
	require.NoError(t, err)
	for _, r := range gas {
		assert.Equal(t, models.CubicMeters, r.Unit)
	}
}

func TestExtract_MergesAcrossFilesAndSorts(t *testing.T) {
	archive := writeArchive(t, map[string]string{
		"b/interval.csv": intervalExport,
		"a/daily.csv":    dailyExport,
	})

	records, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, models.NewDate(2021, 12, 5), records[0].Date)
	assert.Equal(t, models.NewDate(2021, 12, 6), records[1].Date)
	// 2021-12-06 appears in both files: 1440 + 150 minutes, 30.5 + 1.31 kWh
	assert.Equal(t, 1590, records[1].MinutesIncluded)
	assert.Equal(t, 31.81, records[1].Value)
}

func TestExtract_NoDataFiles(t *testing.T) {
	archive := writeArchive(t, map[string]string{"readme.txt": "nothing here"})

	records, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestExtract_UppercaseExtension(t *testing.T) {
	archive := writeArchive(t, map[string]string{"USAGE.CSV": intervalExport})

	records, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestExtract_NotAnArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.zip")
	require.NoError(t, os.WriteFile(path, []byte("<html>session expired</html>"), 0o644))

	_, err := newTestExtractor().Extract(path, ElectricUsageFilter, models.KilowattHour)
	assert.Error(t, err)
}

func TestExtract_RejectsPathTraversal(t *testing.T) {
	archive := writeArchive(t, map[string]string{"../escape.csv": intervalExport})

	_, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	assert.Error(t, err)
}

func TestExtract_BrokenTitleFails(t *testing.T) {
	archive := writeArchive(t, map[string]string{"usage.csv": preamble + "WHAT,IS,THIS\n"})

	_, err := newTestExtractor().Extract(archive, ElectricUsageFilter, models.KilowattHour)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestExtractEnergyUsage(t *testing.T) {
	archive := writeArchive(t, map[string]string{"usage.csv": intervalExport})
	now := time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

	usage, err := newTestExtractor().ExtractEnergyUsage(archive, now)
	require.NoError(t, err)

	assert.Equal(t, now, usage.UpdateTimestamp)
	assert.Len(t, usage.Electricity, 2)
	require.Len(t, usage.NaturalGas, 1)
	assert.Equal(t, models.CubicMeters, usage.NaturalGas[0].Unit)
}
