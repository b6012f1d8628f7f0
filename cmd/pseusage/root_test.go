package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/internal/config"
	"github.com/jgoulah/pseusage/pkg/models"
)

func TestParseCommodities(t *testing.T) {
	all, err := parseCommodities("")
	require.NoError(t, err)
	assert.Equal(t, []models.Commodity{models.Electricity, models.NaturalGas}, all)

	gas, err := parseCommodities("natural_gas")
	require.NoError(t, err)
	assert.Equal(t, []models.Commodity{models.NaturalGas}, gas)

	_, err = parseCommodities("water")
	assert.ErrorContains(t, err, "unknown commodity")
}

func TestGetDBPath(t *testing.T) {
	cfg := &config.Config{DataDir: "/var/lib/pse"}
	assert.Equal(t, filepath.Join("/var/lib/pse", "published.db"), getDBPath(cfg))

	dbPath = "/tmp/other.db"
	t.Cleanup(func() { dbPath = "" })
	assert.Equal(t, "/tmp/other.db", getDBPath(cfg))
}
