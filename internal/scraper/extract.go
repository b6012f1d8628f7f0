package scraper

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jgoulah/pseusage/pkg/models"
)

const dataFileExt = ".csv"

// Extractor turns a downloaded usage export archive into daily usage records
type Extractor struct {
	logger logrus.FieldLogger
}

// NewExtractor creates an extractor that reports skipped rows to logger
func NewExtractor(logger logrus.FieldLogger) *Extractor {
	return &Extractor{logger: logger}
}

// ExtractEnergyUsage builds a snapshot of both commodities from one archive
func (e *Extractor) ExtractEnergyUsage(archivePath string, now time.Time) (models.EnergyUsage, error) {
	electricity, err := e.Extract(archivePath, ElectricUsageFilter, models.KilowattHour)
	if err != nil {
		return models.EnergyUsage{}, fmt.Errorf("extracting electricity: %w", err)
	}

	gas, err := e.Extract(archivePath, NaturalGasUsageFilter, models.CubicFeet)
	if err != nil {
		return models.EnergyUsage{}, fmt.Errorf("extracting natural gas: %w", err)
	}

	return models.EnergyUsage{
		UpdateTimestamp: now,
		Electricity:     electricity,
		NaturalGas:      gas,
	}, nil
}

// Extract returns the date-ordered, SI-normalized records matching filter.
// An archive without data files yields an empty sequence.
func (e *Extractor) Extract(archivePath, filter string, defaultUnit models.UnitOfMeasurement) ([]models.UsageRecord, error) {
	log := e.logger.WithField("filter", filter)
	log.Info("Reading usage archive")

	workDir, err := os.MkdirTemp("", "pse-usage-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	if err := unzip(archivePath, workDir); err != nil {
		return nil, err
	}

	files, err := findDataFiles(workDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		log.Warn("No data files in archive")
		return []models.UsageRecord{}, nil
	}

	byDate := make(map[models.Date]models.UsageRecord)
	for _, path := range files {
		name, _ := filepath.Rel(workDir, path)
		result, err := parseFile(path, filter, defaultUnit)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}

		for _, rowErr := range result.RowErrors {
			log.WithFields(logrus.Fields{
				"file": name,
				"line": rowErr.Line,
				"kind": rowErr.Kind.String(),
			}).WithError(rowErr.Err).Warn("Skipping usage row")
		}

		for _, r := range result.Records {
			if existing, ok := byDate[r.Date]; ok {
				r = existing.Merge(r)
			}
			byDate[r.Date] = r
		}
		log.WithFields(logrus.Fields{"file": name, "days": len(result.Records)}).Debug("Parsed usage file")
	}

	records := make([]models.UsageRecord, 0, len(byDate))
	for _, r := range byDate {
		records = append(records, r.ToSI())
	}
	sortByDate(records)

	return records, nil
}

func parseFile(path, filter string, defaultUnit models.UnitOfMeasurement) (ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return ParseResult{}, fmt.Errorf("opening usage file: %w", err)
	}
	defer f.Close()

	return ParseUsage(f, filter, defaultUnit)
}

// unzip extracts every entry of the archive into dir
func unzip(archivePath, dir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening ZIP: %w", err)
	}
	defer r.Close()

	root := filepath.Clean(dir) + string(os.PathSeparator)
	for _, f := range r.File {
		target := filepath.Join(dir, f.Name)
		if !strings.HasPrefix(target, root) {
			return fmt.Errorf("illegal path in ZIP: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}

		if err := extractFile(f, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening file in ZIP: %w", err)
	}
	defer rc.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}

	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}

	return out.Close()
}

// findDataFiles lists the delimited data files below dir in a stable order
func findDataFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), dataFileExt) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing extracted files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
