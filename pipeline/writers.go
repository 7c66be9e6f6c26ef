package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alexwolson/toronto-streetview-count/models"
	"github.com/alexwolson/toronto-streetview-count/store"
)

// WritePanoramaCSV writes the deduplicated panorama table to a CSV file.
func WritePanoramaCSV(filename string, panos []models.Panorama) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	header := []string{"pano_id", "lat", "lon", "date", "copyright", "first_seen", "sample_count"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, pano := range panos {
		record := []string{
			pano.PanoID,
			strconv.FormatFloat(pano.Lat, 'f', 7, 64),
			strconv.FormatFloat(pano.Lon, 'f', 7, 64),
			pano.Date,
			pano.Copyright,
			pano.FirstSeen.Format(time.RFC3339),
			strconv.FormatInt(pano.SampleCount, 10),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return f.Close()
}

// WritePanoramaJSONL writes panoramas as newline-delimited JSON.
func WritePanoramaJSONL(filename string, panos []models.Panorama) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create json file: %w", err)
	}
	defer f.Close()

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	for _, pano := range panos {
		if err := encoder.Encode(pano); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}
	if err := buffer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return f.Close()
}

// WriteSamplePointCSV writes every sample point with its latest crawl outcome.
func WriteSamplePointCSV(filename string, results []store.SamplePointResult) error {
	if err := ensureDir(filename); err != nil {
		return err
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer f.Close()

	writer := csv.NewWriter(f)
	header := []string{"id", "lat", "lon", "road_id", "road_type", "status", "pano_id", "error_message"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, r := range results {
		record := []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatFloat(r.Lat, 'f', 7, 64),
			strconv.FormatFloat(r.Lon, 'f', 7, 64),
			r.RoadID,
			r.RoadType,
			r.Status,
			r.PanoID,
			r.ErrorMessage,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return f.Close()
}

// writeJSONFile marshals v with indentation into filename.
func writeJSONFile(filename string, v any) error {
	if err := ensureDir(filename); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(filename), err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(filename), err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
