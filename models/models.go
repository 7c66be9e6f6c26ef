// Package models defines the data structures shared across the pipeline.
package models

import (
	"fmt"
	"time"

	"github.com/mitroadmaps/gomapinfer/common"
)

// Sample point lifecycle statuses.
const (
	StatusPending = "pending"
	StatusQueried = "queried"
	StatusFailed  = "failed"
)

// BBox is a geographic bounding box in WGS84 degrees.
type BBox struct {
	MinLon float64 `json:"min_lon" yaml:"min_lon"`
	MinLat float64 `json:"min_lat" yaml:"min_lat"`
	MaxLon float64 `json:"max_lon" yaml:"max_lon"`
	MaxLat float64 `json:"max_lat" yaml:"max_lat"`
}

// Validate ensures min < max on both axes.
func (b BBox) Validate() error {
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("bbox: min_lon (%v) must be less than max_lon (%v)", b.MinLon, b.MaxLon)
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("bbox: min_lat (%v) must be less than max_lat (%v)", b.MinLat, b.MaxLat)
	}
	return nil
}

// Contains reports whether the lon/lat coordinate lies inside the box.
func (b BBox) Contains(lon, lat float64) bool {
	return lon >= b.MinLon && lon <= b.MaxLon && lat >= b.MinLat && lat <= b.MaxLat
}

// TorontoBBox covers the City of Toronto.
var TorontoBBox = BBox{
	MinLon: -79.6393,
	MinLat: 43.5810,
	MaxLon: -79.1156,
	MaxLat: 43.8555,
}

// RoadSegment is a road centreline in projected (metric) coordinates.
// Segments only live between loading and densification; they are never
// persisted.
type RoadSegment struct {
	SourceID string
	RoadType string
	Points   []common.Point
}

// SamplePoint is a coordinate along a road centreline at which imagery
// coverage is probed. IDs are assigned sequentially during densification and
// are stable across runs of the same input.
type SamplePoint struct {
	ID        int64     `json:"id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	RoadID    string    `json:"road_id,omitempty"`
	RoadType  string    `json:"road_type,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// MetadataResponse is one crawl attempt for a sample point. The responses
// table is an append-only log: every attempt adds a row, nothing is upserted.
type MetadataResponse struct {
	SampleID     int64     `json:"sample_id"`
	Status       string    `json:"status"`
	PanoID       string    `json:"pano_id,omitempty"`
	Lat          float64   `json:"lat,omitempty"`
	Lon          float64   `json:"lon,omitempty"`
	Date         string    `json:"date,omitempty"`
	Copyright    string    `json:"copyright,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	QueriedAt    time.Time `json:"queried_at"`
}

// Panorama is a unique imagery asset. SampleCount records how many sample
// points reported it; the row count of the panoramas table is the final
// deduplicated coverage number.
type Panorama struct {
	PanoID      string    `json:"pano_id"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Date        string    `json:"date,omitempty"`
	Copyright   string    `json:"copyright,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	SampleCount int64     `json:"sample_count"`
}

// ProcessingStats aggregates pipeline counters. It is a derived view:
// everything here is recomputable from the store at any time.
type ProcessingStats struct {
	TotalSamplePoints  int64     `json:"total_sample_points"`
	PointsQueried      int64     `json:"points_queried"`
	PointsFailed       int64     `json:"points_failed"`
	UniquePanoramas    int64     `json:"unique_panoramas"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	StartTime          time.Time `json:"start_time,omitempty"`
	EndTime            time.Time `json:"end_time,omitempty"`
}

// Duration returns the elapsed crawl time, or zero when either bound is unset.
func (s ProcessingStats) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// SuccessRate returns the percentage of sample points queried successfully.
func (s ProcessingStats) SuccessRate() float64 {
	if s.TotalSamplePoints == 0 {
		return 0
	}
	return float64(s.PointsQueried) / float64(s.TotalSamplePoints) * 100
}
