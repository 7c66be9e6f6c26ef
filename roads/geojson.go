package roads

import (
	"encoding/json"
	"fmt"
	"os"
)

// Minimal GeoJSON decoding for the two dataset shapes the pipeline consumes:
// a boundary of (Multi)Polygons and a centreline of (Multi)LineStrings.
// Coordinates are decoded loosely so a trailing elevation value is tolerated.

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string          `json:"type"`
	Properties map[string]any  `json:"properties"`
	Geometry   geometry        `json:"geometry"`
	ID         json.RawMessage `json:"id,omitempty"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func readFeatureCollection(path string) (*featureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	var fc featureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse geojson %s: %w", path, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("geojson %s: expected FeatureCollection, got %q", path, fc.Type)
	}
	return &fc, nil
}

// lineStrings returns the geometry as a list of lon/lat polylines. A
// LineString yields one entry, a MultiLineString one per part.
func (g geometry) lineStrings() ([][][2]float64, error) {
	switch g.Type {
	case "LineString":
		var raw [][]float64
		if err := json.Unmarshal(g.Coordinates, &raw); err != nil {
			return nil, fmt.Errorf("decode LineString: %w", err)
		}
		line, err := toLonLat(raw)
		if err != nil {
			return nil, err
		}
		return [][][2]float64{line}, nil
	case "MultiLineString":
		var raw [][][]float64
		if err := json.Unmarshal(g.Coordinates, &raw); err != nil {
			return nil, fmt.Errorf("decode MultiLineString: %w", err)
		}
		lines := make([][][2]float64, 0, len(raw))
		for _, part := range raw {
			line, err := toLonLat(part)
			if err != nil {
				return nil, err
			}
			lines = append(lines, line)
		}
		return lines, nil
	default:
		return nil, fmt.Errorf("unsupported line geometry type %q", g.Type)
	}
}

// polygonRings returns the geometry as a list of lon/lat rings. Interior
// rings (holes) are included; Polygon and MultiPolygon are both accepted.
func (g geometry) polygonRings() ([][][2]float64, error) {
	switch g.Type {
	case "Polygon":
		var raw [][][]float64
		if err := json.Unmarshal(g.Coordinates, &raw); err != nil {
			return nil, fmt.Errorf("decode Polygon: %w", err)
		}
		return ringsToLonLat(raw)
	case "MultiPolygon":
		var raw [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &raw); err != nil {
			return nil, fmt.Errorf("decode MultiPolygon: %w", err)
		}
		var rings [][][2]float64
		for _, poly := range raw {
			converted, err := ringsToLonLat(poly)
			if err != nil {
				return nil, err
			}
			rings = append(rings, converted...)
		}
		return rings, nil
	default:
		return nil, fmt.Errorf("unsupported polygon geometry type %q", g.Type)
	}
}

func toLonLat(raw [][]float64) ([][2]float64, error) {
	out := make([][2]float64, len(raw))
	for i, c := range raw {
		if len(c) < 2 {
			return nil, fmt.Errorf("coordinate %d has %d values, want at least 2", i, len(c))
		}
		out[i] = [2]float64{c[0], c[1]}
	}
	return out, nil
}

func ringsToLonLat(raw [][][]float64) ([][][2]float64, error) {
	rings := make([][][2]float64, 0, len(raw))
	for _, ring := range raw {
		converted, err := toLonLat(ring)
		if err != nil {
			return nil, err
		}
		rings = append(rings, converted)
	}
	return rings, nil
}

// stringProperty fetches a property under any of the given keys, tolerating
// numeric values the portal sometimes emits for identifier columns.
func stringProperty(props map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := props[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		case json.Number:
			return v.String()
		}
	}
	return ""
}
