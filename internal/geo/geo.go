// Waymark - Personal Telemetry Enrichment and Stay Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/waymark

// Package geo provides the small amount of spherical geometry Waymark needs:
// great-circle distance, grid-cell snapping and bounding boxes.
//
// Grid cells are square in degrees, sized so that one side is roughly
// cellSizeKm at the equator (1 degree ≈ 111km). Cells get narrower in
// longitude towards the poles, which is acceptable for key bucketing.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0

	// KmPerDegree approximates one degree of latitude.
	KmPerDegree = 111.0
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Distance returns the haversine distance between two points in km.
func Distance(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Cell identifies one grid cell.
type Cell struct {
	X, Y int
}

// String renders the cell as "x:y". The form is hashed into cache keys and
// must stay stable.
func (c Cell) String() string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}

// CellDegrees converts a cell size in km to degrees.
func CellDegrees(cellSizeKm float64) float64 {
	return cellSizeKm / KmPerDegree
}

// CellOf snaps a coordinate to its grid cell.
func CellOf(p Point, cellSizeKm float64) Cell {
	deg := CellDegrees(cellSizeKm)
	lon := NormalizeLon(p.Lon)
	return Cell{
		X: int(math.Floor(lon / deg)),
		Y: int(math.Floor(p.Lat / deg)),
	}
}

// CellID is CellOf(...).String().
func CellID(lat, lon, cellSizeKm float64) string {
	return CellOf(Point{Lat: lat, Lon: lon}, cellSizeKm).String()
}

// Bounds returns the degree bounds of a cell: [MinLat, MaxLat) x [MinLon, MaxLon).
func (c Cell) Bounds(cellSizeKm float64) BBox {
	deg := CellDegrees(cellSizeKm)
	return BBox{
		MinLat: float64(c.Y) * deg,
		MaxLat: float64(c.Y+1) * deg,
		MinLon: float64(c.X) * deg,
		MaxLon: float64(c.X+1) * deg,
	}
}

// NormalizeLon wraps a longitude into [-180, 180].
func NormalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}

// BBox is a latitude/longitude rectangle. A box that crosses the
// antimeridian has MinLon > MaxLon and covers [MinLon, 180] and
// [-180, MaxLon].
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Around returns a box that contains every point within radiusKm of p.
// It is a prefilter; callers still check Distance.
func Around(p Point, radiusKm float64) BBox {
	dLat := radiusKm / KmPerDegree
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	dLon := 180.0
	// A circle reaching a pole spans every longitude.
	if cosLat > 1e-9 && p.Lat+dLat < 90 && p.Lat-dLat > -90 {
		dLon = math.Min(180, radiusKm/(KmPerDegree*cosLat))
	}

	box := BBox{
		MinLat: math.Max(-90, p.Lat-dLat),
		MaxLat: math.Min(90, p.Lat+dLat),
		MinLon: -180,
		MaxLon: 180,
	}
	if dLon < 180 {
		lon := NormalizeLon(p.Lon)
		box.MinLon = NormalizeLon(lon - dLon)
		box.MaxLon = NormalizeLon(lon + dLon)
	}
	return box
}

// CrossesAntimeridian reports whether the box wraps around lon ±180.
func (b BBox) CrossesAntimeridian() bool {
	return b.MinLon > b.MaxLon
}

// LonRanges returns the box's longitude span as one or two closed ranges.
func (b BBox) LonRanges() [][2]float64 {
	if b.CrossesAntimeridian() {
		return [][2]float64{{b.MinLon, 180}, {-180, b.MaxLon}}
	}
	return [][2]float64{{b.MinLon, b.MaxLon}}
}

// Contains reports whether p lies inside the box (inclusive).
func (b BBox) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	lon := NormalizeLon(p.Lon)
	for _, r := range b.LonRanges() {
		if lon >= r[0] && lon <= r[1] {
			return true
		}
	}
	return false
}
