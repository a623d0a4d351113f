package geo

import (
	"math"
	"sync"

	"github.com/mmcloughlin/geohash"
)

// cellPrecisions are the geohash lengths drivers are bucketed at, finest first.
var cellPrecisions = []uint{6, 5, 4, 3, 2}

// CellIndex is an in-memory geohash grid. A radius query scans the 3x3 block of
// cells around the center at the finest precision that fully contains the
// search circle and falls back to a linear scan otherwise.
type CellIndex struct {
	mu     sync.RWMutex
	points map[string]Point
	cells  map[uint]map[string]map[string]struct{}
}

func NewCellIndex() *CellIndex {
	cells := make(map[uint]map[string]map[string]struct{}, len(cellPrecisions))
	for _, p := range cellPrecisions {
		cells[p] = make(map[string]map[string]struct{})
	}
	return &CellIndex{
		points: make(map[string]Point),
		cells:  cells,
	}
}

func (g *CellIndex) Upsert(driverID string, p Point) error {
	if err := p.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.points[driverID]; ok {
		g.unlinkLocked(driverID, old)
	}
	g.points[driverID] = p
	for _, prec := range cellPrecisions {
		cell := geohash.EncodeWithPrecision(p.Lat, p.Lng, prec)
		bucket := g.cells[prec][cell]
		if bucket == nil {
			bucket = make(map[string]struct{})
			g.cells[prec][cell] = bucket
		}
		bucket[driverID] = struct{}{}
	}
	return nil
}

func (g *CellIndex) Remove(driverID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if old, ok := g.points[driverID]; ok {
		g.unlinkLocked(driverID, old)
		delete(g.points, driverID)
	}
	return nil
}

func (g *CellIndex) unlinkLocked(driverID string, p Point) {
	for _, prec := range cellPrecisions {
		cell := geohash.EncodeWithPrecision(p.Lat, p.Lng, prec)
		if bucket, ok := g.cells[prec][cell]; ok {
			delete(bucket, driverID)
			if len(bucket) == 0 {
				delete(g.cells[prec], cell)
			}
		}
	}
}

// Len reports the number of indexed drivers.
func (g *CellIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.points)
}

// Within returns every indexed driver within radiusKM of center, nearest first.
func (g *CellIndex) Within(center Point, radiusKM float64) ([]Candidate, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Candidate
	collect := func(id string) {
		p := g.points[id]
		if dist := DistanceKM(center, p); dist <= radiusKM {
			out = append(out, Candidate{ID: id, DistanceKM: dist})
		}
	}

	prec, ok := precisionFor(center, radiusKM)
	if !ok {
		for id := range g.points {
			collect(id)
		}
		SortCandidates(out)
		return out, nil
	}

	cell := geohash.EncodeWithPrecision(center.Lat, center.Lng, prec)
	seen := make(map[string]struct{}, 9)
	for _, c := range append(geohash.Neighbors(cell), cell) {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		for id := range g.cells[prec][c] {
			collect(id)
		}
	}
	SortCandidates(out)
	return out, nil
}

// precisionFor picks the finest precision whose 3x3 cell block contains the
// whole search circle. It reports false when no bucketed precision does, which
// includes circles crossing a pole or the antimeridian.
func precisionFor(center Point, radiusKM float64) (uint, bool) {
	angular := radiusKM / earthRadiusKM
	dLat := toDegrees(angular)
	if center.Lat+dLat >= 90 || center.Lat-dLat <= -90 {
		return 0, false
	}
	s := math.Sin(angular) / math.Cos(toRadians(center.Lat))
	if s >= 1 {
		return 0, false
	}
	dLng := toDegrees(math.Asin(s))
	if center.Lng+dLng > 180 || center.Lng-dLng < -180 {
		return 0, false
	}

	for _, prec := range cellPrecisions {
		box := geohash.BoundingBox(geohash.EncodeWithPrecision(center.Lat, center.Lng, prec))
		h := box.MaxLat - box.MinLat
		w := box.MaxLng - box.MinLng
		if center.Lat+dLat <= box.MaxLat+h && center.Lat-dLat >= box.MinLat-h &&
			center.Lng+dLng <= box.MaxLng+w && center.Lng-dLng >= box.MinLng-w {
			return prec, true
		}
	}
	return 0, false
}
