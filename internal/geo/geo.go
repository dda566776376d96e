package geo

import (
	"math"
	"sync"

	"github.com/example/resq-relay/internal/models"
)

// Entry is one pending request position returned by a nearest query.
type Entry struct {
	RequestID string
	Location  models.Coord
	DistM     float64
}

// Index tracks the coordinates of pending rescue requests so responder
// tooling can query the closest open requests.
type Index interface {
	Upsert(requestID string, loc models.Coord)
	Remove(requestID string)
	Nearest(loc models.Coord, limit int) []Entry
}

type MemoryIndex struct {
	mu      sync.RWMutex
	pending map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{pending: make(map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(requestID string, loc models.Coord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[requestID] = loc
}

func (g *MemoryIndex) Remove(requestID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.pending, requestID)
}

// naive scan; in prod use geo-hash or H3
func (g *MemoryIndex) Nearest(loc models.Coord, limit int) []Entry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	arr := make([]Entry, 0, len(g.pending))
	for id, p := range g.pending {
		arr = append(arr, Entry{RequestID: id, Location: p, DistM: Haversine(loc.Lat, loc.Lng, p.Lat, p.Lng)})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].DistM < arr[minIdx].DistM {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	return arr[:n]
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
