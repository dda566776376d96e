package registry

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/resq-relay/internal/models"
)

var ErrInvalidResource = errors.New("resource name and location are required")

// Resources is the append-only relief resource catalog. Ids are assigned
// here, not by clients, so uniqueness never depends on requester behavior.
type Resources struct {
	mu    sync.RWMutex
	items []models.Resource

	now   func() time.Time
	newID func() string
}

func NewResources() *Resources {
	return &Resources{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Add validates and registers a resource, returning the stored copy with its
// assigned id and timestamp.
func (r *Resources) Add(name, category, location string) (models.Resource, error) {
	name = strings.TrimSpace(name)
	location = strings.TrimSpace(location)
	if name == "" || location == "" {
		return models.Resource{}, ErrInvalidResource
	}
	if category = strings.TrimSpace(category); category == "" {
		category = "shelter"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	res := models.Resource{
		ID:       r.newID(),
		Name:     name,
		Category: category,
		Location: location,
		AddedAt:  r.now(),
	}
	r.items = append(r.items, res)
	return res, nil
}

// All returns the catalog in insertion order.
func (r *Resources) All() []models.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Resource, len(r.items))
	copy(out, r.items)
	return out
}
