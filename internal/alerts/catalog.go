// Package alerts builds disaster alerts from the static guideline catalog.
package alerts

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/resq-relay/internal/models"
)

var ErrUnknownDisasterType = errors.New("unknown disaster type")

type entry struct {
	content    string
	guidelines []string
}

// catalog maps disaster type keys to their public summary and the flat,
// ordered guideline sequence broadcast with each alert.
var catalog = map[string]entry{
	"flood": {
		content: "Flood warning issued for the region",
		guidelines: []string{
			"Activate emergency response teams",
			"Evacuate low-lying areas",
			"Set up relief camps",
			"Coordinate with military forces",
		},
	},
	"earthquake": {
		content: "Earthquake response activated",
		guidelines: []string{
			"Inspect critical infrastructure for damage",
			"Deploy search and rescue units",
			"Establish triage points near affected zones",
			"Keep aftershock advisories broadcasting",
		},
	},
	"cyclone": {
		content: "Cyclone landfall expected",
		guidelines: []string{
			"Issue coastal evacuation orders",
			"Open storm shelters inland",
			"Suspend port and fishing operations",
			"Pre-position medical and food supplies",
		},
	},
}

// Builder assembles alerts with registry-assigned ids and issuance times.
type Builder struct {
	now   func() time.Time
	newID func() string
}

func NewBuilder() *Builder {
	return &Builder{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Build returns a new alert for the disaster type, or
// ErrUnknownDisasterType if the catalog has no entry for it.
func (b *Builder) Build(disasterType string) (models.Alert, error) {
	e, ok := catalog[disasterType]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %q", ErrUnknownDisasterType, disasterType)
	}
	guidelines := make([]string, len(e.guidelines))
	copy(guidelines, e.guidelines)
	return models.Alert{
		ID:           b.newID(),
		DisasterType: disasterType,
		Content:      e.content,
		Guidelines:   guidelines,
		IssuedAt:     b.now(),
	}, nil
}

// Known returns whether the catalog covers a disaster type.
func Known(disasterType string) bool {
	_, ok := catalog[disasterType]
	return ok
}
