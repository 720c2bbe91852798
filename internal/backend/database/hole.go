package database

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jo-hoe/buracos/internal/common"
)

// DefaultHoleTitle is stored when a submission carries no title.
const DefaultHoleTitle = "Buraco"

type Hole struct {
	ID           int64     `json:"id" db:"id"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description" db:"description"`
	Lat          float64   `json:"lat" db:"lat"`
	Lng          float64   `json:"lng" db:"lng"`
	Neighborhood string    `json:"neighborhood,omitempty" db:"neighborhood"`
	Image        string    `json:"image,omitempty" db:"image"` // stored filename in the upload directory
	OwnerID      *int64    `json:"owner_id,omitempty" db:"owner_id"`
	Concluded    bool      `json:"concluded" db:"concluded"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// NewHole carries the fields of a hole to be inserted. Lat and Lng are pointers
// so that a missing coordinate can be told apart from zero.
type NewHole struct {
	Title        string
	Description  string
	Lat          *float64
	Lng          *float64
	Neighborhood string
	Image        string
	OwnerID      *int64
}

type HoleFilter struct {
	IncludeConcluded bool
	// Neighborhood is matched as a case-insensitive substring; empty matches all.
	Neighborhood string
}

func (f HoleFilter) matches(h *Hole) bool {
	if !f.IncludeConcluded && h.Concluded {
		return false
	}
	if f.Neighborhood == "" {
		return true
	}
	if h.Neighborhood == "" {
		return false
	}
	return strings.Contains(strings.ToLower(h.Neighborhood), strings.ToLower(f.Neighborhood))
}

// ValidateCoordinates checks that both coordinates are present, finite and in range.
func ValidateCoordinates(lat, lng *float64) error {
	if lat == nil || lng == nil {
		return fmt.Errorf("%w: lat and lng are both required", common.ErrValidation)
	}
	if math.IsNaN(*lat) || math.IsInf(*lat, 0) || math.IsNaN(*lng) || math.IsInf(*lng, 0) {
		return fmt.Errorf("%w: lat and lng must be finite numbers", common.ErrValidation)
	}
	if *lat < -90 || *lat > 90 {
		return fmt.Errorf("%w: lat %v out of range [-90, 90]", common.ErrValidation, *lat)
	}
	if *lng < -180 || *lng > 180 {
		return fmt.Errorf("%w: lng %v out of range [-180, 180]", common.ErrValidation, *lng)
	}
	return nil
}
