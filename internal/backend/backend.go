// Package backend implements the per-provider calendar normalizers. Each
// backend converts one provider's raw records into the canonical
// model.Event schema for a requested time window.
package backend

import (
	"context"
	"time"

	"github.com/pschmitt/jcalapi/internal/model"
)

// Backend is the uniform normalization interface all providers implement.
// Events never fails on a single bad record; malformed records are logged
// and skipped, and a failing calendar yields an empty contribution without
// aborting its siblings.
type Backend interface {
	Name() model.Provider
	Events(ctx context.Context, window model.Window) ([]model.Event, error)
}

// fetchTimeout bounds every provider HTTP call.
const fetchTimeout = 10 * time.Second

// localLocation resolves an IANA timezone name, falling back to the system
// timezone when the name is empty or unknown.
func localLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}
