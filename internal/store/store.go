// Package store persists modelling runs and similarity layers.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sdm-cli/internal/model"
)

// ErrNotFound is returned when a run or layer does not exist.
var ErrNotFound = eris.New("store: not found")

const defaultListLimit = 100

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	Species string          `json:"species,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// LayerFilter specifies criteria for listing layers.
type LayerFilter struct {
	RunID string `json:"run_id,omitempty"`
	Model string `json:"model,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for runs and layers.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, runErr string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Layers. SaveLayer replaces any layer with the same name.
	SaveLayer(ctx context.Context, layer *model.Layer) error
	GetLayer(ctx context.Context, name string) (*model.Layer, error)
	ListLayers(ctx context.Context, filter LayerFilter) ([]model.LayerMeta, error)
	DeleteLayer(ctx context.Context, name string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func validateLayer(l *model.Layer) error {
	if l == nil {
		return eris.New("store: nil layer")
	}
	if l.Name == "" {
		return eris.New("store: layer has no name")
	}
	return nil
}
