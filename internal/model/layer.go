package model

import (
	"time"

	"github.com/twpayne/go-geom"
)

// LayerMeta describes a stored similarity layer.
type LayerMeta struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	RunID       string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Model       string    `json:"model" yaml:"model"`
	Metric      string    `json:"metric" yaml:"metric"`
	K           int       `json:"k,omitempty" yaml:"k,omitempty"`
	Columns     []string  `json:"columns" yaml:"columns"`
	Occurrences int       `json:"occurrences" yaml:"occurrences"`
	Rows        int       `json:"rows" yaml:"rows"`
	Min         float64   `json:"min" yaml:"min"`
	Max         float64   `json:"max" yaml:"max"`
	Mean        float64   `json:"mean" yaml:"mean"`
	Std         float64   `json:"std" yaml:"std"`
	OutOfRange  int       `json:"out_of_range" yaml:"out_of_range"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Cell is one row of a similarity layer. Coord is nil when the source
// table had no coordinates.
type Cell struct {
	Label string
	Coord geom.Coord
	Sim   float64
}

// Layer is a similarity layer with its cells in row order.
type Layer struct {
	LayerMeta
	Cells []Cell
}
