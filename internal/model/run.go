// Package model holds the records persisted by the layer store.
package model

import "time"

// RunStatus represents the current state of a modelling run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run represents a single invocation of the modelling pipeline.
type Run struct {
	ID        string    `json:"id" yaml:"id"`
	Species   string    `json:"species,omitempty" yaml:"species,omitempty"`
	Input     string    `json:"input" yaml:"input"`
	Models    []string  `json:"models" yaml:"models"`
	Status    RunStatus `json:"status" yaml:"status"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool {
	return r.Status == RunStatusComplete || r.Status == RunStatusFailed
}
