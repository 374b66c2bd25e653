// Package project defines the Project entity grouping related runs.
package project

import "time"

// Project groups runs under a shared context. Runs without an explicit
// project land in the default project.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DefaultName is the name of the implicit project used when a run does not
// specify one.
const DefaultName = "default"
