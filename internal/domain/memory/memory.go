// Package memory defines long-lived user memory items saved by runs or
// directly through the API.
package memory

import "time"

// Item is one saved memory: a durable fact or preference about the user,
// searchable by text and tags.
type Item struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveRequest holds the fields needed to persist a memory item.
type SaveRequest struct {
	RunID   string   `json:"run_id,omitempty"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}
