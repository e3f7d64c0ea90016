// Package ids generates opaque identifiers for tasks that omit one.
package ids

import "github.com/google/uuid"

// NewTaskID returns a new random task identifier.
func NewTaskID() string {
	return uuid.New().String()
}
