package repository

import "github.com/google/uuid"

// newID generates a v4 UUID for new rows. Centralized here so every
// repository shares one id strategy (the teacher hand-rolled its own UUID
// generator in internal/utils; this module uses google/uuid instead, the
// library the rest of the retrieved corpus already depends on for the same
// concern).
func newID() string {
	return uuid.NewString()
}
