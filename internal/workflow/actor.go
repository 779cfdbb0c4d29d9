package workflow

import "github.com/google/uuid"

// Actor is the identity performing a workflow operation
type Actor struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	Groups      []string  `json:"groups,omitempty"`
	IsSuperuser bool      `json:"is_superuser"`
}

// InGroup reports whether the actor belongs to group
func (a Actor) InGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}
