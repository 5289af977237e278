// Package access holds the process-wide moderation policy. It is built once
// from configuration and passed explicitly to the components that consult
// it; there is no mutable global registry.
package access

// Policy answers whether an actor may perform destructive operations.
type Policy struct {
	admins map[string]struct{}
}

// New creates a policy from the configured admin membership list.
func New(adminIDs []string) *Policy {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Policy{admins: admins}
}

// IsAdmin reports whether the user belongs to the admin membership list.
func (p *Policy) IsAdmin(userID string) bool {
	_, ok := p.admins[userID]
	return ok
}

// CanDelete reports whether the actor may delete content authored by
// authorID: owners and admins only.
func (p *Policy) CanDelete(actorID, authorID string) bool {
	return actorID == authorID || p.IsAdmin(actorID)
}
