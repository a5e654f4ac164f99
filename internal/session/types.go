package session

// ListResponse is the payload of the gateway sessions listing.
type ListResponse struct {
	Active          int        `json:"active"`
	InactivityTTLMS int64      `json:"inactivity_ttl_ms"`
	Sessions        []*Session `json:"sessions"`
}

// Snapshot builds a ListResponse from the manager's current state.
func (m *Manager) Snapshot() ListResponse {
	sessions := m.List()
	active := 0
	for _, s := range sessions {
		if s.Status == StatusActive {
			active++
		}
	}
	return ListResponse{
		Active:          active,
		InactivityTTLMS: m.inactivityTimeout.Milliseconds(),
		Sessions:        sessions,
	}
}
