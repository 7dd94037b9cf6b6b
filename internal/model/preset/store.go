package preset

// Store is the catalogue of views. Each view is backed by one preset, and
// its ID is the {view} segment of every view route.
type Store interface {
	List() []Preset
	FindByID(id string) (Preset, bool)
}

// MemoryStore holds a fixed catalogue of views. It is read-only after
// construction, so it is safe for concurrent use.
type MemoryStore struct {
	order []string
	byID  map[string]Preset
}

// NewMemoryStore builds the catalogue from items. A later preset with the
// same view ID replaces an earlier one but keeps its position.
func NewMemoryStore(items []Preset) *MemoryStore {
	s := &MemoryStore{byID: make(map[string]Preset, len(items))}
	for _, p := range items {
		if _, seen := s.byID[p.ID]; !seen {
			s.order = append(s.order, p.ID)
		}
		s.byID[p.ID] = p
	}
	return s
}

// List returns the views in catalogue order.
func (s *MemoryStore) List() []Preset {
	out := make([]Preset, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// FindByID returns the preset behind a view route.
func (s *MemoryStore) FindByID(id string) (Preset, bool) {
	p, ok := s.byID[id]
	return p, ok
}
