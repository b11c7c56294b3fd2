package store

import (
	"sort"
	"sync"
	"time"

	"profilehub/internal/util"
	"profilehub/pkg/domain"
)

// MemoryStore keeps profiles in-process. It mirrors the transactional
// semantics of GormStore closely enough for service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	images   map[string][]domain.ProfileImage // profile ID -> rows
	events   []domain.ModerationEvent
	order    []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]domain.Profile),
		images:   make(map[string][]domain.ProfileImage),
	}
}

func (m *MemoryStore) GetProfile(id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return domain.Profile{}, false, nil
	}
	return m.withImages(p), true, nil
}

func (m *MemoryStore) GetCanonicalByOwner(ownerID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		p, ok := m.profiles[id]
		if ok && p.OwnerID == ownerID && !p.IsDraft {
			return m.withImages(p), true, nil
		}
	}
	return domain.Profile{}, false, nil
}

func (m *MemoryStore) HasProfileForOwner(ownerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if p.OwnerID == ownerID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetRevisionDraft(originalID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		p, ok := m.profiles[id]
		if ok && p.IsDraft && p.OriginalProfileID == originalID {
			return m.withImages(p), true, nil
		}
	}
	return domain.Profile{}, false, nil
}

func (m *MemoryStore) ListPublished() ([]domain.Profile, error) {
	return m.list(func(p domain.Profile) bool { return !p.IsDraft && p.Published })
}

func (m *MemoryStore) ListDrafts() ([]domain.Profile, error) {
	return m.list(func(p domain.Profile) bool { return p.IsDraft })
}

func (m *MemoryStore) list(keep func(domain.Profile) bool) ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Profile, 0)
	for _, id := range m.order {
		if p, ok := m.profiles[id]; ok && keep(p) {
			res = append(res, m.withImages(p))
		}
	}
	return res, nil
}

func (m *MemoryStore) SaveProfile(p domain.Profile, plan ImagePlan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.profiles[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	stored := p
	stored.Images = nil
	m.profiles[p.ID] = stored
	if plan.Touched {
		final := make([]domain.ProfileImage, len(plan.Final))
		copy(final, plan.Final)
		for i := range final {
			final[i].ProfileID = p.ID
		}
		m.images[p.ID] = final
	}
	return nil
}

func (m *MemoryStore) PromoteDraft(merged domain.Profile, draftID string) ([]domain.ProfileImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := m.images[merged.ID]
	repointed := m.images[draftID]
	for i := range repointed {
		repointed[i].ProfileID = merged.ID
	}
	m.images[merged.ID] = repointed
	delete(m.images, draftID)

	canonical := m.profiles[merged.ID]
	canonical.Name = merged.Name
	canonical.Age = merged.Age
	canonical.Price = merged.Price
	canonical.Description = merged.Description
	canonical.Address = merged.Address
	canonical.Latitude = merged.Latitude
	canonical.Longitude = merged.Longitude
	canonical.Tags = merged.Tags
	canonical.UpdatedAt = time.Now().UTC()
	m.profiles[merged.ID] = canonical

	m.deleteRow(draftID)
	return removed, nil
}

func (m *MemoryStore) DeleteProfileCascade(id string) ([]domain.ProfileImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []string{id}
	for _, p := range m.profiles {
		if p.IsDraft && p.OriginalProfileID == id {
			ids = append(ids, p.ID)
		}
	}
	var removed []domain.ProfileImage
	for _, pid := range ids {
		removed = append(removed, m.images[pid]...)
		delete(m.images, pid)
		m.deleteRow(pid)
	}
	return removed, nil
}

func (m *MemoryStore) SetPublished(id string, published bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil
	}
	p.Published = published
	p.UpdatedAt = time.Now().UTC()
	m.profiles[id] = p
	return nil
}

func (m *MemoryStore) CountImagesByMediumKey(key string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, rows := range m.images {
		for _, img := range rows {
			if img.Medium.StorageKey == key {
				count++
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) AppendModerationEvent(ev domain.ModerationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == "" {
		ev.ID = util.NewID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStore) ListModerationEvents(profileID string, limit int) ([]domain.ModerationEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}
	res := make([]domain.ModerationEvent, 0)
	for i := len(m.events) - 1; i >= 0 && len(res) < limit; i-- {
		if m.events[i].ProfileID == profileID {
			res = append(res, m.events[i])
		}
	}
	return res, nil
}

func (m *MemoryStore) deleteRow(id string) {
	delete(m.profiles, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *MemoryStore) withImages(p domain.Profile) domain.Profile {
	rows := m.images[p.ID]
	images := make([]domain.ProfileImage, len(rows))
	copy(images, rows)
	sort.SliceStable(images, func(i, j int) bool { return images[i].Position < images[j].Position })
	p.Images = images
	return p
}
