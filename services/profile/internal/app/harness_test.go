package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"profilehub/internal/imaging"
	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/pkg/store"
)

// fakePipeline renders nothing; it hands out deterministic key trios and
// records which medium keys were deleted.
type fakePipeline struct {
	mu         sync.Mutex
	uploads    int
	deleted    []string
	failAfter  int // fail the Nth upload (1-based); 0 means never fail
	failDelete map[string]bool
}

func (f *fakePipeline) ProcessUpload(_ context.Context, _ []byte) (imaging.Rendered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.failAfter > 0 && f.uploads >= f.failAfter {
		return imaging.Rendered{}, fmt.Errorf("upload %d failed", f.uploads)
	}
	base := fmt.Sprintf("profiles/up%d", f.uploads)
	return imaging.Rendered{
		Thumbnail: fakeVariant(base + "_thumb.jpg"),
		Medium:    fakeVariant(base + "_med.jpg"),
		High:      fakeVariant(base + "_high.jpg"),
	}, nil
}

func (f *fakePipeline) DeleteImage(_ context.Context, mediumKey string) imaging.DeleteResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete[mediumKey] {
		return imaging.DeleteResult{Failed: []string{mediumKey}}
	}
	f.deleted = append(f.deleted, mediumKey)
	return imaging.DeleteResult{Deleted: []string{mediumKey}}
}

func (f *fakePipeline) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func fakeVariant(key string) domain.ImageVariant {
	return domain.ImageVariant{
		URL:        "http://minio.local/" + key,
		CDNURL:     "http://cdn.local/" + key,
		StorageKey: key,
	}
}

// fakeCleanup records keys parked for retry.
type fakeCleanup struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeCleanup) Enqueue(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
	return nil
}

// promoteHidingStore drops the canonical row right after a promote commits,
// simulating a concurrent delete between commit and reload.
type promoteHidingStore struct {
	store.Store
}

func (s *promoteHidingStore) PromoteDraft(merged domain.Profile, draftID string) ([]domain.ProfileImage, error) {
	removed, err := s.Store.PromoteDraft(merged, draftID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.DeleteProfileCascade(merged.ID); err != nil {
		return nil, err
	}
	return removed, nil
}

func newTestApp() (*App, *store.MemoryStore, *fakePipeline, *fakeCleanup) {
	st := store.NewMemoryStore()
	pipe := &fakePipeline{}
	cleanup := &fakeCleanup{}
	return &App{store: st, pipeline: pipe, cleanup: cleanup}, st, pipe, cleanup
}

func validInput(name string) ProfileInput {
	return ProfileInput{
		Name:        name,
		Age:         25,
		Price:       200,
		Description: "evening availability",
		Address:     "Kreuzberg, Berlin",
		Latitude:    52.49,
		Longitude:   13.42,
		Tags:        domain.Tags{Languages: []string{"de", "en"}},
	}
}

// seedProfile writes a profile row with images directly into the store.
func seedProfile(st *store.MemoryStore, p domain.Profile, mediumKeys ...string) domain.Profile {
	if p.ID == "" {
		p.ID = util.NewID()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	images := make([]domain.ProfileImage, 0, len(mediumKeys))
	for i, key := range mediumKeys {
		images = append(images, seedImage(p.ID, key, i))
	}
	if err := st.SaveProfile(p, store.ImagePlan{Touched: true, Final: images}); err != nil {
		panic(err)
	}
	p.Images = images
	return p
}

func seedImage(profileID, mediumKey string, position int) domain.ProfileImage {
	base := mediumKey[:len(mediumKey)-len("_med.jpg")]
	return domain.ProfileImage{
		ID:        util.NewID(),
		ProfileID: profileID,
		Thumbnail: fakeVariant(base + "_thumb.jpg"),
		Medium:    fakeVariant(mediumKey),
		High:      fakeVariant(base + "_high.jpg"),
		Position:  position,
		CreatedAt: time.Now().UTC(),
	}
}

func keepRef(mediumKey string, position int) ImageRef {
	return ImageRef{ExistingKey: mediumKey, Position: position}
}

func newRef(slot, position int) ImageRef {
	return ImageRef{IsNew: true, UploadSlot: slot, Position: position}
}

func mediumKeys(images []domain.ProfileImage) []string {
	keys := make([]string, 0, len(images))
	for _, img := range images {
		keys = append(keys, img.Medium.StorageKey)
	}
	return keys
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

var (
	owner = domain.Identity{UserID: "user-1", Role: domain.RoleUser}
	other = domain.Identity{UserID: "user-2", Role: domain.RoleUser}
	admin = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}
)
