package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/pkg/store"
)

// ImageRef is one entry of the client-submitted image ordering: either a kept
// existing image (by medium storage key) or a new upload (by slot index).
// Position is only a sort key; final positions are assigned server-side.
type ImageRef struct {
	ExistingKey string `json:"existing,omitempty"`
	UploadSlot  int    `json:"new,omitempty"`
	IsNew       bool   `json:"-"`
	Position    int    `json:"position"`
}

// ImageSubmission is the image part of a create/update call. Touched
// distinguishes "the user never opened the image widget" from "the user
// intentionally cleared all images": an untouched submission leaves the
// persisted set alone, whatever Order contains.
type ImageSubmission struct {
	Touched bool
	Order   []ImageRef
	Uploads map[int][]byte
}

// reconcileImages merges the submitted ordering against the image sets into
// an ImagePlan plus the list of freshly materialized rows (for rollback).
//
// existing are rows persisted on the target profile: referenced ones are
// kept, unreferenced ones are removed. phantom are rows of another profile
// the client may reference (the canonical's images when editing through a
// revision draft): a referenced phantom becomes a fresh row on the target
// sharing the same blobs, an unreferenced phantom is simply not copied and
// never removed, since its row belongs to the other profile.
//
// Blob uploads for new images happen here, before the relational transaction
// opens; if any upload fails, blobs already created in this pass are removed
// and the whole call fails.
func (a *App) reconcileImages(ctx context.Context, existing, phantom []domain.ProfileImage, targetID string, sub ImageSubmission) (store.ImagePlan, []domain.ProfileImage, error) {
	if !sub.Touched {
		return store.KeepAll(), nil, nil
	}

	byKey := make(map[string]domain.ProfileImage, len(existing))
	for _, img := range existing {
		byKey[img.Medium.StorageKey] = img
	}
	phantomByKey := make(map[string]domain.ProfileImage, len(phantom))
	for _, img := range phantom {
		if _, dup := byKey[img.Medium.StorageKey]; !dup {
			phantomByKey[img.Medium.StorageKey] = img
		}
	}

	type slot struct {
		img     domain.ProfileImage
		sortKey int
		seq     int
	}
	merged := make([]slot, 0, len(sub.Order))
	referenced := make(map[string]bool)
	var created []domain.ProfileImage

	cleanup := func() {
		for _, img := range created {
			a.pipeline.DeleteImage(ctx, img.Medium.StorageKey)
		}
	}

	for seq, ref := range sub.Order {
		if ref.IsNew {
			raw, ok := sub.Uploads[ref.UploadSlot]
			if !ok {
				cleanup()
				verr := &ValidationError{}
				verr.add("images", fmt.Sprintf("missing upload for slot %d", ref.UploadSlot))
				return store.ImagePlan{}, nil, verr
			}
			rendered, err := a.pipeline.ProcessUpload(ctx, raw)
			if err != nil {
				cleanup()
				return store.ImagePlan{}, nil, &StorageError{Err: err}
			}
			img := domain.ProfileImage{
				ID:        util.NewID(),
				ProfileID: targetID,
				Thumbnail: rendered.Thumbnail,
				Medium:    rendered.Medium,
				High:      rendered.High,
				CreatedAt: time.Now().UTC(),
			}
			created = append(created, img)
			merged = append(merged, slot{img: img, sortKey: ref.Position, seq: seq})
			continue
		}

		img, ok := byKey[ref.ExistingKey]
		if ok {
			referenced[ref.ExistingKey] = true
		} else {
			img, ok = phantomByKey[ref.ExistingKey]
			if !ok {
				cleanup()
				verr := &ValidationError{}
				verr.add("images", fmt.Sprintf("unknown image %q", ref.ExistingKey))
				return store.ImagePlan{}, nil, verr
			}
			// Copy-on-keep: a fresh row on the target, same blobs.
			img.ID = util.NewID()
			img.CreatedAt = time.Now().UTC()
		}
		img.ProfileID = targetID
		merged = append(merged, slot{img: img, sortKey: ref.Position, seq: seq})
	}

	// Client positions are a sort key only; ties resolve by submission order.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].sortKey != merged[j].sortKey {
			return merged[i].sortKey < merged[j].sortKey
		}
		return merged[i].seq < merged[j].seq
	})

	plan := store.ImagePlan{Touched: true}
	for i, s := range merged {
		s.img.Position = i
		plan.Final = append(plan.Final, s.img)
	}
	for _, img := range existing {
		if !referenced[img.Medium.StorageKey] {
			plan.Removed = append(plan.Removed, img)
		}
	}
	return plan, created, nil
}

// cleanRemovedBlobs deletes the blob trios of removed image rows after the
// transaction committed. A blob is only deleted once no row references its
// medium key anymore; delete failures are parked on the cleanup queue.
func (a *App) cleanRemovedBlobs(ctx context.Context, removed []domain.ProfileImage) {
	seen := make(map[string]bool, len(removed))
	for _, img := range removed {
		key := img.Medium.StorageKey
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		count, err := a.store.CountImagesByMediumKey(key)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("blob refcount check failed", "key", key, "err", err)
			continue
		}
		if count > 0 {
			// Still referenced by a surviving row (shared between a draft and
			// its canonical); the blob stays.
			continue
		}
		res := a.pipeline.DeleteImage(ctx, key)
		if len(res.Failed) > 0 {
			a.parkFailedDeletes(ctx, res.Failed)
		}
	}
}

// rollbackCreatedBlobs removes blobs uploaded for a mutation whose relational
// commit failed, so nothing references them and nothing leaks.
func (a *App) rollbackCreatedBlobs(ctx context.Context, created []domain.ProfileImage) {
	for _, img := range created {
		res := a.pipeline.DeleteImage(ctx, img.Medium.StorageKey)
		if len(res.Failed) > 0 {
			a.parkFailedDeletes(ctx, res.Failed)
		}
	}
}

func (a *App) parkFailedDeletes(ctx context.Context, keys []string) {
	if a.cleanup == nil {
		return
	}
	if err := a.cleanup.Enqueue(ctx, keys...); err != nil {
		util.LoggerFromContext(ctx).Error("parking orphaned blobs failed", "keys", keys, "err", err)
	}
}
