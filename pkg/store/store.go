package store

import "profilehub/pkg/domain"

// ImagePlan is the outcome of image-set reconciliation, applied to the
// relational store inside the same transaction as the rest of the profile
// mutation. When Touched is false the persisted image set is left alone.
type ImagePlan struct {
	Touched bool
	// Final is the full surviving image set: kept rows with renormalized
	// positions plus freshly materialized uploads. Row IDs and ProfileID are
	// assigned by the reconciler.
	Final []domain.ProfileImage
	// Removed are existing rows dropped by the reconciliation. Their blob
	// cleanup happens after the transaction commits.
	Removed []domain.ProfileImage
}

// KeepAll returns a plan that leaves the persisted image set untouched.
func KeepAll() ImagePlan {
	return ImagePlan{}
}

// Store defines transactional persistence for profiles, their image rows,
// tag associations, and the moderation audit trail. Multi-row operations run
// in a single database transaction.
type Store interface {
	GetProfile(id string) (domain.Profile, bool, error)
	GetCanonicalByOwner(ownerID string) (domain.Profile, bool, error)
	HasProfileForOwner(ownerID string) (bool, error)
	// GetRevisionDraft returns the pending draft whose OriginalProfileID is
	// the given canonical id.
	GetRevisionDraft(originalID string) (domain.Profile, bool, error)
	ListPublished() ([]domain.Profile, error)
	ListDrafts() ([]domain.Profile, error)

	// SaveProfile upserts scalar fields, replaces every tag category
	// wholesale, and applies the image plan, all in one transaction.
	SaveProfile(p domain.Profile, plan ImagePlan) error

	// PromoteDraft merges an approved revision draft into its canonical row:
	// overwrite scalars and tags with the merged content, delete the
	// canonical's prior image rows, re-point the draft's image rows at the
	// canonical id, and delete the draft row. Returns the canonical's removed
	// image rows for blob cleanup.
	PromoteDraft(merged domain.Profile, draftID string) ([]domain.ProfileImage, error)

	// DeleteProfileCascade removes the row, any drafts referencing it, and
	// all their images and tag joins. Returns every removed image row.
	DeleteProfileCascade(id string) ([]domain.ProfileImage, error)

	SetPublished(id string, published bool) error

	// CountImagesByMediumKey reports how many image rows still reference a
	// medium storage key. Blobs are only deleted once this reaches zero.
	CountImagesByMediumKey(key string) (int64, error)

	AppendModerationEvent(ev domain.ModerationEvent) error
	ListModerationEvents(profileID string, limit int) ([]domain.ModerationEvent, error)
}
