package app

import (
	"context"
	"fmt"
	"time"

	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/pkg/store"
)

// Moderation actions recorded in the audit trail.
const (
	actionAcceptSubmission = "accept_submission"
	actionApproveRevision  = "approve_revision"
	actionReject           = "reject"
	actionDelete           = "delete"
	actionSetPublished     = "set_published"
)

// ApproveRevision merges a revision draft into its canonical profile: the
// draft's fields, tags, and images overwrite the canonical content, the
// canonical's prior images are removed, and the draft disappears. Visibility
// of the canonical row is preserved; approval changes content, not
// visibility.
func (a *App) ApproveRevision(ctx context.Context, actor domain.Identity, draftID string) (domain.Profile, error) {
	draft, err := a.loadDraft(actor, draftID)
	if err != nil {
		return domain.Profile{}, err
	}
	state := domain.StateOf(draft)
	if state.Kind != domain.StateDraftRevision {
		// A first submission has no original to merge into; it is accepted
		// through AcceptSubmission instead.
		return domain.Profile{}, &StateError{Op: "approve", State: state.Kind}
	}
	canonical, ok, err := a.store.GetProfile(state.OriginalID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}

	merged := canonical
	merged.Name = draft.Name
	merged.Age = draft.Age
	merged.Price = draft.Price
	merged.Description = draft.Description
	merged.Address = draft.Address
	merged.Latitude = draft.Latitude
	merged.Longitude = draft.Longitude
	merged.Tags = draft.Tags

	removed, err := a.store.PromoteDraft(merged, draft.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("promote draft: %w", err)
	}
	a.cleanRemovedBlobs(ctx, removed)
	a.recordEvent(ctx, canonical.ID, actor, actionApproveRevision, map[string]string{"draftId": draft.ID})

	result, ok, err := a.store.GetProfile(canonical.ID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("reload canonical: %w", err)
	}
	if !ok {
		return domain.Profile{}, fmt.Errorf("canonical %s missing after promote", canonical.ID)
	}
	return result, nil
}

// AcceptSubmission turns a first-time submission into the owner's canonical
// published profile. This is deliberately a distinct operation from
// ApproveRevision: there is no original to merge into.
func (a *App) AcceptSubmission(ctx context.Context, actor domain.Identity, draftID string) (domain.Profile, error) {
	draft, err := a.loadDraft(actor, draftID)
	if err != nil {
		return domain.Profile{}, err
	}
	state := domain.StateOf(draft)
	if state.Kind != domain.StateDraftNew {
		return domain.Profile{}, &StateError{Op: "accept", State: state.Kind}
	}
	// An owner never holds two canonical rows. A canonical can appear after
	// the draft was submitted (admin created one on the owner's behalf), so
	// the check belongs here, not only at submission time.
	if _, exists, err := a.store.GetCanonicalByOwner(draft.OwnerID); err != nil {
		return domain.Profile{}, err
	} else if exists {
		return domain.Profile{}, ErrProfileExists
	}
	domain.State{Kind: domain.StateCanonical, Published: true}.Apply(&draft)
	draft.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveProfile(draft, store.KeepAll()); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	a.recordEvent(ctx, draft.ID, actor, actionAcceptSubmission, nil)
	return draft, nil
}

// RejectDraft discards a draft of either kind together with its images. The
// canonical row, if any, is untouched.
func (a *App) RejectDraft(ctx context.Context, actor domain.Identity, draftID string) error {
	draft, err := a.loadDraft(actor, draftID)
	if err != nil {
		return err
	}
	removed, err := a.store.DeleteProfileCascade(draft.ID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	a.cleanRemovedBlobs(ctx, removed)
	a.recordEvent(ctx, draft.ID, actor, actionReject, map[string]string{"ownerId": draft.OwnerID})
	return nil
}

// DeleteProfile removes a profile row. Deleting a canonical profile cascades
// to its pending drafts and all their images and tags.
func (a *App) DeleteProfile(ctx context.Context, actor domain.Identity, id string) error {
	target, ok, err := a.store.GetProfile(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	if target.OwnerID != actor.UserID && !actor.IsAdmin() {
		return ErrPermissionDenied
	}
	removed, err := a.store.DeleteProfileCascade(id)
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	a.cleanRemovedBlobs(ctx, removed)
	a.recordEvent(ctx, id, actor, actionDelete, map[string]string{"ownerId": target.OwnerID})
	return nil
}

// SetPublished flips visibility of a canonical profile. Drafts cannot be
// published or unpublished; they are never public.
func (a *App) SetPublished(ctx context.Context, actor domain.Identity, id string, published bool) (domain.Profile, error) {
	if !actor.IsAdmin() {
		return domain.Profile{}, ErrPermissionDenied
	}
	target, ok, err := a.store.GetProfile(id)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	state := domain.StateOf(target)
	if state.Kind != domain.StateCanonical {
		return domain.Profile{}, &StateError{Op: "publish", State: state.Kind}
	}
	if err := a.store.SetPublished(id, published); err != nil {
		return domain.Profile{}, err
	}
	a.recordEvent(ctx, id, actor, actionSetPublished, map[string]string{"published": fmt.Sprintf("%t", published)})
	target.Published = published
	return target, nil
}

// ModerationEvents lists the audit trail for a profile. Admin only.
func (a *App) ModerationEvents(actor domain.Identity, profileID string, limit int) ([]domain.ModerationEvent, error) {
	if !actor.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return a.store.ListModerationEvents(profileID, limit)
}

func (a *App) loadDraft(actor domain.Identity, draftID string) (domain.Profile, error) {
	if !actor.IsAdmin() {
		return domain.Profile{}, ErrPermissionDenied
	}
	draft, ok, err := a.store.GetProfile(draftID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	if !draft.IsDraft {
		return domain.Profile{}, &StateError{Op: "moderate", State: domain.StateOf(draft).Kind}
	}
	return draft, nil
}

func (a *App) recordEvent(ctx context.Context, profileID string, actor domain.Identity, action string, detail map[string]string) {
	ev := domain.ModerationEvent{
		ProfileID: profileID,
		Actor:     actor.UserID,
		Action:    action,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.AppendModerationEvent(ev); err != nil {
		// Audit writes never block the moderation action itself.
		util.LoggerFromContext(ctx).Warn("audit event write failed", "action", action, "profile_id", profileID, "err", err)
	}
}
