package app

import (
	"context"
	"errors"
	"testing"

	"profilehub/pkg/domain"
)

func TestCreateProfileUserStartsAsDraft(t *testing.T) {
	a, _, _, _ := newTestApp()

	p, err := a.CreateProfile(context.Background(), owner, validInput("Mia"))
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if !p.IsDraft || p.Published {
		t.Fatalf("user submission should be an unpublished draft, got isDraft=%t published=%t", p.IsDraft, p.Published)
	}
	if p.OriginalProfileID != "" {
		t.Fatalf("first submission must not reference an original, got %q", p.OriginalProfileID)
	}
	if p.OwnerID != owner.UserID {
		t.Fatalf("owner = %q, want %q", p.OwnerID, owner.UserID)
	}

	published, err := a.ListPublished()
	if err != nil {
		t.Fatalf("ListPublished: %v", err)
	}
	if len(published) != 0 {
		t.Fatalf("draft must not be publicly listed, got %d profiles", len(published))
	}
}

func TestCreateProfileSecondSubmissionRejected(t *testing.T) {
	a, _, _, _ := newTestApp()

	if _, err := a.CreateProfile(context.Background(), owner, validInput("Mia")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := a.CreateProfile(context.Background(), owner, validInput("Mia again"))
	if !errors.Is(err, ErrProfileExists) {
		t.Fatalf("second create = %v, want ErrProfileExists", err)
	}
}

func TestCreateProfileAdminIsCanonical(t *testing.T) {
	a, _, _, _ := newTestApp()

	in := validInput("Lena")
	in.Published = true
	in.TargetOwnerID = "user-9"
	p, err := a.CreateProfile(context.Background(), admin, in)
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if p.IsDraft {
		t.Fatal("admin creation should be canonical immediately")
	}
	if !p.Published {
		t.Fatal("admin creation should honor the published flag")
	}
	if p.OwnerID != "user-9" {
		t.Fatalf("owner = %q, want user-9", p.OwnerID)
	}
}

func TestCreateProfileValidation(t *testing.T) {
	a, _, _, _ := newTestApp()

	in := validInput("")
	in.Age = 17
	in.Latitude = 123
	_, err := a.CreateProfile(context.Background(), owner, in)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	for _, field := range []string{"name", "age", "latitude"} {
		if len(verr.Fields[field]) == 0 {
			t.Fatalf("missing validation message for %q: %v", field, verr.Fields)
		}
	}
}

func TestUpdateOwnPublishedForksRevisionDraft(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Age: 25, Price: 200,
		Description: "original", Address: "Berlin", Published: true,
	}, "profiles/a_med.jpg", "profiles/b_med.jpg")

	in := validInput("Mia")
	in.Description = "edited"
	draft, err := a.UpdateProfile(context.Background(), owner, canonical.ID, in)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if draft.ID == canonical.ID {
		t.Fatal("owner edit of a published profile must fork, not mutate in place")
	}
	if !draft.IsDraft || draft.OriginalProfileID != canonical.ID {
		t.Fatalf("fork state wrong: isDraft=%t original=%q", draft.IsDraft, draft.OriginalProfileID)
	}
	if draft.Description != "edited" {
		t.Fatalf("draft description = %q, want edited", draft.Description)
	}

	// The canonical row keeps serving the old content, images included.
	reloaded, _, err := st.GetProfile(canonical.ID)
	if err != nil {
		t.Fatalf("reload canonical: %v", err)
	}
	if reloaded.Description != "original" || !reloaded.Published {
		t.Fatalf("canonical changed: description=%q published=%t", reloaded.Description, reloaded.Published)
	}
	if len(reloaded.Images) != 2 {
		t.Fatalf("canonical images = %d, want 2", len(reloaded.Images))
	}

	// A fork with an untouched image widget mirrors the canonical set on
	// fresh rows sharing the same blobs.
	if len(draft.Images) != 2 {
		t.Fatalf("draft images = %d, want 2", len(draft.Images))
	}
	for i, img := range draft.Images {
		if img.Medium.StorageKey != reloaded.Images[i].Medium.StorageKey {
			t.Fatalf("draft image %d key = %q, want %q", i, img.Medium.StorageKey, reloaded.Images[i].Medium.StorageKey)
		}
		if img.ID == reloaded.Images[i].ID {
			t.Fatalf("draft image %d reuses the canonical row id", i)
		}
	}
}

func TestUpdateOwnPublishedReusesExistingDraft(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "original",
		Address: "Berlin", Age: 25, Published: true,
	})

	first, err := a.UpdateProfile(context.Background(), owner, canonical.ID, validInput("Mia v2"))
	if err != nil {
		t.Fatalf("first update: %v", err)
	}
	second, err := a.UpdateProfile(context.Background(), owner, canonical.ID, validInput("Mia v3"))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second edit created draft %q, want refresh of %q", second.ID, first.ID)
	}
	if second.Name != "Mia v3" {
		t.Fatalf("draft name = %q, want Mia v3", second.Name)
	}

	drafts, err := a.ListDrafts(admin)
	if err != nil {
		t.Fatalf("ListDrafts: %v", err)
	}
	if len(drafts) != 1 {
		t.Fatalf("moderation queue has %d drafts, want 1", len(drafts))
	}
}

func TestUpdateUnpublishedCanonicalInPlace(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "original",
		Address: "Berlin", Age: 25, Published: false,
	})

	updated, err := a.UpdateProfile(context.Background(), owner, canonical.ID, validInput("Mia v2"))
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.ID != canonical.ID {
		t.Fatal("unpublished canonical should be edited in place")
	}
	if updated.IsDraft || updated.Published {
		t.Fatalf("state changed: isDraft=%t published=%t", updated.IsDraft, updated.Published)
	}
}

func TestUpdateDraftInPlace(t *testing.T) {
	a, _, _, _ := newTestApp()
	draft, err := a.CreateProfile(context.Background(), owner, validInput("Mia"))
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}

	updated, err := a.UpdateProfile(context.Background(), owner, draft.ID, validInput("Mia v2"))
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.ID != draft.ID || !updated.IsDraft {
		t.Fatalf("draft edit must stay on the same draft row, got id=%q isDraft=%t", updated.ID, updated.IsDraft)
	}
}

func TestUpdateAdminEditsPublishedInPlace(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "original",
		Address: "Berlin", Age: 25, Published: true,
	})

	in := validInput("Mia edited")
	in.Published = false
	in.PublishedSet = true
	updated, err := a.UpdateProfile(context.Background(), admin, canonical.ID, in)
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.ID != canonical.ID {
		t.Fatal("admin edit must not fork a draft")
	}
	if updated.Name != "Mia edited" {
		t.Fatalf("name = %q", updated.Name)
	}
	if updated.Published {
		t.Fatal("admin edit should honor the published flag")
	}
}

func TestUpdateAdminWithoutPublishedFieldKeepsVisibility(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "original",
		Address: "Berlin", Age: 25, Published: true,
	})

	// The submission never carried the published field; the flag stands.
	updated, err := a.UpdateProfile(context.Background(), admin, canonical.ID, validInput("Mia edited"))
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if !updated.Published {
		t.Fatal("edit without a published field unpublished the profile")
	}
}

func TestCreateOnBehalfBlockedByPendingDraft(t *testing.T) {
	a, _, _, _ := newTestApp()

	if _, err := a.CreateProfile(context.Background(), owner, validInput("Mia")); err != nil {
		t.Fatalf("user create: %v", err)
	}

	// The owner's pending first submission already counts as their profile.
	in := validInput("Mia by admin")
	in.TargetOwnerID = owner.UserID
	if _, err := a.CreateProfile(context.Background(), admin, in); !errors.Is(err, ErrProfileExists) {
		t.Fatalf("admin create on behalf = %v, want ErrProfileExists", err)
	}
}

func TestUpdatePermissionDenied(t *testing.T) {
	a, st, _, _ := newTestApp()
	canonical := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "original",
		Address: "Berlin", Age: 25, Published: true,
	})

	if _, err := a.UpdateProfile(context.Background(), other, canonical.ID, validInput("Hacked")); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestGetProfileVisibility(t *testing.T) {
	a, st, _, _ := newTestApp()
	hidden := seedProfile(st, domain.Profile{
		OwnerID: owner.UserID, Name: "Mia", Description: "d",
		Address: "Berlin", Age: 25, Published: false,
	})

	anonymous := domain.Identity{}
	if _, err := a.GetProfile(anonymous, hidden.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("anonymous read of unpublished profile = %v, want ErrNotFound", err)
	}
	if _, err := a.GetProfile(owner, hidden.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := a.GetProfile(admin, hidden.ID); err != nil {
		t.Fatalf("admin read: %v", err)
	}

	if err := a.store.SetPublished(hidden.ID, true); err != nil {
		t.Fatalf("SetPublished: %v", err)
	}
	if _, err := a.GetProfile(anonymous, hidden.ID); err != nil {
		t.Fatalf("anonymous read of published profile: %v", err)
	}
}

func TestListDraftsAdminOnly(t *testing.T) {
	a, _, _, _ := newTestApp()
	if _, err := a.ListDrafts(owner); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
}
