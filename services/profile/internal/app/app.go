package app

import (
	"context"
	"fmt"
	"time"

	"profilehub/internal/imaging"
	"profilehub/internal/util"
	"profilehub/pkg/domain"
	"profilehub/pkg/queue"
	"profilehub/pkg/storage"
	"profilehub/pkg/store"
)

// ImagePipeline produces and removes the blob trio of an uploaded image.
type ImagePipeline interface {
	ProcessUpload(ctx context.Context, raw []byte) (imaging.Rendered, error)
	DeleteImage(ctx context.Context, mediumKey string) imaging.DeleteResult
}

// CleanupQueue parks storage keys whose best-effort delete failed.
type CleanupQueue interface {
	Enqueue(ctx context.Context, keys ...string) error
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	CDNBaseURL     string

	Pipeline ImagePipeline
	Imaging  imaging.Config

	RedisAddr     string
	RedisPassword string
	CleanupList   string
	Cleanup       CleanupQueue
}

// App is the profile mutation service: it applies validated edits, decides
// between in-place mutation and draft forking, and owns the moderation
// transitions.
type App struct {
	store    store.Store
	pipeline ImagePipeline
	cleanup  CleanupQueue
}

// New constructs the application with database-backed persistence and
// MinIO-backed image storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	pipeline := cfg.Pipeline
	if pipeline == nil {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:   cfg.MinioEndpoint,
			AccessKey:  cfg.MinioAccessKey,
			SecretKey:  cfg.MinioSecretKey,
			Bucket:     cfg.MinioBucket,
			UseSSL:     cfg.MinioUseSSL,
			CDNBaseURL: cfg.CDNBaseURL,
		})
		if err != nil {
			return nil, err
		}
		pipeline = imaging.NewPipeline(objects, cfg.Imaging)
	}
	cleanup := cfg.Cleanup
	if cleanup == nil && cfg.RedisAddr != "" {
		q, err := queue.NewCleanupQueue(cfg.RedisAddr, cfg.RedisPassword, cfg.CleanupList)
		if err != nil {
			return nil, fmt.Errorf("init cleanup queue: %w", err)
		}
		cleanup = q
	}
	return &App{store: dataStore, pipeline: pipeline, cleanup: cleanup}, nil
}

// GetProfile returns one profile. Drafts and unpublished profiles are only
// visible to their owner and admins.
func (a *App) GetProfile(actor domain.Identity, id string) (domain.Profile, error) {
	p, ok, err := a.store.GetProfile(id)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	if !domain.StateOf(p).PubliclyVisible() && p.OwnerID != actor.UserID && !actor.IsAdmin() {
		return domain.Profile{}, ErrNotFound
	}
	return p, nil
}

// ListPublished returns publicly visible profiles.
func (a *App) ListPublished() ([]domain.Profile, error) {
	return a.store.ListPublished()
}

// ListDrafts returns the moderation queue. Admin only.
func (a *App) ListDrafts(actor domain.Identity) ([]domain.Profile, error) {
	if !actor.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	return a.store.ListDrafts()
}

// CreateProfile creates a new profile row. Non-admin submissions start as a
// draft awaiting acceptance; admin submissions are canonical immediately and
// may be created on behalf of another user.
func (a *App) CreateProfile(ctx context.Context, actor domain.Identity, in ProfileInput) (domain.Profile, error) {
	if err := validateInput(in); err != nil {
		return domain.Profile{}, err
	}

	owner := actor.UserID
	if actor.IsAdmin() && in.TargetOwnerID != "" {
		owner = in.TargetOwnerID
	}
	// One profile row per owner, counting pending first submissions: an admin
	// creating on behalf of a user with a draft-new in the queue would
	// otherwise end up minting a second canonical row on acceptance.
	exists, err := a.store.HasProfileForOwner(owner)
	if err != nil {
		return domain.Profile{}, err
	}
	if exists {
		return domain.Profile{}, ErrProfileExists
	}

	now := time.Now().UTC()
	p := domain.Profile{
		ID:        util.NewID(),
		OwnerID:   owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyInput(&p, in)
	if actor.IsAdmin() {
		domain.State{Kind: domain.StateCanonical, Published: in.Published}.Apply(&p)
	} else {
		domain.State{Kind: domain.StateDraftNew}.Apply(&p)
	}

	plan, created, err := a.reconcileImages(ctx, nil, nil, p.ID, in.Images)
	if err != nil {
		return domain.Profile{}, err
	}
	if err := a.store.SaveProfile(p, plan); err != nil {
		a.rollbackCreatedBlobs(ctx, created)
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	p.Images = plan.Final
	return p, nil
}

// UpdateProfile applies a validated edit. Admins and owners of unpublished or
// draft rows mutate in place; an owner editing their published canonical
// profile forks (or refreshes) a revision draft, leaving the canonical row
// and its images untouched and publicly visible throughout.
func (a *App) UpdateProfile(ctx context.Context, actor domain.Identity, profileID string, in ProfileInput) (domain.Profile, error) {
	target, ok, err := a.store.GetProfile(profileID)
	if err != nil {
		return domain.Profile{}, err
	}
	if !ok {
		return domain.Profile{}, ErrNotFound
	}
	if target.OwnerID != actor.UserID && !actor.IsAdmin() {
		return domain.Profile{}, ErrPermissionDenied
	}
	if err := validateInput(in); err != nil {
		return domain.Profile{}, err
	}

	state := domain.StateOf(target)
	switch {
	case actor.IsAdmin():
		return a.updateInPlace(ctx, target, in, true)
	case state.Kind == domain.StateCanonical && state.Published:
		return a.upsertRevisionDraft(ctx, target, in)
	default:
		return a.updateInPlace(ctx, target, in, false)
	}
}

func (a *App) updateInPlace(ctx context.Context, target domain.Profile, in ProfileInput, isAdmin bool) (domain.Profile, error) {
	applyInput(&target, in)
	// Only admins may change visibility, and only when the submission
	// actually carried the field; for owners the prior flag stands.
	if isAdmin && !target.IsDraft && in.PublishedSet {
		target.Published = in.Published
	}
	target.UpdatedAt = time.Now().UTC()

	plan, created, err := a.reconcileImages(ctx, target.Images, nil, target.ID, in.Images)
	if err != nil {
		return domain.Profile{}, err
	}
	prior := target.Images
	if err := a.store.SaveProfile(target, plan); err != nil {
		a.rollbackCreatedBlobs(ctx, created)
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	a.cleanRemovedBlobs(ctx, plan.Removed)
	if plan.Touched {
		target.Images = plan.Final
	} else {
		target.Images = prior
	}
	return target, nil
}

func (a *App) upsertRevisionDraft(ctx context.Context, canonical domain.Profile, in ProfileInput) (domain.Profile, error) {
	draft, exists, err := a.store.GetRevisionDraft(canonical.ID)
	if err != nil {
		return domain.Profile{}, err
	}
	now := time.Now().UTC()
	if !exists {
		draft = domain.Profile{
			ID:        util.NewID(),
			OwnerID:   canonical.OwnerID,
			CreatedAt: now,
		}
	}
	applyInput(&draft, in)
	domain.State{Kind: domain.StateDraftRevision, OriginalID: canonical.ID}.Apply(&draft)
	draft.UpdatedAt = now

	// Kept images referencing the canonical set are copied onto the draft as
	// fresh rows sharing the same blobs; the canonical rows stay put.
	sub := in.Images
	if !sub.Touched && !exists {
		// A fresh fork with the image widget untouched must still mirror the
		// canonical image set, so a later approval does not wipe it.
		sub = carryOverSubmission(canonical.Images)
	}
	plan, created, err := a.reconcileImages(ctx, draft.Images, canonical.Images, draft.ID, sub)
	if err != nil {
		return domain.Profile{}, err
	}
	prior := draft.Images
	if err := a.store.SaveProfile(draft, plan); err != nil {
		a.rollbackCreatedBlobs(ctx, created)
		return domain.Profile{}, fmt.Errorf("save draft: %w", err)
	}
	a.cleanRemovedBlobs(ctx, plan.Removed)
	if plan.Touched {
		draft.Images = plan.Final
	} else {
		draft.Images = prior
	}
	return draft, nil
}

// carryOverSubmission builds a submission that keeps every image of the
// source set in its current order.
func carryOverSubmission(images []domain.ProfileImage) ImageSubmission {
	sub := ImageSubmission{Touched: true}
	for _, img := range images {
		sub.Order = append(sub.Order, ImageRef{
			ExistingKey: img.Medium.StorageKey,
			Position:    img.Position,
		})
	}
	return sub
}

func applyInput(p *domain.Profile, in ProfileInput) {
	p.Name = in.Name
	p.Age = in.Age
	p.Price = in.Price
	p.Description = in.Description
	p.Address = in.Address
	p.Latitude = in.Latitude
	p.Longitude = in.Longitude
	p.Tags = in.Tags
}
