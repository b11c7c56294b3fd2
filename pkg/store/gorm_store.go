package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"profilehub/internal/util"
	"profilehub/pkg/domain"
)

const migrateLockID int64 = 84218421

// Tag categories persisted in tag_models.category.
const (
	categoryLanguage      = "language"
	categoryPaymentMethod = "payment_method"
	categoryNationality   = "nationality"
	categoryEthnicity     = "ethnicity"
	categoryService       = "service"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProfileModel{},
			&ProfileImageModel{},
			&TagModel{},
			&ProfileTagModel{},
			&ModerationEventModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GetProfile loads a profile with its ordered image set and tags.
func (s *GormStore) GetProfile(id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	p, err := s.hydrate(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return p, true, nil
}

// GetCanonicalByOwner returns the owner's non-draft profile.
func (s *GormStore) GetCanonicalByOwner(ownerID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.Where("owner_id = ? AND is_draft = ?", ownerID, false).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	p, err := s.hydrate(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return p, true, nil
}

// HasProfileForOwner reports whether the owner already has any profile row.
func (s *GormStore) HasProfileForOwner(ownerID string) (bool, error) {
	var count int64
	if err := s.db.Model(&ProfileModel{}).Where("owner_id = ?", ownerID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetRevisionDraft returns the pending draft for a canonical profile.
func (s *GormStore) GetRevisionDraft(originalID string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.Where("is_draft = ? AND original_profile_id = ?", true, originalID).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	p, err := s.hydrate(model)
	if err != nil {
		return domain.Profile{}, false, err
	}
	return p, true, nil
}

// ListPublished returns publicly visible profiles ordered by creation time.
func (s *GormStore) ListPublished() ([]domain.Profile, error) {
	return s.listProfiles("is_draft = ? AND published = ?", false, true)
}

// ListDrafts returns the admin moderation queue, oldest first.
func (s *GormStore) ListDrafts() ([]domain.Profile, error) {
	return s.listProfiles("is_draft = ?", true)
}

func (s *GormStore) listProfiles(query string, args ...any) ([]domain.Profile, error) {
	var models []ProfileModel
	if err := s.db.Where(query, args...).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Profile, 0, len(models))
	for _, m := range models {
		p, err := s.hydrate(m)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// SaveProfile upserts the row, replaces tags, and applies the image plan in
// one transaction.
func (s *GormStore) SaveProfile(p domain.Profile, plan ImagePlan) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := profileToModel(p)
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_id", "name", "age", "price", "description", "address",
				"latitude", "longitude", "published", "is_draft", "original_profile_id", "updated_at",
			}),
		}).Create(&model).Error; err != nil {
			return err
		}
		if err := replaceTags(tx, p.ID, p.Tags); err != nil {
			return err
		}
		return applyImagePlan(tx, p.ID, plan)
	})
}

func replaceTags(tx *gorm.DB, profileID string, tags domain.Tags) error {
	if err := tx.Delete(&ProfileTagModel{}, "profile_id = ?", profileID).Error; err != nil {
		return err
	}
	joins := make([]ProfileTagModel, 0)
	categories := []struct {
		name  string
		items []string
	}{
		{categoryLanguage, tags.Languages},
		{categoryPaymentMethod, tags.PaymentMethods},
		{categoryNationality, tags.Nationalities},
		{categoryEthnicity, tags.Ethnicities},
		{categoryService, tags.Services},
	}
	for _, cat := range categories {
		for _, name := range cat.items {
			tag := TagModel{Category: cat.name, Name: name}
			if err := tx.Where("category = ? AND name = ?", cat.name, name).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			joins = append(joins, ProfileTagModel{ProfileID: profileID, TagID: tag.ID})
		}
	}
	if len(joins) == 0 {
		return nil
	}
	return tx.CreateInBatches(&joins, 100).Error
}

func applyImagePlan(tx *gorm.DB, profileID string, plan ImagePlan) error {
	if !plan.Touched {
		return nil
	}
	for _, removed := range plan.Removed {
		if err := tx.Delete(&ProfileImageModel{}, "id = ?", removed.ID).Error; err != nil {
			return err
		}
	}
	for _, img := range plan.Final {
		model := imageToModel(img)
		model.ProfileID = profileID
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"profile_id", "position"}),
		}).Create(&model).Error; err != nil {
			return err
		}
	}
	return nil
}

// PromoteDraft merges an approved revision draft into its canonical row.
func (s *GormStore) PromoteDraft(merged domain.Profile, draftID string) ([]domain.ProfileImage, error) {
	var removed []domain.ProfileImage
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var priorImages []ProfileImageModel
		if err := tx.Where("profile_id = ?", merged.ID).Find(&priorImages).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProfileImageModel{}, "profile_id = ?", merged.ID).Error; err != nil {
			return err
		}
		// Re-point the draft's image rows at the canonical id, keeping order.
		if err := tx.Model(&ProfileImageModel{}).
			Where("profile_id = ?", draftID).
			Update("profile_id", merged.ID).Error; err != nil {
			return err
		}
		model := profileToModel(merged)
		if err := tx.Model(&ProfileModel{}).Where("id = ?", merged.ID).Updates(map[string]any{
			"name":        model.Name,
			"age":         model.Age,
			"price":       model.Price,
			"description": model.Description,
			"address":     model.Address,
			"latitude":    model.Latitude,
			"longitude":   model.Longitude,
			"updated_at":  time.Now().UTC(),
		}).Error; err != nil {
			return err
		}
		if err := replaceTags(tx, merged.ID, merged.Tags); err != nil {
			return err
		}
		if err := tx.Delete(&ProfileTagModel{}, "profile_id = ?", draftID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProfileModel{}, "id = ?", draftID).Error; err != nil {
			return err
		}
		for _, m := range priorImages {
			removed = append(removed, imageFromModel(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DeleteProfileCascade removes the row, drafts referencing it, and all their
// images and tag joins.
func (s *GormStore) DeleteProfileCascade(id string) ([]domain.ProfileImage, error) {
	var removed []domain.ProfileImage
	err := s.db.Transaction(func(tx *gorm.DB) error {
		ids := []string{id}
		var drafts []ProfileModel
		if err := tx.Where("original_profile_id = ?", id).Find(&drafts).Error; err != nil {
			return err
		}
		for _, d := range drafts {
			ids = append(ids, d.ID)
		}
		var images []ProfileImageModel
		if err := tx.Where("profile_id IN ?", ids).Find(&images).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProfileImageModel{}, "profile_id IN ?", ids).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProfileTagModel{}, "profile_id IN ?", ids).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProfileModel{}, "id IN ?", ids).Error; err != nil {
			return err
		}
		for _, m := range images {
			removed = append(removed, imageFromModel(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// SetPublished flips the published flag on a row.
func (s *GormStore) SetPublished(id string, published bool) error {
	return s.db.Model(&ProfileModel{}).Where("id = ?", id).Updates(map[string]any{
		"published":  published,
		"updated_at": time.Now().UTC(),
	}).Error
}

// CountImagesByMediumKey reports remaining rows referencing a medium key.
func (s *GormStore) CountImagesByMediumKey(key string) (int64, error) {
	var count int64
	if err := s.db.Model(&ProfileImageModel{}).Where("medium_key = ?", key).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AppendModerationEvent records an admin action in the audit trail.
func (s *GormStore) AppendModerationEvent(ev domain.ModerationEvent) error {
	model, err := eventToModel(ev)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListModerationEvents returns recent audit entries for a profile.
func (s *GormStore) ListModerationEvents(profileID string, limit int) ([]domain.ModerationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ModerationEventModel
	if err := s.db.Where("profile_id = ?", profileID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	events := make([]domain.ModerationEvent, 0, len(models))
	for _, m := range models {
		events = append(events, eventFromModel(m))
	}
	return events, nil
}

func (s *GormStore) hydrate(model ProfileModel) (domain.Profile, error) {
	p := profileFromModel(model)

	var imageModels []ProfileImageModel
	if err := s.db.Where("profile_id = ?", model.ID).Order("position ASC").Find(&imageModels).Error; err != nil {
		return domain.Profile{}, err
	}
	for _, m := range imageModels {
		p.Images = append(p.Images, imageFromModel(m))
	}

	type tagRow struct {
		Category string
		Name     string
	}
	var rows []tagRow
	if err := s.db.Model(&ProfileTagModel{}).
		Select("tag_models.category, tag_models.name").
		Joins("JOIN tag_models ON tag_models.id = profile_tag_models.tag_id").
		Where("profile_tag_models.profile_id = ?", model.ID).
		Order("tag_models.name ASC").
		Scan(&rows).Error; err != nil {
		return domain.Profile{}, err
	}
	for _, row := range rows {
		switch row.Category {
		case categoryLanguage:
			p.Tags.Languages = append(p.Tags.Languages, row.Name)
		case categoryPaymentMethod:
			p.Tags.PaymentMethods = append(p.Tags.PaymentMethods, row.Name)
		case categoryNationality:
			p.Tags.Nationalities = append(p.Tags.Nationalities, row.Name)
		case categoryEthnicity:
			p.Tags.Ethnicities = append(p.Tags.Ethnicities, row.Name)
		case categoryService:
			p.Tags.Services = append(p.Tags.Services, row.Name)
		}
	}
	return p, nil
}

func profileToModel(p domain.Profile) ProfileModel {
	var originalID *string
	if p.OriginalProfileID != "" {
		value := p.OriginalProfileID
		originalID = &value
	}
	return ProfileModel{
		ID:                p.ID,
		OwnerID:           p.OwnerID,
		Name:              p.Name,
		Age:               p.Age,
		Price:             p.Price,
		Description:       p.Description,
		Address:           p.Address,
		Latitude:          p.Latitude,
		Longitude:         p.Longitude,
		Published:         p.Published,
		IsDraft:           p.IsDraft,
		OriginalProfileID: originalID,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	originalID := ""
	if m.OriginalProfileID != nil {
		originalID = *m.OriginalProfileID
	}
	return domain.Profile{
		ID:                m.ID,
		OwnerID:           m.OwnerID,
		Name:              m.Name,
		Age:               m.Age,
		Price:             m.Price,
		Description:       m.Description,
		Address:           m.Address,
		Latitude:          m.Latitude,
		Longitude:         m.Longitude,
		Published:         m.Published,
		IsDraft:           m.IsDraft,
		OriginalProfileID: originalID,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func imageToModel(img domain.ProfileImage) ProfileImageModel {
	return ProfileImageModel{
		ID:           img.ID,
		ProfileID:    img.ProfileID,
		ThumbURL:     img.Thumbnail.URL,
		ThumbCDNURL:  img.Thumbnail.CDNURL,
		ThumbKey:     img.Thumbnail.StorageKey,
		MediumURL:    img.Medium.URL,
		MediumCDNURL: img.Medium.CDNURL,
		MediumKey:    img.Medium.StorageKey,
		HighURL:      img.High.URL,
		HighCDNURL:   img.High.CDNURL,
		HighKey:      img.High.StorageKey,
		Position:     img.Position,
		CreatedAt:    img.CreatedAt,
	}
}

func imageFromModel(m ProfileImageModel) domain.ProfileImage {
	return domain.ProfileImage{
		ID:        m.ID,
		ProfileID: m.ProfileID,
		Thumbnail: domain.ImageVariant{URL: m.ThumbURL, CDNURL: m.ThumbCDNURL, StorageKey: m.ThumbKey},
		Medium:    domain.ImageVariant{URL: m.MediumURL, CDNURL: m.MediumCDNURL, StorageKey: m.MediumKey},
		High:      domain.ImageVariant{URL: m.HighURL, CDNURL: m.HighCDNURL, StorageKey: m.HighKey},
		Position:  m.Position,
		CreatedAt: m.CreatedAt,
	}
}

func eventToModel(ev domain.ModerationEvent) (ModerationEventModel, error) {
	detail, err := json.Marshal(ev.Detail)
	if err != nil {
		return ModerationEventModel{}, err
	}
	id := ev.ID
	if id == "" {
		id = util.NewID()
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return ModerationEventModel{
		ID:        id,
		ProfileID: ev.ProfileID,
		Actor:     ev.Actor,
		Action:    ev.Action,
		Detail:    detail,
		CreatedAt: createdAt,
	}, nil
}

func eventFromModel(m ModerationEventModel) domain.ModerationEvent {
	var detail map[string]string
	if len(m.Detail) > 0 {
		_ = json.Unmarshal(m.Detail, &detail)
	}
	return domain.ModerationEvent{
		ID:        m.ID,
		ProfileID: m.ProfileID,
		Actor:     m.Actor,
		Action:    m.Action,
		Detail:    detail,
		CreatedAt: m.CreatedAt,
	}
}
