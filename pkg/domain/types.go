package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the caller identity delivered by the external identity provider.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ImageVariant is one rendered resolution tier of an uploaded image.
type ImageVariant struct {
	URL        string `json:"url"`
	CDNURL     string `json:"cdnUrl,omitempty"`
	StorageKey string `json:"-"`
}

// ProfileImage is an ordered image belonging to a profile. Position 0 is the
// cover image. The three variants of one logical image share a base storage
// key and differ only by tier suffix.
type ProfileImage struct {
	ID        string       `json:"id"`
	ProfileID string       `json:"profileId"`
	Thumbnail ImageVariant `json:"thumbnail"`
	Medium    ImageVariant `json:"medium"`
	High      ImageVariant `json:"high"`
	Position  int          `json:"position"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Tags holds the replaceable tag-category associations of a profile.
// Every update replaces each category wholesale.
type Tags struct {
	Languages      []string `json:"languages"`
	PaymentMethods []string `json:"paymentMethods"`
	Nationalities  []string `json:"nationalities"`
	Ethnicities    []string `json:"ethnicities"`
	Services       []string `json:"services"`
}

// Profile is the central entity. IsDraft together with OriginalProfileID
// encodes the moderation state; use StateOf for the explicit variant.
type Profile struct {
	ID                string  `json:"id"`
	OwnerID           string  `json:"ownerId"`
	Name              string  `json:"name"`
	Age               int     `json:"age"`
	Price             int64   `json:"price"`
	Description       string  `json:"description"`
	Address           string  `json:"address"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Published         bool    `json:"published"`
	IsDraft           bool    `json:"isDraft"`
	OriginalProfileID string  `json:"originalProfileId,omitempty"`

	Tags   Tags           `json:"tags"`
	Images []ProfileImage `json:"images"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ModerationEvent is an audit record of an administrator action.
type ModerationEvent struct {
	ID        string            `json:"id"`
	ProfileID string            `json:"profileId"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Detail    map[string]string `json:"detail,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
