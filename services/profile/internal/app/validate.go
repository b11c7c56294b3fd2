package app

import (
	"math"
	"strings"

	"profilehub/pkg/domain"
)

// ProfileInput carries the validated scalar fields, tag sets, and image
// submission of a create or update call.
type ProfileInput struct {
	Name        string
	Age         int
	Price       int64
	Description string
	Address     string
	Latitude    float64
	Longitude   float64

	// Published is honored only when the submitter is an admin, and on
	// updates only when PublishedSet marks the field as present in the
	// submission. A form without the field leaves visibility alone.
	Published    bool
	PublishedSet bool
	// TargetOwnerID lets an admin create a profile on behalf of another user.
	TargetOwnerID string

	Tags   domain.Tags
	Images ImageSubmission
}

const (
	minAge = 18
	maxAge = 100
)

func validateInput(in ProfileInput) error {
	verr := &ValidationError{}
	if strings.TrimSpace(in.Name) == "" {
		verr.add("name", "must not be empty")
	}
	if strings.TrimSpace(in.Description) == "" {
		verr.add("description", "must not be empty")
	}
	if strings.TrimSpace(in.Address) == "" {
		verr.add("address", "must not be empty")
	}
	if in.Price < 0 {
		verr.add("price", "must not be negative")
	}
	if in.Age < minAge || in.Age > maxAge {
		verr.add("age", "must be between 18 and 100")
	}
	if !isFinite(in.Latitude) || in.Latitude < -90 || in.Latitude > 90 {
		verr.add("latitude", "must be a number between -90 and 90")
	}
	if !isFinite(in.Longitude) || in.Longitude < -180 || in.Longitude > 180 {
		verr.add("longitude", "must be a number between -180 and 180")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
