package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"profilehub/pkg/domain"
	"profilehub/services/profile/internal/app"
)

// imageRefPayload is the wire form of one imageOrder entry. Exactly one of
// "existing" (medium storage key) or "new" (upload slot) must be set.
type imageRefPayload struct {
	Existing *string `json:"existing"`
	New      *int    `json:"new"`
	Position int     `json:"position"`
}

// parseProfileForm decodes the multipart create/update form. The image set is
// only considered touched when the imageOrder field is present, so a form
// submitted without the image widget leaves persisted images alone.
func (s *Server) parseProfileForm(w http.ResponseWriter, r *http.Request) (app.ProfileInput, error) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return app.ProfileInput{}, errors.New("invalid form data")
	}

	var in app.ProfileInput
	in.Name = strings.TrimSpace(r.FormValue("name"))
	in.Description = strings.TrimSpace(r.FormValue("description"))
	in.Address = strings.TrimSpace(r.FormValue("address"))
	in.TargetOwnerID = strings.TrimSpace(r.FormValue("targetOwnerId"))
	// Like imageOrder, published is applied only when present, so a form
	// without the field cannot silently unpublish a profile.
	if values, present := r.MultipartForm.Value["published"]; present {
		in.PublishedSet = true
		in.Published = len(values) > 0 && values[0] == "true"
	}

	var err error
	if in.Age, err = formInt(r, "age"); err != nil {
		return app.ProfileInput{}, err
	}
	if in.Price, err = formInt64(r, "price"); err != nil {
		return app.ProfileInput{}, err
	}
	if in.Latitude, err = formFloat(r, "latitude"); err != nil {
		return app.ProfileInput{}, err
	}
	if in.Longitude, err = formFloat(r, "longitude"); err != nil {
		return app.ProfileInput{}, err
	}

	in.Tags = domain.Tags{
		Languages:      splitCSV(r.FormValue("languages")),
		PaymentMethods: splitCSV(r.FormValue("paymentMethods")),
		Nationalities:  splitCSV(r.FormValue("nationalities")),
		Ethnicities:    splitCSV(r.FormValue("ethnicities")),
		Services:       splitCSV(r.FormValue("services")),
	}

	sub, err := s.parseImageSubmission(r)
	if err != nil {
		return app.ProfileInput{}, err
	}
	in.Images = sub
	return in, nil
}

func (s *Server) parseImageSubmission(r *http.Request) (app.ImageSubmission, error) {
	raw, present := r.MultipartForm.Value["imageOrder"]
	if !present {
		return app.ImageSubmission{}, nil
	}
	var payload []imageRefPayload
	if len(raw) > 0 && strings.TrimSpace(raw[0]) != "" {
		if err := json.Unmarshal([]byte(raw[0]), &payload); err != nil {
			return app.ImageSubmission{}, errors.New("invalid imageOrder")
		}
	}

	sub := app.ImageSubmission{Touched: true, Uploads: make(map[int][]byte)}
	for _, ref := range payload {
		switch {
		case ref.Existing != nil && ref.New == nil:
			sub.Order = append(sub.Order, app.ImageRef{
				ExistingKey: strings.TrimSpace(*ref.Existing),
				Position:    ref.Position,
			})
		case ref.New != nil && ref.Existing == nil:
			sub.Order = append(sub.Order, app.ImageRef{
				IsNew:      true,
				UploadSlot: *ref.New,
				Position:   ref.Position,
			})
		default:
			return app.ImageSubmission{}, errors.New("imageOrder entries need exactly one of existing/new")
		}
	}

	for field, headers := range r.MultipartForm.File {
		if !strings.HasPrefix(field, "image_") || len(headers) == 0 {
			continue
		}
		slot, err := strconv.Atoi(strings.TrimPrefix(field, "image_"))
		if err != nil {
			return app.ImageSubmission{}, fmt.Errorf("invalid upload field %q", field)
		}
		file, err := headers[0].Open()
		if err != nil {
			return app.ImageSubmission{}, errors.New("invalid form data")
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return app.ImageSubmission{}, errors.New("invalid form data")
		}
		sub.Uploads[slot] = data
	}
	return sub, nil
}

func formInt(r *http.Request, field string) (int, error) {
	value := strings.TrimSpace(r.FormValue(field))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	return n, nil
}

func formInt64(r *http.Request, field string) (int64, error) {
	value := strings.TrimSpace(r.FormValue(field))
	if value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	return n, nil
}

func formFloat(r *http.Request, field string) (float64, error) {
	value := strings.TrimSpace(r.FormValue(field))
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", field)
	}
	return f, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
