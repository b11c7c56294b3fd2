package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"profilehub/internal/identity"
	"profilehub/internal/imaging"
	"profilehub/pkg/domain"
	"profilehub/pkg/store"
	"profilehub/services/profile/internal/app"
)

const testSecret = "test-secret"

type stubPipeline struct {
	uploads int
}

func (s *stubPipeline) ProcessUpload(context.Context, []byte) (imaging.Rendered, error) {
	s.uploads++
	key := fmt.Sprintf("profiles/up%d_med.jpg", s.uploads)
	return imaging.Rendered{
		Medium: domain.ImageVariant{URL: "http://minio.local/" + key, StorageKey: key},
	}, nil
}

func (s *stubPipeline) DeleteImage(context.Context, string) imaging.DeleteResult {
	return imaging.DeleteResult{}
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	a, err := app.New(app.Config{Store: st, Pipeline: &stubPipeline{}})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	verifier, err := identity.NewVerifier(identity.Config{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	srv, err := New(Config{App: a, Verifier: verifier})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv, st
}

func mintToken(t *testing.T, sub string, role domain.Role) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":  sub,
		"role": string(role),
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func profileForm(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func validFields() map[string]string {
	return map[string]string{
		"name":        "Mia",
		"age":         "25",
		"price":       "200",
		"description": "evening availability",
		"address":     "Kreuzberg, Berlin",
		"latitude":    "52.49",
		"longitude":   "13.42",
		"languages":   "de, en",
	}
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeProfile(t *testing.T, rec *httptest.ResponseRecorder) domain.Profile {
	t.Helper()
	var p domain.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode profile: %v (body %s)", err, rec.Body.String())
	}
	return p
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	body, ct := profileForm(t, validFields())
	req := httptest.NewRequest(http.MethodPost, "/profiles", body)
	req.Header.Set("Content-Type", ct)

	rec := do(srv, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "AUTH_INVALID_TOKEN") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestCreateValidationErrorShape(t *testing.T) {
	srv, _ := newTestServer(t)
	fields := validFields()
	fields["age"] = "17"
	body, ct := profileForm(t, fields)
	req := httptest.NewRequest(http.MethodPost, "/profiles", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-1", domain.RoleUser))

	rec := do(srv, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Code   string              `json:"code"`
		Fields map[string][]string `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Code != "PROFILE_INVALID_REQUEST" || len(resp.Fields["age"]) == 0 {
		t.Fatalf("error shape = %+v", resp)
	}
}

func TestSubmissionModerationFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	// A user submits a profile; it lands in the moderation queue as a draft.
	body, ct := profileForm(t, validFields())
	req := httptest.NewRequest(http.MethodPost, "/profiles", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-1", domain.RoleUser))
	rec := do(srv, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body %s)", rec.Code, rec.Body.String())
	}
	draft := decodeProfile(t, rec)
	if !draft.IsDraft {
		t.Fatal("submission should start as a draft")
	}

	// Anonymous visitors cannot see it.
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/profiles/"+draft.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("anonymous draft read status = %d, want 404", rec.Code)
	}

	// The draft queue is admin-only.
	req = httptest.NewRequest(http.MethodGet, "/admin/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-1", domain.RoleUser))
	if rec = do(srv, req); rec.Code != http.StatusForbidden {
		t.Fatalf("non-admin queue status = %d, want 403", rec.Code)
	}

	adminToken := mintToken(t, "admin-1", domain.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/admin/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	if rec = do(srv, req); rec.Code != http.StatusOK {
		t.Fatalf("queue status = %d", rec.Code)
	}

	// Approving a first submission is a state conflict; accepting works.
	req = httptest.NewRequest(http.MethodPost, "/admin/drafts/"+draft.ID+"/approve", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	if rec = do(srv, req); rec.Code != http.StatusConflict {
		t.Fatalf("approve of first submission status = %d, want 409", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/drafts/"+draft.ID+"/accept", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept status = %d (body %s)", rec.Code, rec.Body.String())
	}
	accepted := decodeProfile(t, rec)
	if accepted.IsDraft || !accepted.Published {
		t.Fatalf("state after accept: isDraft=%t published=%t", accepted.IsDraft, accepted.Published)
	}

	// Now the profile is public.
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/profiles", nil))
	var listing struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if listing.Count != 1 {
		t.Fatalf("public listing count = %d, want 1", listing.Count)
	}

	// And the admin can pull it again.
	req = httptest.NewRequest(http.MethodPost, "/admin/profiles/"+draft.ID+"/publish",
		strings.NewReader(`{"published":false}`))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if decodeProfile(t, rec).Published {
		t.Fatal("publish flag not cleared")
	}

	// The audit trail recorded both actions.
	req = httptest.NewRequest(http.MethodGet, "/admin/profiles/"+draft.ID+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = do(srv, req)
	var events struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if events.Count != 2 {
		t.Fatalf("audit events = %d, want 2", events.Count)
	}
}

func TestOwnerEditOfPublishedForksDraft(t *testing.T) {
	srv, st := newTestServer(t)
	ownerToken := mintToken(t, "user-1", domain.RoleUser)

	canonical := domain.Profile{
		ID: "prof-1", OwnerID: "user-1", Name: "Mia", Age: 25,
		Description: "original", Address: "Berlin", Published: true,
	}
	if err := st.SaveProfile(canonical, store.KeepAll()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fields := validFields()
	fields["description"] = "edited"
	body, ct := profileForm(t, fields)
	req := httptest.NewRequest(http.MethodPut, "/profiles/prof-1", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ownerToken)
	rec := do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body %s)", rec.Code, rec.Body.String())
	}
	draft := decodeProfile(t, rec)
	if draft.ID == "prof-1" || draft.OriginalProfileID != "prof-1" {
		t.Fatalf("expected a revision draft, got %+v", draft)
	}

	// The public row still serves the old content.
	rec = do(srv, httptest.NewRequest(http.MethodGet, "/profiles/prof-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("public read status = %d", rec.Code)
	}
	if decodeProfile(t, rec).Description != "original" {
		t.Fatal("canonical content changed before approval")
	}
}

func TestAdminEditWithoutPublishedFieldKeepsVisibility(t *testing.T) {
	srv, st := newTestServer(t)
	canonical := domain.Profile{
		ID: "prof-1", OwnerID: "user-1", Name: "Mia", Age: 25,
		Description: "original", Address: "Berlin", Published: true,
	}
	if err := st.SaveProfile(canonical, store.KeepAll()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	adminToken := mintToken(t, "admin-1", domain.RoleAdmin)

	// A form without the published field must not change visibility.
	body, ct := profileForm(t, validFields())
	req := httptest.NewRequest(http.MethodPut, "/profiles/prof-1", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if !decodeProfile(t, rec).Published {
		t.Fatal("admin edit without a published field unpublished the profile")
	}

	// An explicit published=false does.
	fields := validFields()
	fields["published"] = "false"
	body, ct = profileForm(t, fields)
	req = httptest.NewRequest(http.MethodPut, "/profiles/prof-1", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if decodeProfile(t, rec).Published {
		t.Fatal("explicit published=false not applied")
	}
}

func TestDeleteProfile(t *testing.T) {
	srv, st := newTestServer(t)
	canonical := domain.Profile{
		ID: "prof-1", OwnerID: "user-1", Name: "Mia", Age: 25,
		Description: "d", Address: "Berlin", Published: true,
	}
	if err := st.SaveProfile(canonical, store.KeepAll()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/profiles/prof-1", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-2", domain.RoleUser))
	if rec := do(srv, req); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign delete status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/profiles/prof-1", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "user-1", domain.RoleUser))
	if rec := do(srv, req); rec.Code != http.StatusOK {
		t.Fatalf("owner delete status = %d", rec.Code)
	}
	if _, ok, _ := st.GetProfile("prof-1"); ok {
		t.Fatal("profile row still present after delete")
	}
}
