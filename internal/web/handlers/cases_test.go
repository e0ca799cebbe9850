package handlers

import (
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/findwatch/findwatch/internal/store"
)

func newCasesHandler(env *testEnv) *CasesHandler {
	return NewCasesHandler(env.store, env.crops, env.detector, 20, zap.NewNop())
}

func TestCreateCase(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases",
		strings.NewReader(`{"name": "Jane Doe", "description": "last seen downtown"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)

	var c store.Case
	parseJSONResponse(t, rec, &c)
	if c.ID == "" {
		t.Error("expected generated case id")
	}
	if c.Name != "Jane Doe" || c.Status != store.CaseStatusOpen {
		t.Errorf("unexpected case: %+v", c)
	}
}

func TestCreateCaseValidation(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases", strings.NewReader(`{"name": ""}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, "name is required")

	req = httptest.NewRequest(http.MethodPost, "/api/v1/cases", strings.NewReader(`{not json`))
	rec = httptest.NewRecorder()
	h.Create(rec, req)
	assertStatusCode(t, rec, http.StatusBadRequest)
	assertJSONError(t, rec, errInvalidRequestBody)
}

func TestGetCaseNotFound(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodGet, "/api/v1/cases/missing", nil),
		map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()
	h.Get(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestListCasesInvalidStatus(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases?status=bogus", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestListCasesEmpty(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cases", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	assertStatusCode(t, rec, http.StatusOK)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("expected empty JSON array, got %s", body)
	}
}

func createTestCase(t *testing.T, env *testEnv, h *CasesHandler, name string) store.Case {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cases",
		strings.NewReader(`{"name": "`+name+`"}`))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assertStatusCode(t, rec, http.StatusCreated)

	var c store.Case
	parseJSONResponse(t, rec, &c)
	return c
}

func TestCloseCaseRemovesCrops(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)
	c := createTestCase(t, env, h, "Jane Doe")

	// Register a reference so there is something to remove.
	env.detector.boxes = []image.Rectangle{image.Rect(10, 10, 90, 90)}
	req := requestWithChiParams(
		multipartRequest(t, "/api/v1/cases/"+c.ID+"/photos", "photo", "ref.png", testImagePNG(t, 100), nil),
		map[string]string{"id": c.ID})
	rec := httptest.NewRecorder()
	h.RegisterPhoto(rec, req)
	assertStatusCode(t, rec, http.StatusCreated)

	req = requestWithChiParams(
		httptest.NewRequest(http.MethodPost, "/api/v1/cases/"+c.ID+"/close", nil),
		map[string]string{"id": c.ID})
	rec = httptest.NewRecorder()
	h.Close(rec, req)
	assertStatusCode(t, rec, http.StatusOK)

	var closed store.Case
	parseJSONResponse(t, rec, &closed)
	if closed.Status != store.CaseStatusClosed {
		t.Errorf("expected closed case, got %q", closed.Status)
	}

	count, err := env.crops.CountReferences(c.ID)
	if err != nil {
		t.Fatalf("count references: %v", err)
	}
	if count != 0 {
		t.Errorf("expected crops removed on close, found %d", count)
	}
}

func TestCloseCaseNotFound(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodPost, "/api/v1/cases/missing/close", nil),
		map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()
	h.Close(rec, req)

	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestRegisterPhoto(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)
	c := createTestCase(t, env, h, "Jane Doe")
	env.detector.boxes = []image.Rectangle{image.Rect(10, 10, 90, 90)}

	req := requestWithChiParams(
		multipartRequest(t, "/api/v1/cases/"+c.ID+"/photos", "photo", "ref.png", testImagePNG(t, 100), nil),
		map[string]string{"id": c.ID})
	rec := httptest.NewRecorder()
	h.RegisterPhoto(rec, req)

	assertStatusCode(t, rec, http.StatusCreated)

	var resp map[string]any
	parseJSONResponse(t, rec, &resp)
	if resp["crop_id"] == "" {
		t.Error("expected crop_id in response")
	}

	count, err := env.crops.CountReferences(c.ID)
	if err != nil {
		t.Fatalf("count references: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 reference crop, got %d", count)
	}
}

func TestRegisterPhotoNoFace(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)
	c := createTestCase(t, env, h, "Jane Doe")

	req := requestWithChiParams(
		multipartRequest(t, "/api/v1/cases/"+c.ID+"/photos", "photo", "ref.png", testImagePNG(t, 100), nil),
		map[string]string{"id": c.ID})
	rec := httptest.NewRecorder()
	h.RegisterPhoto(rec, req)

	assertStatusCode(t, rec, http.StatusUnprocessableEntity)
	assertJSONError(t, rec, "no face found in photo")
}

func TestRegisterPhotoUndecodable(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)
	c := createTestCase(t, env, h, "Jane Doe")

	req := requestWithChiParams(
		multipartRequest(t, "/api/v1/cases/"+c.ID+"/photos", "photo", "ref.bin", []byte("garbage"), nil),
		map[string]string{"id": c.ID})
	rec := httptest.NewRecorder()
	h.RegisterPhoto(rec, req)

	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestRegisterPhotoClosedCase(t *testing.T) {
	env := newTestEnv(t)
	h := newCasesHandler(env)
	c := createTestCase(t, env, h, "Jane Doe")

	req := requestWithChiParams(
		httptest.NewRequest(http.MethodPost, "/api/v1/cases/"+c.ID+"/close", nil),
		map[string]string{"id": c.ID})
	rec := httptest.NewRecorder()
	h.Close(rec, req)
	assertStatusCode(t, rec, http.StatusOK)

	env.detector.boxes = []image.Rectangle{image.Rect(10, 10, 90, 90)}
	req = requestWithChiParams(
		multipartRequest(t, "/api/v1/cases/"+c.ID+"/photos", "photo", "ref.png", testImagePNG(t, 100), nil),
		map[string]string{"id": c.ID})
	rec = httptest.NewRecorder()
	h.RegisterPhoto(rec, req)

	assertStatusCode(t, rec, http.StatusConflict)
	assertJSONError(t, rec, "case is closed")
}
