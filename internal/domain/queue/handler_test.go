package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func TestHandler_CheckIn(t *testing.T) {
	h, e := newTestHandler()
	body := `{"clinic_id":"` + uuid.New().String() + `","patient_id":"` + uuid.New().String() + `","severity":7}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CheckIn(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	var created Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if created.PriorityReason == "" {
		t.Error("expected a priority reason in the response")
	}
}

func TestHandler_CheckIn_InvalidSeverity(t *testing.T) {
	h, e := newTestHandler()
	body := `{"clinic_id":"` + uuid.New().String() + `","patient_id":"` + uuid.New().String() + `","severity":15}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CheckIn(c)
	if err == nil {
		t.Fatal("expected error for out-of-range severity")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for validation failure, got %d", httpErr.Code)
	}
}

// brokenRepo fails every write so handler tests can exercise the storage
// error path.
type brokenRepo struct {
	*mockRepo
}

func (r *brokenRepo) Create(context.Context, *Entry) error {
	return fmt.Errorf("connection reset by peer")
}

func TestHandler_CheckIn_StorageFailure(t *testing.T) {
	svc := NewService(&brokenRepo{mockRepo: newMockRepo()}, NewRecalcPolicy(0), zerolog.Nop())
	h := NewHandler(svc)
	e := echo.New()

	body := `{"clinic_id":"` + uuid.New().String() + `","patient_id":"` + uuid.New().String() + `","severity":5}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.CheckIn(c)
	if err == nil {
		t.Fatal("expected error when storage fails")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for storage failure, got %d", httpErr.Code)
	}
}

func TestHandler_GetQueue(t *testing.T) {
	h, e := newTestHandler()
	clinicID := uuid.New()
	entry := &Entry{ClinicID: clinicID, PatientID: uuid.New(), Severity: 5}
	if err := h.svc.CheckIn(nil, entry); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?clinic_id="+clinicID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.GetQueue(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Queue []*Entry `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(resp.Queue) != 1 {
		t.Errorf("expected 1 queue entry, got %d", len(resp.Queue))
	}
}

func TestHandler_GetQueue_MissingClinicID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.GetQueue(c)
	if err == nil {
		t.Error("expected error for missing clinic_id")
	}
}

func TestHandler_GetQueue_EmptyQueueIsArray(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?clinic_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetQueue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"queue":[]`) {
		t.Errorf("empty queue should serialize as [], got %s", rec.Body.String())
	}
}

func TestHandler_GetStats(t *testing.T) {
	h, e := newTestHandler()
	clinicID := uuid.New()
	h.svc.CheckIn(nil, &Entry{ClinicID: clinicID, PatientID: uuid.New(), Severity: 8, IsEmergency: true})

	req := httptest.NewRequest(http.MethodGet, "/?clinic_id="+clinicID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetStats(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if stats.Count != 1 || stats.EmergencyCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestHandler_Recalculate(t *testing.T) {
	h, e := newTestHandler()
	clinicID := uuid.New()
	h.svc.CheckIn(nil, &Entry{ClinicID: clinicID, PatientID: uuid.New(), Severity: 5})
	h.svc.CheckIn(nil, &Entry{ClinicID: clinicID, PatientID: uuid.New(), Severity: 6})

	req := httptest.NewRequest(http.MethodPost, "/?clinic_id="+clinicID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Recalculate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"recalculated":2`) {
		t.Errorf("expected 2 recalculated entries, got %s", rec.Body.String())
	}
}

func TestHandler_GetEntry_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetEntry(c)
	if err == nil {
		t.Error("expected error for unknown entry")
	}
}

func TestHandler_UpdateStatus(t *testing.T) {
	h, e := newTestHandler()
	entry := &Entry{ClinicID: uuid.New(), PatientID: uuid.New(), Severity: 5}
	h.svc.CheckIn(nil, entry)

	body := `{"status":"in_consultation","doctor_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())

	if err := h.UpdateStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_UpdateStatus_InvalidStatus(t *testing.T) {
	h, e := newTestHandler()
	entry := &Entry{ClinicID: uuid.New(), PatientID: uuid.New(), Severity: 5}
	h.svc.CheckIn(nil, entry)

	body := `{"status":"vanished"}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())

	if err := h.UpdateStatus(c); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestHandler_Remove(t *testing.T) {
	h, e := newTestHandler()
	entry := &Entry{ClinicID: uuid.New(), PatientID: uuid.New(), Severity: 5}
	h.svc.CheckIn(nil, entry)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(entry.ID.String())

	if err := h.Remove(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
