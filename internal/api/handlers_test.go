package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vetclinic/visit-scheduling/internal/scheduling"
)

type apiFixture struct {
	handler http.Handler
	repo    *scheduling.MemoryRepository
	vet     scheduling.Vet
	pet     scheduling.Pet
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	slots := scheduling.NewSlotService(repo)
	visits := scheduling.NewVisitService(repo, slots, scheduling.NopLocker{})
	gate := scheduling.NewIdempotencyGate(repo)

	handler := NewRouter(RouterConfig{
		Visits:  visits,
		Slots:   slots,
		Gate:    gate,
		Env:     "test",
		Version: "test",
		Logger:  zerolog.Nop(),
	})

	return &apiFixture{
		handler: handler,
		repo:    repo,
		vet:     repo.PutVet(scheduling.Vet{Name: "Dr. Adams"}),
		pet:     repo.PutPet(scheduling.Pet{Name: "Rex", OwnerID: uuid.New()}),
	}
}

func (f *apiFixture) seedSlot(t *testing.T, start string) scheduling.VetSlot {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse time %q: %v", start, err)
	}
	return f.repo.PutSlot(scheduling.VetSlot{
		VetID:     f.vet.ID,
		StartTime: ts,
		EndTime:   ts.Add(30 * time.Minute),
	})
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return out
}

func (f *apiFixture) createVisit(t *testing.T, slotID uuid.UUID) VisitResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
		PetID:  f.pet.ID.String(),
		SlotID: slotID.String(),
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create visit: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decodeBody[VisitResponse](t, rec)
}

func TestCreateVisitEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")

	rec := f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
		PetID:  f.pet.ID.String(),
		SlotID: slot.ID.String(),
	}, nil)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[VisitResponse](t, rec)
	if resp.Status != "SCHEDULED" {
		t.Errorf("status = %s, want SCHEDULED", resp.Status)
	}
	if resp.SlotID != slot.ID {
		t.Errorf("slot = %s, want %s", resp.SlotID, slot.ID)
	}
	if !resp.StartTime.Equal(slot.StartTime) {
		t.Errorf("start_time = %s, want %s", resp.StartTime, slot.StartTime)
	}

	wantLocation := "/visits/" + resp.ID.String()
	if got := rec.Header().Get("Location"); got != wantLocation {
		t.Errorf("Location = %q, want %q", got, wantLocation)
	}
}

func TestCreateVisitEndpointBadRequest(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		body any
		code string
	}{
		{"malformed json", "{oops", "invalid_request_body"},
		{"bad pet id", CreateVisitRequest{PetID: "nope", SlotID: uuid.NewString()}, "invalid_pet_id"},
		{"bad slot id", CreateVisitRequest{PetID: uuid.NewString(), SlotID: "nope"}, "invalid_slot_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/visits", tc.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			resp := decodeBody[ErrorResponse](t, rec)
			if resp.Error != tc.code {
				t.Errorf("error = %q, want %q", resp.Error, tc.code)
			}
		})
	}
}

func TestCreateVisitEndpointUnknownEntities(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")

	rec := f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
		PetID:  uuid.NewString(),
		SlotID: slot.ID.String(),
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown pet: status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
		PetID:  f.pet.ID.String(),
		SlotID: uuid.NewString(),
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown slot: status = %d, want 404", rec.Code)
	}
}

func TestCreateVisitEndpointSlotTaken(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	f.createVisit(t, slot.ID)

	otherPet := f.repo.PutPet(scheduling.Pet{Name: "Milo", OwnerID: uuid.New()})
	rec := f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
		PetID:  otherPet.ID.String(),
		SlotID: slot.ID.String(),
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, rec)
	if resp.Error != "invalid_state" {
		t.Errorf("error = %q, want invalid_state", resp.Error)
	}
}

// A retried POST with the same Idempotency-Key must not book a second slot
// and must return the byte-identical body of the first response.
func TestCreateVisitEndpointIdempotencyReplay(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")

	body := CreateVisitRequest{PetID: f.pet.ID.String(), SlotID: slot.ID.String()}
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	first := f.do(t, http.MethodPost, "/visits", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first: status = %d, body = %s", first.Code, first.Body.String())
	}

	second := f.do(t, http.MethodPost, "/visits", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: status = %d, body = %s", second.Code, second.Body.String())
	}
	if !bytes.Equal(first.Body.Bytes(), second.Body.Bytes()) {
		t.Errorf("replay body differs:\nfirst:  %s\nsecond: %s", first.Body.String(), second.Body.String())
	}

	// Only one visit exists.
	page := decodeBody[VisitPageResponse](t, f.do(t, http.MethodGet, "/visits", nil, nil))
	if page.TotalItems != 1 {
		t.Errorf("total visits = %d, want 1", page.TotalItems)
	}
}

func TestGetVisitEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	created := f.createVisit(t, slot.ID)

	rec := f.do(t, http.MethodGet, "/visits/"+created.ID.String(), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[VisitResponse](t, rec)
	if resp.ID != created.ID {
		t.Errorf("id = %s, want %s", resp.ID, created.ID)
	}

	if rec := f.do(t, http.MethodGet, "/visits/"+uuid.NewString(), nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown visit: status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/visits/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestRescheduleEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	newSlot := f.seedSlot(t, "2030-01-02T10:00:00Z")
	created := f.createVisit(t, slot.ID)

	rec := f.do(t, http.MethodPost, "/visits/"+created.ID.String()+"/reschedule",
		RescheduleVisitRequest{NewSlotID: newSlot.ID.String()}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[VisitResponse](t, rec)
	if resp.SlotID != newSlot.ID {
		t.Errorf("slot = %s, want %s", resp.SlotID, newSlot.ID)
	}
	if !resp.StartTime.Equal(newSlot.StartTime) {
		t.Errorf("start_time = %s, want %s", resp.StartTime, newSlot.StartTime)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	created := f.createVisit(t, slot.ID)

	rec := f.do(t, http.MethodPost, "/visits/"+created.ID.String()+"/cancel",
		CancelVisitRequest{Reason: "owner request"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[VisitResponse](t, rec)
	if resp.Status != "CANCELLED" {
		t.Errorf("status = %s, want CANCELLED", resp.Status)
	}
	if resp.CancellationReason == nil || *resp.CancellationReason != "owner request" {
		t.Errorf("reason = %v, want %q", resp.CancellationReason, "owner request")
	}
}

// Cancel without a body is accepted and records the default reason.
func TestCancelEndpointEmptyBody(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	created := f.createVisit(t, slot.ID)

	rec := f.do(t, http.MethodPost, "/visits/"+created.ID.String()+"/cancel", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[VisitResponse](t, rec)
	if resp.CancellationReason == nil || *resp.CancellationReason != scheduling.DefaultCancellationReason {
		t.Errorf("reason = %v, want %q", resp.CancellationReason, scheduling.DefaultCancellationReason)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	slot := f.seedSlot(t, "2030-01-01T10:00:00Z")
	created := f.createVisit(t, slot.ID)

	rec := f.do(t, http.MethodPost, "/visits/"+created.ID.String()+"/complete", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[VisitResponse](t, rec)
	if resp.Status != "COMPLETED" {
		t.Errorf("status = %s, want COMPLETED", resp.Status)
	}
	if resp.CompletedAt == nil {
		t.Error("completed_at missing")
	}

	// Completing twice is an invalid transition.
	rec = f.do(t, http.MethodPost, "/visits/"+created.ID.String()+"/complete", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("second complete: status = %d, want 400", rec.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	for i, start := range []string{"2030-01-01T10:00:00Z", "2030-01-02T10:00:00Z", "2030-01-03T10:00:00Z"} {
		slot := f.seedSlot(t, start)
		pet := f.repo.PutPet(scheduling.Pet{Name: fmt.Sprintf("pet-%d", i), OwnerID: uuid.New()})
		rec := f.do(t, http.MethodPost, "/visits", CreateVisitRequest{
			PetID:  pet.ID.String(),
			SlotID: slot.ID.String(),
		}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("seed visit %d: status = %d", i, rec.Code)
		}
	}

	page := decodeBody[VisitPageResponse](t, f.do(t, http.MethodGet,
		"/visits?vet_id="+f.vet.ID.String()+"&status=SCHEDULED&size=2", nil, nil))
	if page.TotalItems != 3 {
		t.Errorf("total = %d, want 3", page.TotalItems)
	}
	if len(page.Items) != 2 {
		t.Errorf("items = %d, want 2", len(page.Items))
	}
	if page.TotalPages != 2 {
		t.Errorf("pages = %d, want 2", page.TotalPages)
	}

	// A lone date filters to that day's midnight start instant; none of the
	// seeded slots start at midnight, so the day-collapsed point matches none.
	empty := decodeBody[VisitPageResponse](t, f.do(t, http.MethodGet, "/visits?date=2031-06-06", nil, nil))
	if empty.TotalItems != 0 {
		t.Errorf("total = %d, want 0", empty.TotalItems)
	}
}

func TestSearchEndpointBadParams(t *testing.T) {
	f := newAPIFixture(t)

	for name, query := range map[string]string{
		"bad vet id": "?vet_id=nope",
		"bad status": "?status=PENDING",
		"bad date":   "?date=01-02-2030",
		"bad page":   "?page=-1",
		"bad size":   "?size=0",
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/visits"+query, nil, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400, body = %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListVetSlotsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	open := f.seedSlot(t, "2030-01-01T10:00:00Z")
	taken := f.seedSlot(t, "2030-01-02T10:00:00Z")
	f.createVisit(t, taken.ID)

	rec := f.do(t, http.MethodGet, "/vets/"+f.vet.ID.String()+"/slots", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	slots := decodeBody[[]SlotResponse](t, rec)
	if len(slots) != 1 {
		t.Fatalf("slots = %d, want 1 (only the unbooked one)", len(slots))
	}
	if slots[0].ID != open.ID {
		t.Errorf("slot = %s, want %s", slots[0].ID, open.ID)
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/health/live", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("liveness: status = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/health/ready", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("readiness: status = %d, want 200", rec.Code)
	}
}
