package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisclient "github.com/vetclinic/visit-scheduling/internal/redis"
	"github.com/vetclinic/visit-scheduling/internal/scheduling"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func createVisitHandler(svc *scheduling.VisitService, gate *scheduling.IdempotencyGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateVisitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		key := r.Header.Get("Idempotency-Key")

		// The gate stores the serialized response, so a retried request with
		// the same key gets the byte-identical body without booking again.
		resp, err := scheduling.Execute(r.Context(), gate, key, func(ctx context.Context) (VisitResponse, error) {
			detail, err := svc.Create(ctx, petID, slotID)
			if err != nil {
				return VisitResponse{}, err
			}
			return toVisitResponse(detail), nil
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}

		w.Header().Set("Location", "/visits/"+resp.ID.String())
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getVisitHandler(svc *scheduling.VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		detail, err := svc.GetByID(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toVisitResponse(detail))
	}
}

func rescheduleVisitHandler(svc *scheduling.VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req RescheduleVisitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		newSlotID, err := uuid.Parse(req.NewSlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "new_slot_id must be a valid UUID")
			return
		}

		visit, err := svc.Reschedule(r.Context(), id, newSlotID)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		respondWithDetail(w, r, svc, visit.ID)
	}
}

func cancelVisitHandler(svc *scheduling.VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CancelVisitRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
				return
			}
		}

		visit, err := svc.Cancel(r.Context(), id, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		respondWithDetail(w, r, svc, visit.ID)
	}
}

func completeVisitHandler(svc *scheduling.VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		visit, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		respondWithDetail(w, r, svc, visit.ID)
	}
}

func searchVisitsHandler(svc *scheduling.VisitService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, page, err := parseSearchParams(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_query", err.Error())
			return
		}

		result, err := svc.Search(r.Context(), filters, page)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		items := make([]VisitResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toVisitResponse(&result.Items[i]))
		}

		writeJSON(w, http.StatusOK, VisitPageResponse{
			Items:      items,
			Page:       result.Page,
			Size:       result.Size,
			TotalItems: result.TotalItems,
			TotalPages: result.TotalPages,
		})
	}
}

func listVetSlotsHandler(svc *scheduling.SlotService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		slots, err := svc.AvailableForVet(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}

		out := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			out = append(out, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func respondWithDetail(w http.ResponseWriter, r *http.Request, svc *scheduling.VisitService, id uuid.UUID) {
	detail, err := svc.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toVisitResponse(detail))
}

// parseSearchParams reads the visit search query. A lone "date" sets both
// range bounds; explicit start_date/end_date take precedence per bound.
func parseSearchParams(r *http.Request) (scheduling.VisitFilters, scheduling.PageRequest, error) {
	q := r.URL.Query()
	var filters scheduling.VisitFilters
	var page scheduling.PageRequest

	if v := q.Get("vet_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filters, page, errors.New("vet_id must be a valid UUID")
		}
		filters.VetID = &id
	}

	if v := q.Get("status"); v != "" {
		status, err := scheduling.ParseVisitStatus(v)
		if err != nil {
			return filters, page, err
		}
		filters.Status = &status
	}

	date, err := parseDateParam(q.Get("date"))
	if err != nil {
		return filters, page, err
	}
	start, err := parseDateParam(q.Get("start_date"))
	if err != nil {
		return filters, page, err
	}
	end, err := parseDateParam(q.Get("end_date"))
	if err != nil {
		return filters, page, err
	}
	if start == nil {
		start = date
	}
	if end == nil {
		end = date
	}
	filters.StartDate = start
	filters.EndDate = end

	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filters, page, errors.New("page must be a non-negative integer")
		}
		page.Page = n
	}
	if v := q.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return filters, page, errors.New("size must be a positive integer")
		}
		page.Size = n
	}
	page.SortBy = q.Get("sort_by")
	page.Direction = q.Get("direction")

	return filters, page, nil
}

func parseDateParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	d, err := time.ParseInLocation("2006-01-02", v, time.UTC)
	if err != nil {
		return nil, errors.New("dates must be in YYYY-MM-DD format")
	}
	return &d, nil
}

func writeDomainError(w http.ResponseWriter, err error) {
	var notFound *scheduling.NotFoundError
	var invalidState *scheduling.InvalidStateError
	var alreadyExists *scheduling.AlreadyExistsError
	var conflict *scheduling.ConflictError
	var serialization *scheduling.SerializationError

	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, scheduling.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.As(err, &invalidState):
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
	case errors.As(err, &alreadyExists):
		writeError(w, http.StatusBadRequest, "already_exists", err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &serialization):
		// Never leak serialization internals to the caller.
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}
