package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/schedule"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

// slotsHandler serves GET /doctors/{doctorID}/slots?clinic_id=&date=&duration=
func slotsHandler(res *availability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r, "doctorID")
		if !ok {
			return
		}
		clinicID, ok := queryClinic(w, r)
		if !ok {
			return
		}
		date, err := timerange.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		duration, err := strconv.Atoi(r.URL.Query().Get("duration"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_duration", "duration must be a number of minutes")
			return
		}

		slots, err := res.ComputeSlots(r.Context(), doctorID, date, clinicID, duration)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		if slots == nil {
			slots = []availability.Slot{}
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID:    doctorID,
			ClinicID:    clinicID,
			Date:        timerange.FormatDate(date),
			DurationMin: duration,
			Slots:       slots,
		})
	}
}

// availabilityHandler serves GET /doctors/{doctorID}/availability?clinic_id=&start=&end=
func availabilityHandler(res *availability.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r, "doctorID")
		if !ok {
			return
		}
		clinicID, ok := queryClinic(w, r)
		if !ok {
			return
		}
		start, err := timerange.ParseDate(r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start", "start must be YYYY-MM-DD")
			return
		}
		end, err := timerange.ParseDate(r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end", "end must be YYYY-MM-DD")
			return
		}

		days, err := res.AvailabilityRange(r.Context(), doctorID, clinicID, start, end)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := make([]DayAvailabilityResponse, 0, len(days))
		for _, d := range days {
			resp = append(resp, DayAvailabilityResponse{Date: timerange.FormatDate(d.Date), Available: d.Available})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listBlocksHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clinicID, ok := queryClinic(w, r)
		if !ok {
			return
		}
		f := schedule.BlockFilter{ClinicID: clinicID}
		if v := r.URL.Query().Get("doctor_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			f.DoctorID = &id
		}
		if v := r.URL.Query().Get("weekday"); v != "" {
			wd, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0-6")
				return
			}
			f.Weekday = &wd
		}

		blocks, err := svc.ListBlocks(r.Context(), actorFrom(r.Context()), f)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := make([]BlockResponse, 0, len(blocks))
		for _, b := range blocks {
			resp = append(resp, toBlockResponse(b))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createBlockHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		b, err := svc.CreateBlock(r.Context(), actorFrom(r.Context()), schedule.BlockInput{
			ClinicID:  req.ClinicID,
			DoctorID:  req.DoctorID,
			Weekday:   req.Weekday,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBlockResponse(*b))
	}
}

func deleteBlockHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteBlock(r.Context(), actorFrom(r.Context()), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// listExceptionsHandler serves GET /doctors/{doctorID}/exceptions?from=&to=.
// Without bounds it returns the next 90 days.
func listExceptionsHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r, "doctorID")
		if !ok {
			return
		}

		from := timerange.NormalizeDate(time.Now())
		to := from.AddDate(0, 0, availability.MaxRangeDays)
		if v := r.URL.Query().Get("from"); v != "" {
			d, err := timerange.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
				return
			}
			from = d
		}
		if v := r.URL.Query().Get("to"); v != "" {
			d, err := timerange.ParseDate(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
				return
			}
			to = d
		}

		list, err := svc.ListExceptions(r.Context(), actorFrom(r.Context()), doctorID, from, to)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := make([]ExceptionResponse, 0, len(list))
		for _, e := range list {
			resp = append(resp, toExceptionResponse(e))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func createExceptionHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExceptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		date, err := timerange.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		e, err := svc.CreateException(r.Context(), actorFrom(r.Context()), schedule.ExceptionInput{
			DoctorID:  req.DoctorID,
			Date:      date,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			Reason:    req.Reason,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toExceptionResponse(*e))
	}
}

func deleteExceptionHandler(svc *schedule.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		if err := svc.DeleteException(r.Context(), actorFrom(r.Context()), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// queryClinic reads clinic_id and checks the caller is assigned to it.
func queryClinic(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("clinic_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinic_id", "clinic_id must be a valid UUID")
		return uuid.Nil, false
	}
	if !actorFrom(r.Context()).InClinic(id) {
		writeError(w, http.StatusForbidden, "forbidden", "actor is not assigned to clinic "+id.String())
		return uuid.Nil, false
	}
	return id, true
}
