package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/timerange"
)

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := timerange.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		appt, err := svc.Book(r.Context(), actorFrom(r.Context()), appointment.BookInput{
			PatientID:         req.PatientID,
			DoctorID:          req.DoctorID,
			ClinicID:          req.ClinicID,
			RoomID:            req.RoomID,
			AppointmentTypeID: req.AppointmentTypeID,
			Date:              date,
			StartTime:         req.StartTime,
			EndTime:           req.EndTime,
			CustomReason:      req.CustomReason,
			CustomPrice:       req.CustomPrice,
			DurationMin:       req.DurationMin,
			Notes:             req.Notes,
			PaymentMethod:     req.PaymentMethod,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var f appointment.AppointmentFilter

		for _, p := range []struct {
			name string
			dst  **uuid.UUID
		}{
			{"clinic_id", &f.ClinicID},
			{"doctor_id", &f.DoctorID},
			{"patient_id", &f.PatientID},
			{"room_id", &f.RoomID},
		} {
			if v := q.Get(p.name); v != "" {
				id, err := uuid.Parse(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be a valid UUID")
					return
				}
				*p.dst = &id
			}
		}

		for _, p := range []struct {
			name string
			dst  **time.Time
		}{
			{"from", &f.DateFrom},
			{"to", &f.DateTo},
		} {
			if v := q.Get(p.name); v != "" {
				d, err := timerange.ParseDate(v)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_"+p.name, p.name+" must be YYYY-MM-DD")
					return
				}
				*p.dst = &d
			}
		}

		if v := q.Get("status"); v != "" {
			for _, raw := range strings.Split(v, ",") {
				st, err := appointment.ParseStatus(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
					return
				}
				f.Statuses = append(f.Statuses, st)
			}
		}
		f.IncludeDeleted = q.Get("include_deleted") == "true"
		f.Limit, _ = strconv.Atoi(q.Get("limit"))
		f.Offset, _ = strconv.Atoi(q.Get("offset"))

		list, err := svc.ListAppointments(r.Context(), actorFrom(r.Context()), f)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toAppointmentResponse(&list[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func updateAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := appointment.UpdateInput{
			PatientID:         req.PatientID,
			DoctorID:          req.DoctorID,
			RoomID:            req.RoomID,
			ClearRoom:         req.ClearRoom,
			AppointmentTypeID: req.AppointmentTypeID,
			StartTime:         req.StartTime,
			EndTime:           req.EndTime,
			CustomReason:      req.CustomReason,
			CustomPrice:       req.CustomPrice,
			DurationMin:       req.DurationMin,
			Notes:             req.Notes,
			PaymentMethod:     req.PaymentMethod,
		}
		if req.Date != nil {
			d, err := timerange.ParseDate(*req.Date)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
				return
			}
			in.Date = &d
		}

		appt, err := svc.UpdateAppointment(r.Context(), actorFrom(r.Context()), id, in)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func transitionStatusHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		var req TransitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.TransitionStatus(r.Context(), actorFrom(r.Context()), id,
			appointment.Status(strings.ToUpper(strings.TrimSpace(req.Status))),
			appointment.TransitionContext{
				PaymentMethod:    req.PaymentMethod,
				PaymentConfirmed: req.PaymentConfirmed,
				CancelReason:     req.CancelReason,
				PaidAmount:       req.PaidAmount,
			})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAuditHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		entries, err := svc.ListAudit(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		resp := make([]AuditEntryResponse, 0, len(entries))
		for _, e := range entries {
			resp = append(resp, toAuditResponse(e))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func softDeleteHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.SoftDelete(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func restoreHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.Restore(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func purgeHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}

		if err := svc.Purge(r.Context(), actorFrom(r.Context()), id); err != nil {
			writeAppError(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func checkConflictsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ConflictCheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		date, err := timerange.ParseDate(req.Date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		reasons, err := svc.CheckConflicts(r.Context(), actorFrom(r.Context()), appointment.ConflictQuery{
			ClinicID:  req.ClinicID,
			DoctorID:  req.DoctorID,
			PatientID: req.PatientID,
			RoomID:    req.RoomID,
			Date:      date,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			ExcludeID: req.ExcludeID,
		})
		if err != nil {
			writeAppError(w, r, err)
			return
		}

		if reasons == nil {
			reasons = []string{}
		}
		writeJSON(w, http.StatusOK, ConflictCheckResponse{HasConflict: len(reasons) > 0, Conflicts: reasons})
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
