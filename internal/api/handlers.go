package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/egovportal/internal/models"
	"github.com/punchamoorthee/egovportal/internal/service"
)

const maxBody = 1 << 20

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListServicesHandler(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListServices(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(services))
}

func (h *Handler) GetServiceHandler(w http.ResponseWriter, r *http.Request) {
	svc, err := h.catalog.GetService(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, svc)
}

func (h *Handler) ListDepartmentsHandler(w http.ResponseWriter, r *http.Request) {
	departments, err := h.catalog.ListDepartments(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(departments))
}

func (h *Handler) TrackHandler(w http.ResponseWriter, r *http.Request) {
	tracking, err := h.manager.Track(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, tracking)
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	respondWithJSON(w, http.StatusOK, models.MeResponse{Actor: caller.Actor, Email: caller.Email})
}

func (h *Handler) MyRequestsHandler(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	requests, err := h.manager.ListForCitizen(r.Context(), caller.Actor, caller.Actor.UserID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(requests))
}

func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	detail, err := h.manager.Submit(r.Context(), callerFrom(r.Context()).Actor, service.SubmitCommand{
		ServiceID:     req.ServiceID,
		PaymentMethod: req.PaymentMethod,
		CitizenID:     req.CitizenID,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/requests/"+detail.ID)
	respondWithJSON(w, http.StatusCreated, detail)
}

func (h *Handler) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.manager.ListAll(r.Context(), callerFrom(r.Context()).Actor, r.URL.Query().Get("status"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(requests))
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	detail, err := h.manager.Lookup(r.Context(), callerFrom(r.Context()).Actor, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) TransitionHandler(w http.ResponseWriter, r *http.Request) {
	var req models.TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.manager.Transition(r.Context(), callerFrom(r.Context()).Actor, mux.Vars(r)["id"], service.TransitionCommand{
		Status:  req.Status,
		Remarks: req.Remarks,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, updated)
}

func (h *Handler) CitizenRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.manager.ListForCitizen(r.Context(), callerFrom(r.Context()).Actor, mux.Vars(r)["id"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(requests))
}

func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.manager.Stats(r.Context(), callerFrom(r.Context()).Actor)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) AdminListServicesHandler(w http.ResponseWriter, r *http.Request) {
	services, err := h.catalog.ListAllServices(r.Context(), callerFrom(r.Context()).Actor, r.URL.Query().Get("q"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.NewList(services))
}

func (h *Handler) CreateServiceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateServiceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	svc, err := h.catalog.CreateService(r.Context(), callerFrom(r.Context()).Actor, service.CreateServiceCommand{
		Name:           req.Name,
		Description:    req.Description,
		Fee:            req.Fee,
		DepartmentID:   req.DepartmentID,
		ProcessingTime: req.ProcessingTime,
	})
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/services/"+svc.ID)
	respondWithJSON(w, http.StatusCreated, svc)
}

func (h *Handler) UpdateServiceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateServiceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "is_active is required")
		return
	}

	svc, err := h.catalog.SetServiceActive(r.Context(), callerFrom(r.Context()).Actor, mux.Vars(r)["id"], *req.IsActive)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, svc)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Malformed JSON body")
		return false
	}
	return true
}
