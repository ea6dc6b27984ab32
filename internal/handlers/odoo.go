package handlers

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/xelth-com/odoostore/internal/lock"
	"github.com/xelth-com/odoostore/internal/services/jobs"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type fetchRequest struct {
	DataTypes   []string `json:"dataTypes"`
	Incremental bool     `json:"incremental"`
}

type idsRequest struct {
	IDs []int64 `json:"ids"`
}

type listResponse struct {
	Items interface{} `json:"items"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// getStatus reports whether Odoo is configured and reachable
func (r *Router) getStatus(w http.ResponseWriter, req *http.Request) {
	status := map[string]interface{}{
		"configured":  r.deps.Odoo != nil,
		"collections": r.deps.Staging.Collections(),
		"pushEnabled": r.deps.Sessions != nil,
	}
	if r.deps.Odoo == nil {
		respondMessage(w, http.StatusOK, status, "Odoo is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), 10*time.Second)
	defer cancel()
	info, err := r.deps.Odoo.Version(ctx)
	if err != nil {
		status["reachable"] = false
		status["error"] = err.Error()
		respondMessage(w, http.StatusOK, status, "Odoo is unreachable")
		return
	}
	status["reachable"] = true
	status["version"] = info.ServerVersion
	respondJSON(w, http.StatusOK, status)
}

func (r *Router) fetch(w http.ResponseWriter, req *http.Request) {
	var body fetchRequest
	if err := decodeBody(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	entry, err := r.deps.Jobs.Fetch(req.Context(), body.DataTypes, staging.FetchOptions{Incremental: body.Incremental})
	r.respondRun(w, entry, err, "Fetch completed")
}

func (r *Router) importCategories(w http.ResponseWriter, req *http.Request) {
	var body idsRequest
	if err := decodeBody(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := r.deps.Jobs.ImportCategories(req.Context(), body.IDs)
	r.respondRun(w, res, err, "Category import completed")
}

func (r *Router) importProducts(w http.ResponseWriter, req *http.Request) {
	var body idsRequest
	if err := decodeBody(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := r.deps.Jobs.ImportProducts(req.Context(), body.IDs)
	r.respondRun(w, res, err, "Product import completed")
}

func (r *Router) importPromotions(w http.ResponseWriter, req *http.Request) {
	var body idsRequest
	if err := decodeBody(req, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	res, err := r.deps.Jobs.ImportPromotions(req.Context(), body.IDs)
	r.respondRun(w, res, err, "Promotion import completed")
}

func (r *Router) dedupePromotions(w http.ResponseWriter, req *http.Request) {
	res, err := r.deps.Jobs.DeduplicatePromotions(req.Context())
	r.respondRun(w, res, err, "Duplicate promotions merged")
}

func (r *Router) pushStock(w http.ResponseWriter, req *http.Request) {
	session, err := r.deps.Jobs.PushStock(req.Context())
	if err == nil && session == nil {
		respondMessage(w, http.StatusOK, nil, "No pending stock to push")
		return
	}
	r.respondRun(w, session, err, "Stock push completed")
}

func (r *Router) listSessions(w http.ResponseWriter, req *http.Request) {
	if r.deps.Sessions == nil {
		respondError(w, http.StatusServiceUnavailable, jobs.ErrPushDisabled.Error())
		return
	}
	page, limit := pageParams(req)
	sessions, total, err := r.deps.Sessions.ListSessions(req.Context(), page, limit)
	if err != nil {
		r.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: sessions, Total: total, Page: page, Limit: limit})
}

func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	if r.deps.Sessions == nil {
		respondError(w, http.StatusServiceUnavailable, jobs.ErrPushDisabled.Error())
		return
	}
	id, err := uuid.Parse(mux.Vars(req)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}
	session, err := r.deps.Sessions.GetSession(req.Context(), id)
	if err != nil {
		r.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (r *Router) stagingStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.deps.Staging.Stats(req.Context())
	if err != nil {
		r.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (r *Router) listStaging(w http.ResponseWriter, req *http.Request) {
	page, limit := pageParams(req)
	res, err := r.deps.Staging.List(req.Context(), mux.Vars(req)["collection"], staging.ListOptions{
		Page:   page,
		Limit:  limit,
		Status: req.URL.Query().Get("status"),
	})
	if err != nil {
		r.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) listLogs(w http.ResponseWriter, req *http.Request) {
	page, limit := pageParams(req)
	logs, total, err := r.deps.Staging.Logs(req.Context(), page, limit)
	if err != nil {
		r.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, listResponse{Items: logs, Total: total, Page: page, Limit: limit})
}

// respondRun answers a triggered pass. A pass that failed part way still
// returns its partial result next to the error.
func (r *Router) respondRun(w http.ResponseWriter, result interface{}, err error, message string) {
	if err == nil {
		respondMessage(w, http.StatusOK, result, message)
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", zap.Error(err))
	}
	body := envelope{Error: err.Error()}
	if !isNil(result) {
		body.Data = result
	}
	writeEnvelope(w, status, body)
}

func (r *Router) respondFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.log.Error("request failed", zap.Error(err))
	}
	respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lock.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrPushDisabled), errors.Is(err, staging.ErrNoSource):
		return http.StatusServiceUnavailable
	case errors.Is(err, staging.ErrUnknownCollection), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// isNil catches typed nil pointers stored in the interface
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}

func pageParams(req *http.Request) (int, int) {
	q := req.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}
