package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/xelth-com/odoostore/internal/buildinfo"
	"github.com/xelth-com/odoostore/internal/middleware"
	"github.com/xelth-com/odoostore/internal/models"
	"github.com/xelth-com/odoostore/internal/services/odoo"
	"github.com/xelth-com/odoostore/internal/services/promotion"
	"github.com/xelth-com/odoostore/internal/services/staging"
	"go.uber.org/zap"
)

// Jobs triggers sync passes
type Jobs interface {
	Fetch(ctx context.Context, dataTypes []string, opts staging.FetchOptions) (*models.SyncLog, error)
	ImportCategories(ctx context.Context, ids []int64) (*models.ImportResult, error)
	ImportProducts(ctx context.Context, ids []int64) (*models.ImportResult, error)
	ImportPromotions(ctx context.Context, itemIDs []int64) (*promotion.Result, error)
	DeduplicatePromotions(ctx context.Context) (*promotion.DedupeResult, error)
	PushStock(ctx context.Context) (*models.StockPushSession, error)
}

// Staging reads the staging tables and fetch history
type Staging interface {
	Collections() []string
	Stats(ctx context.Context) (map[string]map[string]int64, error)
	List(ctx context.Context, name string, opts staging.ListOptions) (*staging.Page, error)
	Logs(ctx context.Context, page, limit int) ([]models.SyncLog, int64, error)
}

// Sessions reads stock push history
type Sessions interface {
	ListSessions(ctx context.Context, page, limit int) ([]models.StockPushSession, int64, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.StockPushSession, error)
}

// Versioner reports the Odoo server version
type Versioner interface {
	Version(ctx context.Context) (*odoo.VersionInfo, error)
}

// Deps are the services behind the API; Odoo and Sessions may be nil
type Deps struct {
	Jobs      Jobs
	Staging   Staging
	Sessions  Sessions
	Odoo      Versioner
	JWTSecret string // empty leaves /api open
}

// Router wraps the mux router and the sync services
type Router struct {
	*mux.Router
	deps Deps
	log  *zap.Logger
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(deps Deps, log *zap.Logger) *Router {
	r := &Router{
		Router: mux.NewRouter(),
		deps:   deps,
		log:    log.Named("handlers"),
	}
	r.Use(middleware.RequestLogger(log))

	// Health check endpoint
	r.HandleFunc("/health", r.healthCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	if deps.JWTSecret != "" {
		api.Use(middleware.Auth(deps.JWTSecret))
	}

	o := api.PathPrefix("/odoo").Subrouter()
	o.HandleFunc("/status", r.getStatus).Methods("GET")
	o.HandleFunc("/fetch", r.fetch).Methods("POST")
	o.HandleFunc("/import/categories", r.importCategories).Methods("POST")
	o.HandleFunc("/import/products", r.importProducts).Methods("POST")
	o.HandleFunc("/import/promotions", r.importPromotions).Methods("POST")
	o.HandleFunc("/promotions/dedupe", r.dedupePromotions).Methods("POST")
	o.HandleFunc("/stock/push", r.pushStock).Methods("POST")
	o.HandleFunc("/stock/sessions", r.listSessions).Methods("GET")
	o.HandleFunc("/stock/sessions/{id}", r.getSession).Methods("GET")
	o.HandleFunc("/staging/stats", r.stagingStats).Methods("GET")
	o.HandleFunc("/staging/{collection}", r.listStaging).Methods("GET")
	o.HandleFunc("/logs", r.listLogs).Methods("GET")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	return r
}

// healthCheck returns the health status of the API
func (r *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"build":  buildinfo.Current(),
	})
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// respondJSON sends a successful JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	respondMessage(w, status, data, "")
}

func respondMessage(w http.ResponseWriter, status int, data interface{}, message string) {
	writeEnvelope(w, status, envelope{Success: true, Data: data, Message: message})
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	writeEnvelope(w, status, envelope{Error: message})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// decodeBody reads an optional JSON body; an empty body leaves dst untouched
func decodeBody(req *http.Request, dst interface{}) error {
	if req.Body == nil || req.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(req.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
