package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/rules"
)

// Handler implements the HTTP API.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	eventBus domain.EventBus
	events   *bus.Publisher
	engine   *rules.Engine
	pipeline *pipeline.Pipeline
	version  string
}

// NewHandler creates the API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, engine *rules.Engine, p *pipeline.Pipeline, version string) *Handler {
	h := &Handler{
		repo:     repo,
		cache:    cache,
		eventBus: eventBus,
		engine:   engine,
		pipeline: p,
		version:  version,
	}
	if eventBus != nil {
		h.events = bus.NewPublisher(eventBus)
	}
	return h
}

// --- decisioning ---

// Decide runs a transaction through the pipeline synchronously and returns
// the decision.
func (h *Handler) Decide(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction payload: "+err.Error())
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.TenantID = tenantID
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	result, err := h.pipeline.Process(r.Context(), &tx)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, "transaction already decided")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Ingest accepts a transaction for asynchronous decisioning via the bus.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction payload: "+err.Error())
		return
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	tx.TenantID = tenantID
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}

	if h.events == nil {
		writeError(w, http.StatusServiceUnavailable, "async ingestion is not configured")
		return
	}
	if err := h.events.TransactionIngested(r.Context(), &tx, "api"); err != nil {
		writeError(w, http.StatusServiceUnavailable, "enqueue failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": tx.ID, "status": "queued"})
}

// GetDecision returns a decision by its id.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	d, err := h.repo.GetDecision(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetDecisionByTx returns the decision made for a transaction.
func (h *Handler) GetDecisionByTx(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	d, err := h.repo.GetDecisionByTx(r.Context(), tenantID, chi.URLParam(r, "txId"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GetTransaction returns a stored transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	tx, err := h.repo.GetTransaction(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// --- rules ---

// ListRules returns the tenant's active rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	list, err := h.repo.ListActiveRules(r.Context(), tenantID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": list, "count": len(list)})
}

// GetRule returns one rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	rule, err := h.repo.GetRule(r.Context(), tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates, persists, and hot-loads a rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())

	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule payload: "+err.Error())
		return
	}
	if rule.Name == "" || rule.Condition == "" {
		writeError(w, http.StatusBadRequest, "rule name and condition are required")
		return
	}
	if ok, reason := h.engine.ValidateCondition(rule.Condition); !ok {
		writeError(w, http.StatusUnprocessableEntity, "condition rejected: "+reason)
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.TenantID = tenantID

	if err := h.repo.SaveRule(r.Context(), tenantID, &rule); err != nil {
		writeRepoError(w, err)
		return
	}
	if rule.Active {
		if err := h.engine.LoadRule(&rule); err != nil {
			writeError(w, http.StatusUnprocessableEntity, "rule saved but failed to load: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, &rule)
}

// ValidateRule checks a condition without persisting anything.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Condition string `json:"condition"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	ok, reason := h.engine.ValidateCondition(body.Condition)
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": ok, "reason": reason})
}

// ReloadRules replaces the engine's loaded set from storage.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	list, err := h.repo.ListActiveRules(r.Context(), tenantID)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	if err := h.engine.ReloadRules(list); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"loaded": h.engine.RulesCount()})
}

// --- patterns ---

// ListPatterns returns detected patterns for an entity key.
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	entityKey := r.URL.Query().Get("entity")
	if entityKey == "" {
		writeError(w, http.StatusBadRequest, "entity query parameter is required")
		return
	}
	patterns, err := h.repo.ListPatternsByEntity(r.Context(), tenantID, entityKey)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patterns": patterns, "count": len(patterns)})
}

// --- blocklist ---

// CreateBlocklistEntry adds or updates a deny-list entry.
func (h *Handler) CreateBlocklistEntry(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())

	var e domain.BlocklistEntry
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	if !validBlockEntity(e.EntityType) || e.Value == "" {
		writeError(w, http.StatusBadRequest, "entityType and value are required")
		return
	}
	e.TenantID = tenantID
	if err := h.repo.SaveBlocklistEntry(r.Context(), tenantID, &e); err != nil {
		writeRepoError(w, err)
		return
	}
	// Drop any cached verdict so the new entry takes effect immediately.
	if h.cache != nil {
		_ = h.cache.SetBlocklistVerdict(r.Context(), tenantID, e.EntityType, e.Value, &domain.BlocklistResult{
			Blocked:    true,
			EntityType: e.EntityType,
			Value:      e.Value,
			Reason:     e.Reason,
		}, time.Second)
	}
	writeJSON(w, http.StatusCreated, &e)
}

// DeleteBlocklistEntry removes a deny-list entry.
func (h *Handler) DeleteBlocklistEntry(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantFrom(r.Context())
	entityType := chi.URLParam(r, "entityType")
	value := chi.URLParam(r, "value")

	if err := h.repo.DeleteBlocklistEntry(r.Context(), tenantID, entityType, value); err != nil {
		writeRepoError(w, err)
		return
	}
	if h.cache != nil {
		_ = h.cache.Delete(r.Context(), tenantID, "bl:"+entityType+":"+value)
	}
	w.WriteHeader(http.StatusNoContent)
}

func validBlockEntity(t string) bool {
	for _, known := range domain.BlocklistPriority {
		if t == known {
			return true
		}
	}
	return false
}

// --- health ---

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

// Ready reports readiness of the backing services.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if err := h.repo.Ping(r.Context()); err != nil {
		checks["repository"] = err.Error()
		healthy = false
	} else {
		checks["repository"] = "ok"
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.eventBus != nil {
		if err := h.eventBus.Ping(r.Context()); err != nil {
			checks["bus"] = err.Error()
			healthy = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": healthy, "checks": checks})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
