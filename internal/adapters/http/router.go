package httpadapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/ports"
	"github.com/finflowhq/ledgerdocs/internal/observability/metrics"
)

const ownerIDHeader = "X-Owner-Id"

const serviceName = "api"

type Router struct {
	ingest    ports.DocumentIngestor
	docs      ports.DocumentRepository
	rules     ports.RuleRepository
	evaluator ports.RuleEvaluator
	reviewer  ports.DocumentReviewer
	exporter  ports.LedgerExportService
	metrics   *metrics.HTTPServerMetrics
}

func NewRouter(
	ingest ports.DocumentIngestor,
	docs ports.DocumentRepository,
	rules ports.RuleRepository,
	evaluator ports.RuleEvaluator,
	reviewer ports.DocumentReviewer,
	exporter ports.LedgerExportService,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		ingest:    ingest,
		docs:      docs,
		rules:     rules,
		evaluator: evaluator,
		reviewer:  reviewer,
		exporter:  exporter,
		metrics:   m,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/documents", rt.uploadDocument)
	mux.HandleFunc("/v1/documents/", rt.documentSubroutes)
	mux.HandleFunc("/v1/rules", rt.rulesCollection)
	mux.HandleFunc("/v1/rules/test", rt.testRule)
	mux.HandleFunc("/v1/export", rt.exportLedger)

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	doc, err := rt.ingest.Upload(
		r.Context(),
		ownerID,
		fileHeader.Filename,
		fileHeader.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.RecordUpload(serviceName)
	}
	writeJSON(w, http.StatusAccepted, doc)
}

// documentSubroutes dispatches everything under /v1/documents/{id}:
//
//	GET  /v1/documents/{id}
//	POST /v1/documents/{id}/reprocess
//	PUT  /v1/documents/{id}/fields/{field}
//	POST /v1/documents/{id}/fields/{field}/reprocess
func (rt *Router) documentSubroutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/documents/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document id is required"})
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		rt.getDocument(w, r, id)
	case len(parts) == 2 && parts[1] == "reprocess":
		rt.reprocessDocument(w, r, id)
	case len(parts) == 3 && parts[1] == "fields":
		rt.editField(w, r, id, parts[2])
	case len(parts) == 4 && parts[1] == "fields" && parts[3] == "reprocess":
		rt.reprocessField(w, r, id, parts[2])
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown document route"})
	}
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	doc, err := rt.docs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) reprocessDocument(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := rt.reviewer.Reprocess(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (rt *Router) editField(w http.ResponseWriter, r *http.Request, id, field string) {
	if r.Method != http.MethodPut {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Value     string `json:"value"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	if err := rt.reviewer.EditField(r.Context(), id, field, req.Value, req.Reasoning); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (rt *Router) reprocessField(w http.ResponseWriter, r *http.Request, id, field string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := rt.reviewer.ReprocessField(r.Context(), id, field); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "remapped"})
}

func (rt *Router) rulesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.createRule(w, r)
	case http.MethodGet:
		rt.listRules(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) createRule(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	var req struct {
		Name       string                `json:"name"`
		Priority   int                   `json:"priority"`
		IsActive   *bool                 `json:"is_active"`
		Conditions domain.RuleConditions `json:"conditions"`
		Actions    domain.RuleActions    `json:"actions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rule name is required"})
		return
	}
	if strings.TrimSpace(req.Actions.Code) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actions.code is required"})
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	now := time.Now().UTC()
	rule := &domain.Rule{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       req.Name,
		Priority:   req.Priority,
		IsActive:   isActive,
		Conditions: req.Conditions,
		Actions:    req.Actions,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := rt.rules.Create(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (rt *Router) listRules(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	rules, err := rt.rules.ListByOwner(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if rules == nil {
		rules = []domain.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (rt *Router) testRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		Conditions domain.RuleConditions `json:"conditions"`
		LineItem   domain.LineItemData   `json:"line_item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.LineItem.Description) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "line_item.description is required"})
		return
	}

	result := rt.evaluator.TestRule(req.Conditions, req.LineItem)
	if rt.metrics != nil {
		rt.metrics.RecordRuleTest(serviceName, result.Matched)
	}
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) exportLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	// Buffer the workbook so a mid-write failure never leaks a half file.
	var buf bytes.Buffer
	count, err := rt.exporter.Export(r.Context(), ownerID, &buf)
	if rt.metrics != nil {
		rt.metrics.RecordExport(serviceName, count, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if count == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"exported": 0})
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.xlsx"`)
	w.Header().Set("X-Exported-Count", fmt.Sprintf("%d", count))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func ownerFromRequest(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(ownerIDHeader)); owner != "" {
		return owner
	}
	return strings.TrimSpace(r.URL.Query().Get("owner_id"))
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
