package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finflowhq/ledgerdocs/internal/core/domain"
	"github.com/finflowhq/ledgerdocs/internal/core/rules"
	"github.com/finflowhq/ledgerdocs/internal/observability/metrics"
)

type ingestorFake struct {
	doc *domain.Document
	err error

	gotOwner    string
	gotFilename string
}

func (f *ingestorFake) Upload(_ context.Context, ownerID, filename, _ string, _ io.Reader) (*domain.Document, error) {
	f.gotOwner = ownerID
	f.gotFilename = filename
	if f.err != nil {
		return nil, f.err
	}
	return f.doc, nil
}

type docRepoFake struct {
	doc *domain.Document
	err error
}

func (f *docRepoFake) Create(context.Context, *domain.Document) error { return nil }
func (f *docRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.doc == nil || f.doc.ID != id {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	return f.doc, nil
}
func (f *docRepoFake) UpdateStatus(context.Context, string, domain.DocumentStatus, string) error {
	return nil
}
func (f *docRepoFake) UpdateProgress(context.Context, string, int) error { return nil }
func (f *docRepoFake) SaveProcessingResult(context.Context, string, domain.ExtractionResult, domain.MappingResult, domain.AccountingStatus) error {
	return nil
}
func (f *docRepoFake) UpdateMappedField(context.Context, string, string, domain.FieldMapping) error {
	return nil
}
func (f *docRepoFake) ListReadyForExport(context.Context, string) ([]domain.Document, error) {
	return nil, nil
}
func (f *docRepoFake) MarkExported(context.Context, []string) error { return nil }

type ruleRepoFake struct {
	created []domain.Rule
	listed  []domain.Rule
}

func (f *ruleRepoFake) Create(_ context.Context, rule *domain.Rule) error {
	f.created = append(f.created, *rule)
	return nil
}
func (f *ruleRepoFake) ListByOwner(context.Context, string) ([]domain.Rule, error) {
	return f.listed, nil
}
func (f *ruleRepoFake) GetActiveRules(context.Context, string) ([]domain.Rule, error) {
	return nil, nil
}
func (f *ruleRepoFake) InsertApplication(context.Context, *domain.RuleApplication) error { return nil }
func (f *ruleRepoFake) MarkOverridden(context.Context, string) error                     { return nil }
func (f *ruleRepoFake) ListApplications(context.Context, string) ([]domain.RuleApplication, error) {
	return nil, nil
}

type reviewerFake struct {
	edited      []string
	reprocessed []string
	err         error
}

func (f *reviewerFake) EditField(_ context.Context, documentID, fieldName, value, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.edited = append(f.edited, documentID+"/"+fieldName+"="+value)
	return nil
}
func (f *reviewerFake) ReprocessField(_ context.Context, documentID, fieldName string) error {
	if f.err != nil {
		return f.err
	}
	f.reprocessed = append(f.reprocessed, documentID+"/"+fieldName)
	return nil
}
func (f *reviewerFake) Reprocess(_ context.Context, documentID string) error {
	if f.err != nil {
		return f.err
	}
	f.reprocessed = append(f.reprocessed, documentID)
	return nil
}

type exportServiceFake struct {
	payload string
	count   int
	err     error
}

func (f *exportServiceFake) Export(_ context.Context, _ string, w io.Writer) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.count > 0 {
		_, _ = w.Write([]byte(f.payload))
	}
	return f.count, nil
}

func newTestRouter(ingest *ingestorFake, docs *docRepoFake, ruleRepo *ruleRepoFake, reviewer *reviewerFake, exporter *exportServiceFake) http.Handler {
	engine := rules.NewEngine(ruleRepo, rules.DefaultConfig())
	rt := NewRouter(ingest, docs, ruleRepo, engine, reviewer, exporter, metrics.NewHTTPServerMetrics("test"))
	return rt.Handler()
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestUploadRequiresOwnerHeader(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	body, contentType := multipartUpload(t, "invoice.pdf", "%PDF-1.7")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestUploadAcceptsDocument(t *testing.T) {
	ingest := &ingestorFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusPending}}
	handler := newTestRouter(ingest, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	body, contentType := multipartUpload(t, "invoice.pdf", "%PDF-1.7")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(ownerIDHeader, "owner-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body)
	}
	if ingest.gotOwner != "owner-1" || ingest.gotFilename != "invoice.pdf" {
		t.Fatalf("upload not forwarded: owner=%q filename=%q", ingest.gotOwner, ingest.gotFilename)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
}

func TestGetDocumentNotFoundMapsTo404(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetDocumentReturnsDocument(t *testing.T) {
	docs := &docRepoFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusCompleted, Progress: 100}}
	handler := newTestRouter(&ingestorFake{}, docs, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc domain.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if doc.ID != "doc-1" || doc.Progress != 100 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestEditFieldRoute(t *testing.T) {
	reviewer := &reviewerFake{}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, reviewer, &exportServiceFake{})

	body := strings.NewReader(`{"value":"7100","reasoning":"misclassified"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/documents/doc-1/fields/line_item_0_gl_account", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if len(reviewer.edited) != 1 || reviewer.edited[0] != "doc-1/line_item_0_gl_account=7100" {
		t.Fatalf("edit not forwarded: %v", reviewer.edited)
	}
}

func TestFieldReprocessRoute(t *testing.T) {
	reviewer := &reviewerFake{}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, reviewer, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/fields/line_item_0_gl_account/reprocess", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(reviewer.reprocessed) != 1 || reviewer.reprocessed[0] != "doc-1/line_item_0_gl_account" {
		t.Fatalf("reprocess not forwarded: %v", reviewer.reprocessed)
	}
}

func TestDocumentReprocessRouteQueues(t *testing.T) {
	reviewer := &reviewerFake{}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, reviewer, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/reprocess", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(reviewer.reprocessed) != 1 || reviewer.reprocessed[0] != "doc-1" {
		t.Fatalf("reprocess not forwarded: %v", reviewer.reprocessed)
	}
}

func TestCreateRuleValidatesAndPersists(t *testing.T) {
	ruleRepo := &ruleRepoFake{}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, ruleRepo, &reviewerFake{}, &exportServiceFake{})

	body := strings.NewReader(`{
		"name": "Adobe licenses",
		"priority": 10,
		"conditions": {"vendor_patterns": ["adobe"]},
		"actions": {"code": "6815", "auto_assign": true}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rules", body)
	req.Header.Set(ownerIDHeader, "owner-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	if len(ruleRepo.created) != 1 {
		t.Fatalf("expected one created rule, got %d", len(ruleRepo.created))
	}
	rule := ruleRepo.created[0]
	if rule.ID == "" || rule.OwnerID != "owner-1" || !rule.IsActive {
		t.Fatalf("unexpected rule: %+v", rule)
	}
}

func TestCreateRuleRejectsMissingCode(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	body := strings.NewReader(`{"name": "Broken", "actions": {}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rules", body)
	req.Header.Set(ownerIDHeader, "owner-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRuleTestPreviewUsesProductionScoring(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	body := strings.NewReader(`{
		"conditions": {"vendor_patterns": ["adobe"]},
		"line_item": {"description": "Creative Cloud", "amount": "54.99", "vendor_name": "Adobe Inc"}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/rules/test", body)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var result domain.RuleTestResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !result.Matched {
		t.Fatalf("expected match: %+v", result)
	}
	if result.Confidence != 0.3 {
		t.Fatalf("vendor-only rule scores 30/100, got %f", result.Confidence)
	}
	if result.Explanation == "" {
		t.Fatalf("expected explanation")
	}
}

func TestExportStreamsWorkbook(t *testing.T) {
	exporter := &exportServiceFake{payload: "workbook-bytes", count: 3}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, exporter)

	req := httptest.NewRequest(http.MethodPost, "/v1/export?owner_id=owner-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Exported-Count") != "3" {
		t.Fatalf("expected exported count header, got %q", rec.Header().Get("X-Exported-Count"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "ledger.xlsx") {
		t.Fatalf("expected attachment disposition, got %q", rec.Header().Get("Content-Disposition"))
	}
	if rec.Body.String() != "workbook-bytes" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestExportNothingToExportReturnsJSON(t *testing.T) {
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, &reviewerFake{}, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/export?owner_id=owner-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"exported":0`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestTemporaryErrorMapsTo503(t *testing.T) {
	reviewer := &reviewerFake{err: domain.WrapError(domain.ErrTemporary, "publish", errors.New("nats down"))}
	handler := newTestRouter(&ingestorFake{}, &docRepoFake{}, &ruleRepoFake{}, reviewer, &exportServiceFake{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/reprocess", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
