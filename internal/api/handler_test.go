package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nidhogg/toolscope/internal/classifier"
	"github.com/nidhogg/toolscope/internal/search"
	"github.com/nidhogg/toolscope/internal/skill"
	"github.com/nidhogg/toolscope/internal/store"
	"go.uber.org/zap"
)

type fakeSearcher struct {
	resp *search.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &search.Response{Query: req.Query, Items: []search.ResultItem{}, MatchedSkills: []search.MatchedSkill{}}, nil
}

type fakePipeline struct {
	outcome *classifier.Outcome
	err     error
}

func (f *fakePipeline) Classify(context.Context, classifier.Request) (*classifier.Outcome, error) {
	return f.outcome, f.err
}

type fakeSkillStore struct {
	skills map[string]*skill.SkillCategory
	items  map[string][]*skill.SkillItem

	createErr error
}

func (f *fakeSkillStore) CreateSkill(_ context.Context, sk *skill.SkillCategory) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.skills[sk.ID]; exists {
		return fmt.Errorf("skill %s: %w", sk.ID, skill.ErrConflict)
	}
	if f.skills == nil {
		f.skills = map[string]*skill.SkillCategory{}
	}
	f.skills[sk.ID] = sk
	return nil
}

func (f *fakeSkillStore) GetSkill(_ context.Context, id string) (*skill.SkillCategory, error) {
	sk, ok := f.skills[id]
	if !ok {
		return nil, fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
	}
	return sk, nil
}

func (f *fakeSkillStore) ListSkills(context.Context, store.SkillFilter) ([]*skill.SkillCategory, error) {
	var out []*skill.SkillCategory
	for _, sk := range f.skills {
		out = append(out, sk)
	}
	return out, nil
}

func (f *fakeSkillStore) ListSkillItems(_ context.Context, skillID string, _, _ int) ([]*skill.SkillItem, error) {
	if _, ok := f.skills[skillID]; !ok {
		return nil, fmt.Errorf("skill %s: %w", skillID, skill.ErrNotFound)
	}
	return f.items[skillID], nil
}

func (f *fakeSkillStore) UpdateSkillDescription(_ context.Context, id, description string) error {
	sk, ok := f.skills[id]
	if !ok {
		return fmt.Errorf("skill %s: %w", id, skill.ErrNotFound)
	}
	sk.Description = description
	return nil
}

type fakeSuggestions struct {
	pending  []*skill.SkillSuggestion
	approved *skill.SkillCategory
	err      error

	rejected []string
	merged   map[string]string
}

func (f *fakeSuggestions) ListPending(context.Context, int, int) ([]*skill.SkillSuggestion, error) {
	return f.pending, f.err
}

func (f *fakeSuggestions) Approve(_ context.Context, id string) (*skill.SkillCategory, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.approved, nil
}

func (f *fakeSuggestions) Merge(_ context.Context, id, targetSkillID string) (*skill.SkillCategory, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.merged == nil {
		f.merged = map[string]string{}
	}
	f.merged[id] = targetSkillID
	return f.approved, nil
}

func (f *fakeSuggestions) Reject(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.rejected = append(f.rejected, id)
	return nil
}

type fakeRefresher struct {
	enqueued [][]string
}

func (f *fakeRefresher) Enqueue(_ context.Context, skillIDs ...string) error {
	f.enqueued = append(f.enqueued, skillIDs)
	return nil
}

type handlerDeps struct {
	searcher    *fakeSearcher
	pipeline    *fakePipeline
	skills      *fakeSkillStore
	suggestions *fakeSuggestions
	refresh     *fakeRefresher
}

func newTestHandler(t *testing.T) (*handlerDeps, http.Handler) {
	t.Helper()
	deps := &handlerDeps{
		searcher:    &fakeSearcher{},
		pipeline:    &fakePipeline{outcome: &classifier.Outcome{}},
		skills:      &fakeSkillStore{skills: map[string]*skill.SkillCategory{}},
		suggestions: &fakeSuggestions{},
		refresh:     &fakeRefresher{},
	}
	h := NewHandler(deps.searcher, deps.pipeline, deps.skills, deps.suggestions, deps.refresh, zap.NewNop())
	return deps, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestSearchEndpoint(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.searcher.resp = &search.Response{
		Query: "schedule a meeting",
		Items: []search.ResultItem{{ID: "create_calendar_event", Type: "tool", Score: 0.92}},
		MatchedSkills: []search.MatchedSkill{
			{ID: "calendar_management", Score: 0.87},
		},
		Metadata: search.Metadata{StrategyUsed: search.StrategyHierarchical},
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/search", map[string]string{"query": "schedule a meeting"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body search.Response
	decodeJSON(t, resp, &body)
	if len(body.Items) != 1 || body.Items[0].ID != "create_calendar_event" {
		t.Errorf("items = %+v", body.Items)
	}
}

func TestSearchValidationReturns400(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.searcher.err = skill.Validationf("query", "required")
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/search", map[string]string{"query": ""})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSearchTimeoutReturns504(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.searcher.err = fmt.Errorf("embed query: %w", context.DeadlineExceeded)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/search", map[string]string{"query": "slow"})
	if resp.StatusCode != 504 {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
}

func TestClassifyEndpoint(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.pipeline.outcome = &classifier.Outcome{
		Assignments: []skill.ToolSkillAssignment{
			{ItemID: "read_file", SkillID: "file_operations", Confidence: 0.9, IsPrimary: true},
		},
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/classify", map[string]string{
		"item_id": "read_file", "name": "read_file",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out classifier.Outcome
	decodeJSON(t, resp, &out)
	if len(out.Assignments) != 1 {
		t.Errorf("assignments = %+v", out.Assignments)
	}
}

func TestSkillCRUD(t *testing.T) {
	deps, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Create
	resp := postJSON(t, ts, "/api/skills", map[string]interface{}{
		"id": "calendar_management", "name": "Calendar Management",
		"description": "scheduling and events",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	// A new skill gets an initial aggregate refresh.
	if len(deps.refresh.enqueued) != 1 {
		t.Errorf("refresh enqueues = %d, want 1", len(deps.refresh.enqueued))
	}

	// Duplicate
	resp = postJSON(t, ts, "/api/skills", map[string]interface{}{
		"id": "calendar_management", "name": "Calendar Management",
	})
	if resp.StatusCode != 409 {
		t.Fatalf("duplicate: expected 409, got %d", resp.StatusCode)
	}

	// Get
	resp = getJSON(t, ts, "/api/skills/calendar_management")
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var sk skill.SkillCategory
	decodeJSON(t, resp, &sk)
	if sk.Name != "Calendar Management" {
		t.Errorf("name = %q", sk.Name)
	}
	if !sk.IsActive {
		t.Error("created skill should be active")
	}

	// Missing
	resp = getJSON(t, ts, "/api/skills/nope")
	if resp.StatusCode != 404 {
		t.Fatalf("missing: expected 404, got %d", resp.StatusCode)
	}

	// List
	resp = getJSON(t, ts, "/api/skills")
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
}

func TestUpdateSkillDescription(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.skills.skills["file_operations"] = &skill.SkillCategory{
		ID: "file_operations", Name: "File Operations", Description: "old",
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := putJSON(t, ts, "/api/skills/file_operations/description",
		map[string]string{"description": "reading and writing files"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if deps.skills.skills["file_operations"].Description != "reading and writing files" {
		t.Error("description not updated")
	}
	// The edit invalidates the description-fallback embedding.
	if len(deps.refresh.enqueued) != 1 {
		t.Errorf("refresh enqueues = %d, want 1", len(deps.refresh.enqueued))
	}

	resp = putJSON(t, ts, "/api/skills/file_operations/description", map[string]string{})
	if resp.StatusCode != 400 {
		t.Fatalf("empty description: expected 400, got %d", resp.StatusCode)
	}
}

func TestListSkillItems(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.skills.skills["file_operations"] = &skill.SkillCategory{ID: "file_operations", Name: "File Operations"}
	deps.skills.items = map[string][]*skill.SkillItem{
		"file_operations": {
			{ItemID: "read_file", Name: "read_file", Type: skill.ItemTool, Confidence: 0.9, IsPrimary: true},
		},
	}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/skills/file_operations/items")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var items []*skill.SkillItem
	decodeJSON(t, resp, &items)
	if len(items) != 1 || items[0].ItemID != "read_file" {
		t.Errorf("items = %+v", items)
	}

	resp = getJSON(t, ts, "/api/skills/other/items")
	if resp.StatusCode != 404 {
		t.Fatalf("unknown skill: expected 404, got %d", resp.StatusCode)
	}
}

func TestSuggestionEndpoints(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.suggestions.pending = []*skill.SkillSuggestion{
		{ID: "s1", SuggestedName: "Video Editing", Status: skill.SuggestionPending},
	}
	deps.suggestions.approved = &skill.SkillCategory{ID: "video_editing", Name: "Video Editing"}
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/suggestions")
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var pending []*skill.SkillSuggestion
	decodeJSON(t, resp, &pending)
	if len(pending) != 1 {
		t.Errorf("pending = %+v", pending)
	}

	resp = postJSON(t, ts, "/api/suggestions/s1/approve", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("approve: expected 200, got %d", resp.StatusCode)
	}
	var sk skill.SkillCategory
	decodeJSON(t, resp, &sk)
	if sk.ID != "video_editing" {
		t.Errorf("approved skill = %+v", sk)
	}

	resp = postJSON(t, ts, "/api/suggestions/s1/merge", map[string]string{"skill_id": "media_tools"})
	if resp.StatusCode != 200 {
		t.Fatalf("merge: expected 200, got %d", resp.StatusCode)
	}
	if deps.suggestions.merged["s1"] != "media_tools" {
		t.Errorf("merged = %v", deps.suggestions.merged)
	}

	resp = postJSON(t, ts, "/api/suggestions/s1/merge", map[string]string{})
	if resp.StatusCode != 400 {
		t.Fatalf("merge without target: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/suggestions/s1/reject", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("reject: expected 200, got %d", resp.StatusCode)
	}
	if len(deps.suggestions.rejected) != 1 {
		t.Errorf("rejected = %v", deps.suggestions.rejected)
	}
}

func TestSuggestionConflictReturns409(t *testing.T) {
	deps, router := newTestHandler(t)
	deps.suggestions.err = fmt.Errorf("suggestion s1 already resolved: %w", skill.ErrConflict)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/suggestions/s1/approve", nil)
	if resp.StatusCode != 409 {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}
