package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/chengjon/taskmaster-pro-sub002/config"
	"github.com/chengjon/taskmaster-pro-sub002/internal/cache"
	"github.com/chengjon/taskmaster-pro-sub002/internal/core"
	"github.com/chengjon/taskmaster-pro-sub002/internal/providers"
	"github.com/chengjon/taskmaster-pro-sub002/internal/tasks"
)

// stubProvider serves canned responses without any network I/O.
type stubProvider struct {
	text      string
	object    string
	chunks    []string
	callCount int
}

func (p *stubProvider) Initialize(ctx context.Context, cfg core.ProviderConfig) error {
	return nil
}

func (p *stubProvider) GenerateText(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResult, error) {
	p.callCount++
	return &core.GenerateResult{
		Text:  p.text,
		Usage: core.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8},
	}, nil
}

func (p *stubProvider) GenerateObject(ctx context.Context, req *core.ObjectRequest) (*core.ObjectResult, error) {
	return &core.ObjectResult{Object: json.RawMessage(p.object)}, nil
}

func (p *stubProvider) StreamText(ctx context.Context, req *core.GenerateRequest) (core.TextStream, error) {
	return &sliceStream{chunks: p.chunks}, nil
}

func (p *stubProvider) IsConfigured() bool         { return true }
func (p *stubProvider) RequiredAPIKeyName() string { return "STUB_API_KEY" }

type sliceStream struct {
	chunks []string
	pos    int
}

func (s *sliceStream) Next() (string, error) {
	if s.pos >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

// memStore is an in-memory tasks.Store for handler tests.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*tasks.Task
}

func newMemStore() *memStore {
	return &memStore{tasks: make(map[string]*tasks.Task)}
}

func cloneTask(t *tasks.Task) *tasks.Task {
	data, _ := json.Marshal(t)
	var out tasks.Task
	_ = json.Unmarshal(data, &out)
	return &out
}

func (m *memStore) CreateTask(ctx context.Context, task *tasks.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

func (m *memStore) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *memStore) ListTasks(ctx context.Context, filter tasks.Filter) ([]*tasks.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*tasks.Task
	for _, t := range m.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.ProjectID != "" && t.ProjectID != filter.ProjectID {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (m *memStore) UpdateTask(ctx context.Context, task *tasks.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return tasks.ErrNotFound
	}
	m.tasks[task.ID] = cloneTask(task)
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return tasks.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

type testEnv struct {
	server *Server
	stub   *stubProvider
	store  *memStore
}

func newTestEnv(t *testing.T, cfgMut func(*appconfig.Config), srvMut func(*appconfig.ServerConfig, *AuthConfig)) *testEnv {
	t.Helper()

	stub := &stubProvider{
		text:   "generated text",
		object: `{"subtasks":[{"title":"step one"},{"title":"step two"}]}`,
		chunks: []string{"Hel", "lo"},
	}

	cfg := &appconfig.Config{
		AIProvider: map[string]any{"primary": "stub"},
	}
	if cfgMut != nil {
		cfgMut(cfg)
	}

	registry := providers.NewRegistry()
	registry.Register("stub", func() core.Provider { return stub })

	manager := appconfig.NewManager(cfg)
	factory := providers.NewFactory(registry, manager)
	provSvc := providers.NewService(factory)

	store := newMemStore()
	taskSvc := tasks.NewService(store, provSvc)

	handler := NewHandler(provSvc, taskSvc, cache.NewMemoryCache(time.Minute), nil)

	serverCfg := appconfig.ServerConfig{}
	authCfg := AuthConfig{}
	if srvMut != nil {
		srvMut(&serverCfg, &authCfg)
	}

	return &testEnv{
		server: New(handler, serverCfg, authCfg),
		stub:   stub,
		store:  store,
	}
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodGet, "/v1/providers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Providers []string `json:"providers"`
		Primary   string   `json:"primary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"stub"}, resp.Providers)
	assert.Equal(t, "stub", resp.Primary)
}

func TestProviderStatusUnknown(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodGet, "/v1/providers/nope/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown provider: nope")
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate",
		map[string]any{"prompt": "say hi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stub", resp.Provider)
	assert.Equal(t, "generated text", resp.Text)
	assert.Equal(t, 8, resp.Usage.TotalTokens)
	assert.False(t, resp.Cached)
}

func TestGenerateCached(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body := map[string]any{"prompt": "say hi"}
	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.server, http.MethodPost, "/v1/generate", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, env.stub.callCount)
}

func TestGenerateMissingPrompt(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "prompt is required")
}

func TestGenerateNoPrimary(t *testing.T) {
	env := newTestEnv(t, func(cfg *appconfig.Config) {
		cfg.AIProvider = map[string]any{}
	}, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate",
		map[string]any{"prompt": "say hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no primary AI provider configured")
}

func TestGenerateUnknownProvider(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate",
		map[string]any{"prompt": "say hi", "provider": "Missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown provider: Missing")
}

func TestGenerateStream(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/generate/stream",
		map[string]any{"prompt": "say hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"text":"Hel"`)
	assert.Contains(t, body, `"text":"lo"`)
	assert.Contains(t, body, `"done":true`)
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		assert.True(t, strings.HasPrefix(line, "data: "), "line %q is not an SSE data line", line)
	}
}

func TestTaskCRUDOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/tasks",
		map[string]any{"title": "write docs", "priority": "high"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "write docs", created.Title)
	assert.Equal(t, tasks.PriorityHigh, created.Priority)

	rec = doJSON(t, env.server, http.MethodGet, "/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, env.server, http.MethodPatch, "/v1/tasks/"+created.ID,
		map[string]any{"status": "done"})
	require.Equal(t, http.StatusOK, rec.Code)
	var updated tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, tasks.StatusDone, updated.Status)

	rec = doJSON(t, env.server, http.MethodGet, "/v1/tasks?status=done", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Tasks []tasks.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Tasks, 1)

	rec = doJSON(t, env.server, http.MethodDelete, "/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, env.server, http.MethodGet, "/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/tasks",
		map[string]any{"title": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "title is required")
}

func TestExpandTaskOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/tasks",
		map[string]any{"title": "big feature"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, env.server, http.MethodPost, "/v1/tasks/"+created.ID+"/expand",
		map[string]any{"count": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	var expanded tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &expanded))
	require.Len(t, expanded.Subtasks, 2)
	assert.Equal(t, "step one", expanded.Subtasks[0].Title)
}

func TestAddSubTaskOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := doJSON(t, env.server, http.MethodPost, "/v1/tasks",
		map[string]any{"title": "parent"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, env.server, http.MethodPost, "/v1/tasks/"+created.ID+"/subtasks",
		map[string]any{"title": "child"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var updated tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	require.Len(t, updated.Subtasks, 1)
	assert.Equal(t, "child", updated.Subtasks[0].Title)
	assert.Equal(t, created.ID, updated.Subtasks[0].ParentID)
}

func TestGzipRequestBody(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	payload, err := json.Marshal(map[string]any{"title": "compressed task"})
	require.NoError(t, err)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err = gz.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "compressed task")
}
