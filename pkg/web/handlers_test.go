package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/pkg/comfy"
	"github.com/promptgate/promptgate/pkg/dispatch"
	"github.com/promptgate/promptgate/pkg/hooks"
	"github.com/promptgate/promptgate/pkg/models"
	"github.com/promptgate/promptgate/pkg/objectstore"
	"github.com/promptgate/promptgate/pkg/parameterize"
	"github.com/promptgate/promptgate/pkg/persistence"
	"github.com/promptgate/promptgate/pkg/persistence/file"
	"github.com/promptgate/promptgate/pkg/web"
)

var testTokens = map[string]int64{
	"token-seven": 7,
	"token-eight": 8,
}

type stubGateway struct {
	submitResult comfy.SubmitResult
	history      map[string]any
}

func (g *stubGateway) SubmitPrompt(context.Context, string, comfy.PromptRequest) (comfy.SubmitResult, error) {
	return g.submitResult, nil
}

func (g *stubGateway) History(context.Context, string, string) (map[string]any, error) {
	if g.history == nil {
		return map[string]any{}, nil
	}

	return g.history, nil
}

type stubNodeClient struct{}

func (stubNodeClient) UploadImage(context.Context, string, string) (string, error) {
	return "staged.png", nil
}

func (stubNodeClient) View(context.Context, string, string, string) ([]byte, error) {
	return []byte("png"), nil
}

type stubArtifacts struct{}

func (stubArtifacts) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	return "file:///artifacts/" + key, nil
}

type stubSelector struct{}

func (stubSelector) Select(any) string {
	return "http://node-a:8188"
}

type testEnv struct {
	app   *fiber.App
	store persistence.Persistence
	root  string
}

func setupTestApp(t *testing.T, gateway *stubGateway) *testEnv {
	t.Helper()

	root := t.TempDir()
	store := file.NewPersistence(filepath.Join(root, "db"))
	objects := objectstore.NewFSStore(filepath.Join(root, "objects"))
	logger := slog.Default()
	engine := parameterize.NewEngine(stubNodeClient{}, stubArtifacts{}, logger)

	poller := dispatch.NewPoller(dispatch.PollerConfig{
		Persistence: store,
		Nodes:       gateway,
		Engine:      engine,
		Logger:      logger,
		Attempts:    3,
		Interval:    time.Millisecond,
	})

	service := dispatch.NewService(dispatch.ServiceConfig{
		Persistence: store,
		Objects:     objects,
		Nodes:       gateway,
		Selector:    stubSelector{},
		Engine:      engine,
		Hooks:       hooks.NewRegistry(logger),
		Poller:      poller,
		Logger:      logger,
	})

	handlers := web.NewAPIHandlers(service, store, objects,
		validator.New(validator.WithRequiredStructEnabled()), logger)

	app := fiber.New()
	handlers.RegisterRoutes(app, testTokens)

	return &testEnv{app: app, store: store, root: root}
}

func (e *testEnv) seedWorkflow(t *testing.T, workflow *models.Workflow, template string) {
	t.Helper()

	if workflow.Status == "" {
		workflow.Status = models.WorkflowReleased
	}

	require.NoError(t, e.store.WorkflowRepository().Save(context.Background(), workflow))

	path := filepath.Join(e.root, "objects", workflow.TemplateKey)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(template), 0o644))
}

func sampleWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:            "wf-1",
		TenantID:      7,
		Name:          "text generation",
		InputParams:   []models.InputParam{{Name: "prompt", Type: "str", Required: true}},
		OutputParams:  []models.OutputParam{{Name: "text", Type: "str"}},
		InputMapping:  map[string]string{"prompt": "$..text"},
		OutputMapping: map[string]string{"text": "$..text"},
		TemplateKey:   "templates/wf-1.json",
	}
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if token != "" {
		req.Header.Set(web.TokenHeader, token)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, raw
}

func TestSubmitPromptSync(t *testing.T) {
	gateway := &stubGateway{
		submitResult: comfy.SubmitResult{StatusCode: 200, Body: `{"prompt_id":"p-1"}`, PromptID: "p-1"},
		history: map[string]any{
			"p-1": map[string]any{"outputs": map[string]any{"9": map[string]any{"text": "done"}}},
		},
	}

	env := setupTestApp(t, gateway)
	env.seedWorkflow(t, sampleWorkflow(), `{"6":{"inputs":{"text":""}}}`)

	resp, raw := doJSON(t, env.app, http.MethodPost, "/prompt", "token-seven", map[string]any{
		"task_id":     "task-1",
		"workflow_id": "wf-1",
		"params":      map[string]any{"prompt": "a quiet harbor"},
		"is_sync":     true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var out dispatch.SubmitResponse

	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "task-1", out.TaskID)
	assert.Equal(t, models.TaskFinished, out.Status)
	assert.Equal(t, "done", out.Output["text"])
}

func TestSubmitPromptRequiresToken(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})

	resp, _ := doJSON(t, env.app, http.MethodPost, "/prompt", "", map[string]any{
		"task_id":     "task-1",
		"workflow_id": "wf-1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, env.app, http.MethodPost, "/prompt", "wrong-token", map[string]any{
		"task_id":     "task-1",
		"workflow_id": "wf-1",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSubmitPromptDuplicateConflicts(t *testing.T) {
	gateway := &stubGateway{
		submitResult: comfy.SubmitResult{StatusCode: 200, Body: `{"prompt_id":"p-1"}`, PromptID: "p-1"},
	}

	env := setupTestApp(t, gateway)
	env.seedWorkflow(t, sampleWorkflow(), `{"6":{"inputs":{"text":""}}}`)

	body := map[string]any{
		"task_id":     "task-dup",
		"workflow_id": "wf-1",
		"params":      map[string]any{"prompt": "x"},
	}

	resp, _ := doJSON(t, env.app, http.MethodPost, "/prompt", "token-seven", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, raw := doJSON(t, env.app, http.MethodPost, "/prompt", "token-seven", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var problem map[string]any

	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, float64(dispatch.CodeTaskExists), problem["code"])
}

func TestSubmitPromptMissingParam(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})
	env.seedWorkflow(t, sampleWorkflow(), `{"6":{"inputs":{"text":""}}}`)

	resp, raw := doJSON(t, env.app, http.MethodPost, "/prompt", "token-seven", map[string]any{
		"task_id":     "task-mp",
		"workflow_id": "wf-1",
		"params":      map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var problem map[string]any

	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, float64(dispatch.CodeParamError), problem["code"])
}

func TestSubmitPromptUnknownWorkflow(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})

	resp, raw := doJSON(t, env.app, http.MethodPost, "/prompt", "token-seven", map[string]any{
		"task_id":     "task-uw",
		"workflow_id": "wf-missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem map[string]any

	require.NoError(t, json.Unmarshal(raw, &problem))
	assert.Equal(t, float64(dispatch.CodeWorkflowNotFound), problem["code"])
}

func TestGetHistoryPendingAndUnknown(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})

	task := &models.Task{
		ID:         "task-p",
		WorkflowID: "wf-1",
		TenantID:   7,
		Status:     models.TaskPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	require.NoError(t, env.store.TaskRepository().Create(context.Background(), task))

	resp, raw := doJSON(t, env.app, http.MethodPost, "/history", "token-seven", map[string]any{"task_id": "task-p"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out dispatch.SubmitResponse

	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, models.TaskPending, out.Status)

	// Another tenant's token cannot see the task.
	resp, _ = doJSON(t, env.app, http.MethodPost, "/history", "token-eight", map[string]any{"task_id": "task-p"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, env.app, http.MethodPost, "/history", "token-seven", map[string]any{"task_id": "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowLifecycleOverHTTP(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})

	workflow := sampleWorkflow()

	resp, raw := doJSON(t, env.app, http.MethodPut, "/workflows/wf-1", "token-seven", workflow)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = doJSON(t, env.app, http.MethodGet, "/workflows/wf-1", "token-seven", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fetched models.Workflow

	require.NoError(t, json.Unmarshal(raw, &fetched))
	assert.Equal(t, "text generation", fetched.Name)
	assert.Equal(t, int64(7), fetched.TenantID)

	// Cross-tenant read is a 404, not a 403, so ids do not leak.
	resp, _ = doJSON(t, env.app, http.MethodGet, "/workflows/wf-1", "token-eight", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, env.app, http.MethodDelete, "/workflows/wf-1", "token-seven", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, env.app, http.MethodGet, "/workflows/wf-1", "token-seven", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetWorkflowTemplate(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})
	env.seedWorkflow(t, sampleWorkflow(), `{"6":{"inputs":{"text":""}}}`)

	resp, raw := doJSON(t, env.app, http.MethodGet, "/workflows/wf-1/template", "token-seven", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		WorkflowID string         `json:"workflow_id"`
		Template   map[string]any `json:"template"`
	}

	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "wf-1", out.WorkflowID)
	assert.Contains(t, out.Template, "6")
}

func TestListWorkflowsIncludesWildcardTenant(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})
	env.seedWorkflow(t, sampleWorkflow(), `{}`)

	shared := sampleWorkflow()
	shared.ID = "wf-shared"
	shared.TenantID = models.WildcardTenant
	shared.TemplateKey = "templates/wf-shared.json"
	env.seedWorkflow(t, shared, `{}`)

	resp, raw := doJSON(t, env.app, http.MethodGet, "/workflows", "token-seven", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Workflows  []models.Workflow `json:"workflows"`
		TotalCount int               `json:"total_count"`
	}

	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2, out.TotalCount)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestApp(t, &stubGateway{})

	resp, raw := doJSON(t, env.app, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any

	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "healthy", out["status"])
}
