package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
	"zapgate/internal/infra/engine"
	"zapgate/pkg/logger"
)

// --- fakes mínimos para exercitar os handlers ---

type stubRepo struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
}

func newStubRepo(instances ...*instance.Instance) *stubRepo {
	r := &stubRepo{instances: make(map[string]*instance.Instance)}
	for _, inst := range instances {
		r.instances[inst.ID] = inst
	}
	return r
}

func (r *stubRepo) Create(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[inst.ID]; ok {
		return instance.ErrInstanceAlreadyExists
	}
	r.instances[inst.ID] = inst
	return nil
}

func (r *stubRepo) GetByID(ctx context.Context, id string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, instance.ErrInstanceNotFound
	}
	copied := *inst
	return &copied, nil
}

func (r *stubRepo) List(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		copied := *inst
		out = append(out, &copied)
	}
	return out, nil
}

func (r *stubRepo) ListEnabled(ctx context.Context) ([]*instance.Instance, error) {
	all, _ := r.List(ctx)
	out := all[:0]
	for _, inst := range all {
		if inst.Enabled {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *stubRepo) Update(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return nil
}

func (r *stubRepo) UpdateConnectionStatus(ctx context.Context, id string, status instance.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ConnectionStatus = status
	}
	return nil
}

func (r *stubRepo) UpdateConnected(ctx context.Context, id, phone string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.MarkConnected(phone)
	}
	return nil
}

func (r *stubRepo) UpdateDisconnect(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.MarkDisconnected(reason)
	}
	return nil
}

func (r *stubRepo) UpdateReconnectAttempts(ctx context.Context, id string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ReconnectAttempts = attempts
	}
	return nil
}

func (r *stubRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return instance.ErrInstanceNotFound
	}
	inst.Enabled = enabled
	return nil
}

func (r *stubRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return instance.ErrInstanceNotFound
	}
	delete(r.instances, id)
	return nil
}

type stubBlobs struct{}

func (stubBlobs) Exists(id string) bool            { return false }
func (stubBlobs) Save(id, sourceDir string) error  { return nil }
func (stubBlobs) Extract(id, destDir string) error { return nil }
func (stubBlobs) Delete(id string) error           { return nil }
func (stubBlobs) List() ([]string, error)          { return nil, nil }

type stubClient struct {
	events chan whatsapp.Event
}

func newStubClient() *stubClient {
	return &stubClient{events: make(chan whatsapp.Event, 8)}
}

func (c *stubClient) Initialize(ctx context.Context) error { return nil }
func (c *stubClient) GetState(ctx context.Context) (whatsapp.State, error) {
	return whatsapp.StateOpening, nil
}
func (c *stubClient) Destroy(ctx context.Context) error { return nil }
func (c *stubClient) SendText(ctx context.Context, to, body string) (string, error) {
	return "msg-1", nil
}
func (c *stubClient) SendMedia(ctx context.Context, to string, m whatsapp.Media) (string, error) {
	return "msg-2", nil
}
func (c *stubClient) Takeover(ctx context.Context) error { return nil }
func (c *stubClient) Info() whatsapp.Info                { return whatsapp.Info{} }
func (c *stubClient) MemoryUsage(ctx context.Context) (whatsapp.MemoryStats, error) {
	return whatsapp.MemoryStats{}, nil
}
func (c *stubClient) Events() <-chan whatsapp.Event { return c.events }

type stubFactory struct{}

func (stubFactory) NewClient(ctx context.Context, instanceID string) (whatsapp.Client, error) {
	return newStubClient(), nil
}

func (stubFactory) PurgeCredentials(ctx context.Context, instanceID string) error { return nil }

func newTestEngine(t *testing.T, repo instance.Repository) *engine.Engine {
	t.Helper()

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Storage.CachePath = t.TempDir()

	eng := engine.New(cfg, repo, stubBlobs{}, stubFactory{}, logger.Nop())
	t.Cleanup(func() { eng.Shutdown(context.Background()) })
	return eng
}

func postJSON(t *testing.T, handler http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

// --- testes ---

func TestSendTextQueuesWhenInstanceOffline(t *testing.T) {
	repo := newStubRepo(&instance.Instance{ID: "inst-1", Name: "Inst", Enabled: true})
	eng := newTestEngine(t, repo)
	h := NewSendHandler(eng, repo, nil, logger.Nop())

	rec := postJSON(t, h.SendText, SendTextRequest{
		Instance: "inst-1",
		To:       "5511999990000",
		Message:  "oi",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Queued   bool `json:"queued"`
			Position int  `json:"position"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Data.Queued)
	assert.Equal(t, 1, resp.Data.Position)
}

func TestSendTextRejectsUnknownInstance(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(t, repo)
	h := NewSendHandler(eng, repo, nil, logger.Nop())

	rec := postJSON(t, h.SendText, SendTextRequest{
		Instance: "ghost",
		To:       "5511999990000",
		Message:  "oi",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSendTextRejectsInvalidToken(t *testing.T) {
	repo := newStubRepo(&instance.Instance{ID: "inst-1", Name: "Inst", Enabled: true, APIToken: "secreto"})
	eng := newTestEngine(t, repo)
	h := NewSendHandler(eng, repo, nil, logger.Nop())

	rec := postJSON(t, h.SendText, SendTextRequest{
		Instance: "inst-1",
		To:       "5511999990000",
		Message:  "oi",
		Token:    "errado",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(t, h.SendText, SendTextRequest{
		Instance: "inst-1",
		To:       "5511999990000",
		Message:  "oi",
		Token:    "secreto",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestSendTextRejectsMalformedBody(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(t, repo)
	h := NewSendHandler(eng, repo, nil, logger.Nop())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{invalid")))
	rec := httptest.NewRecorder()
	h.SendText(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendTextRejectsMissingFields(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(t, repo)
	h := NewSendHandler(eng, repo, nil, logger.Nop())

	rec := postJSON(t, h.SendText, SendTextRequest{Instance: "inst-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsEngineSnapshot(t *testing.T) {
	repo := newStubRepo()
	eng := newTestEngine(t, repo)
	h := NewHealthHandler(eng)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Status        string `json:"status"`
			TotalSessions int    `json:"totalSessions"`
			Uptime        string `json:"uptime"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data.Status)
	assert.Equal(t, 0, resp.Data.TotalSessions)
	assert.NotEmpty(t, resp.Data.Uptime)
}
