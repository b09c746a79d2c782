package engine

import (
	"context"
	"sync"
	"time"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// fakeClient implementa whatsapp.Client para os testes do engine
type fakeClient struct {
	mu        sync.Mutex
	state     whatsapp.State
	info      whatsapp.Info
	events    chan whatsapp.Event
	destroyed bool
	sent      []string
	sendErr   error
	initErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		state:  whatsapp.StateOpening,
		events: make(chan whatsapp.Event, 32),
	}
}

func (c *fakeClient) Initialize(ctx context.Context) error {
	return c.initErr
}

func (c *fakeClient) GetState(ctx context.Context) (whatsapp.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return whatsapp.StateUnknown, whatsapp.ErrAdapterTornDown
	}
	return c.state, nil
}

func (c *fakeClient) setState(state whatsapp.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

func (c *fakeClient) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *fakeClient) Destroy(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return whatsapp.ErrAdapterTornDown
	}
	c.destroyed = true
	close(c.events)
	return nil
}

func (c *fakeClient) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

func (c *fakeClient) SendText(ctx context.Context, to, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, body)
	return "msg-" + body, nil
}

func (c *fakeClient) SendMedia(ctx context.Context, to string, media whatsapp.Media) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.sent = append(c.sent, media.FileName)
	return "media-" + media.FileName, nil
}

func (c *fakeClient) sentMessages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeClient) Takeover(ctx context.Context) error { return nil }

func (c *fakeClient) Info() whatsapp.Info { return c.info }

func (c *fakeClient) MemoryUsage(ctx context.Context) (whatsapp.MemoryStats, error) {
	return whatsapp.MemoryStats{}, nil
}

func (c *fakeClient) Events() <-chan whatsapp.Event { return c.events }

func (c *fakeClient) emit(evt whatsapp.Event) {
	evt.Timestamp = time.Now()
	c.events <- evt
}

// fakeFactory entrega clientes pré-criados por instância
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	created map[string]int
	purged  map[string]int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		clients: make(map[string]*fakeClient),
		created: make(map[string]int),
		purged:  make(map[string]int),
	}
}

func (f *fakeFactory) NewClient(ctx context.Context, instanceID string) (whatsapp.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[instanceID]++

	client := newFakeClient()
	f.clients[instanceID] = client
	return client, nil
}

func (f *fakeFactory) clientFor(instanceID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[instanceID]
}

func (f *fakeFactory) PurgeCredentials(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged[instanceID]++
	return nil
}

func (f *fakeFactory) createdCount(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[instanceID]
}

func (f *fakeFactory) purgedCount(instanceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purged[instanceID]
}

// fakeRepo é um instance.Repository em memória
type fakeRepo struct {
	mu        sync.Mutex
	instances map[string]*instance.Instance
}

func newFakeRepo(instances ...*instance.Instance) *fakeRepo {
	repo := &fakeRepo{instances: make(map[string]*instance.Instance)}
	for _, inst := range instances {
		repo.instances[inst.ID] = inst
	}
	return repo
}

func (r *fakeRepo) get(id string) *instance.Instance {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		copy := *inst
		return &copy
	}
	return nil
}

func (r *fakeRepo) Create(ctx context.Context, inst *instance.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return nil, instance.ErrInstanceNotFound
	}
	copy := *inst
	return &copy, nil
}

func (r *fakeRepo) List(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range r.instances {
		copy := *inst
		out = append(out, &copy)
	}
	return out, nil
}

func (r *fakeRepo) ListEnabled(ctx context.Context) ([]*instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*instance.Instance
	for _, inst := range r.instances {
		if inst.Enabled {
			copy := *inst
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (r *fakeRepo) Update(ctx context.Context, inst *instance.Instance) error {
	return r.Create(ctx, inst)
}

func (r *fakeRepo) UpdateConnectionStatus(ctx context.Context, id string, status instance.ConnectionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ConnectionStatus = status
	}
	return nil
}

func (r *fakeRepo) UpdateConnected(ctx context.Context, id, phone string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ConnectionStatus = instance.StatusConnected
		inst.LastConnectionAt = &at
		if phone != "" {
			inst.Phone = phone
		}
	}
	return nil
}

func (r *fakeRepo) UpdateDisconnect(ctx context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ConnectionStatus = instance.StatusDisconnected
		inst.LastDisconnectReason = reason
	}
	return nil
}

func (r *fakeRepo) UpdateReconnectAttempts(ctx context.Context, id string, attempts int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.ReconnectAttempts = attempts
	}
	return nil
}

func (r *fakeRepo) SetEnabled(ctx context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		inst.Enabled = enabled
	}
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
	return nil
}

// fakeBlobs é um BlobStore em memória
type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string]bool
}

func newFakeBlobs(ids ...string) *fakeBlobs {
	blobs := &fakeBlobs{blobs: make(map[string]bool)}
	for _, id := range ids {
		blobs.blobs[id] = true
	}
	return blobs
}

func (b *fakeBlobs) Exists(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blobs[id]
}

func (b *fakeBlobs) Save(id, sourceDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[id] = true
	return nil
}

func (b *fakeBlobs) Extract(id, targetDir string) error { return nil }

func (b *fakeBlobs) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, id)
	return nil
}

func (b *fakeBlobs) List() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for id := range b.blobs {
		ids = append(ids, id)
	}
	return ids, nil
}

// testConfig retorna uma configuração com intervalos curtos para os
// testes não dependerem de timers longos
func testConfig(base string) *config.Config {
	cfg := &config.Config{}
	cfg.Storage.SessionPath = base
	cfg.Storage.CachePath = base

	cfg.Engine = config.EnginePolicy{
		InitTimeout:             2 * time.Second,
		LoadingTimeout:          2 * time.Second,
		PromotionPoll:           20 * time.Millisecond,
		DestroyTimeout:          time.Second,
		HeartbeatInterval:       50 * time.Millisecond,
		StateCheckTimeout:       time.Second,
		MaxConsecutiveFailures:  3,
		MaxContextErrors:        3,
		DeepCheckInterval:       time.Hour,
		DeepCheckTimeout:        time.Second,
		PingTimeoutThreshold:    time.Hour,
		WatchdogInterval:        time.Hour,
		RecoveryCheckInterval:   time.Hour,
		ZombieThreshold:         time.Hour,
		InactivityThreshold:     time.Hour,
		MemoryCheckInterval:     time.Hour,
		ImmediateBaseDelay:      10 * time.Millisecond,
		ImmediateStepDelay:      time.Millisecond,
		BaseDelay:               10 * time.Millisecond,
		MaxDelay:                50 * time.Millisecond,
		JitterMax:               0,
		MaxReconnectAttempts:    20,
		ReconnectResetAfter:     time.Hour,
		MaxQueueSize:            100,
		MessageTTL:              5 * time.Minute,
		MaxSendRetries:          3,
		DrainStabilization:      10 * time.Millisecond,
		DrainPacing:             time.Millisecond,
		RehydrateStagger:        10 * time.Millisecond,
		GracefulShutdownTimeout: 2 * time.Second,
	}
	return cfg
}

type testEnv struct {
	engine  *Engine
	repo    *fakeRepo
	blobs   *fakeBlobs
	factory *fakeFactory
}

func newTestEnv(base string, instances ...*instance.Instance) *testEnv {
	repo := newFakeRepo(instances...)
	blobs := newFakeBlobs()
	factory := newFakeFactory()

	eng := New(testConfig(base), repo, blobs, factory, logger.Nop())

	return &testEnv{
		engine:  eng,
		repo:    repo,
		blobs:   blobs,
		factory: factory,
	}
}

func enabledInstance(id string) *instance.Instance {
	return &instance.Instance{
		ID:      id,
		Name:    id,
		Enabled: true,
	}
}
