package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

type clientState int

const (
	stateRegistered clientState = iota
	stateConnecting
	stateReady
	stateClosed
)

func (s clientState) String() string {
	switch s {
	case stateRegistered:
		return "registered"
	case stateConnecting:
		return "connecting"
	case stateReady:
		return "ready"
	default:
		return "closed"
	}
}

type managedClient struct {
	client Client
	state  clientState

	// connMu serializes session setup for one provider; it is never held
	// together with Manager.mu
	connMu sync.Mutex
}

// Manager maps provider ids to connected clients. It is built once at
// startup and passed to every caller; it holds no business logic.
type Manager struct {
	mu      sync.RWMutex
	clients map[ID]*managedClient
	closed  bool
	logger  *slog.Logger
}

// NewManager creates an empty registry
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		clients: make(map[ID]*managedClient),
		logger:  logger,
	}
}

// Add registers a client for its provider id
func (m *Manager) Add(client Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("provider manager is shut down")
	}
	id := client.ID()
	if _, exists := m.clients[id]; exists {
		return fmt.Errorf("provider %s already registered", id)
	}
	m.clients[id] = &managedClient{client: client, state: stateRegistered}
	return nil
}

// Connect authenticates a registered client. It runs at most once per
// provider; later calls on a ready client are no-ops. The registry lock is
// released while the client talks to its provider, so other providers stay
// usable during a slow login.
func (m *Manager) Connect(ctx context.Context, id ID, creds Credentials) error {
	return m.connect(ctx, id, creds, false)
}

// Reconnect forces a new session, used after an authentication error
func (m *Manager) Reconnect(ctx context.Context, id ID, creds Credentials) error {
	return m.connect(ctx, id, creds, true)
}

func (m *Manager) connect(ctx context.Context, id ID, creds Credentials, force bool) error {
	m.mu.RLock()
	mc, ok := m.clients[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotInitialized)
	}

	mc.connMu.Lock()
	defer mc.connMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrNotInitialized)
	}
	if mc.state == stateReady && !force {
		m.mu.Unlock()
		return nil
	}
	mc.state = stateConnecting
	m.mu.Unlock()

	err := mc.client.Connect(ctx, creds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s: %w", id, ErrNotInitialized)
	}
	if err != nil {
		mc.state = stateRegistered
		return fmt.Errorf("failed to connect %s: %w", id, err)
	}
	mc.state = stateReady
	m.logger.Info("Provider connected", "provider", id)
	return nil
}

// Get returns the connected client for id
func (m *Manager) Get(id ID) (Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.clients[id]
	if !ok || mc.state != stateReady {
		return nil, fmt.Errorf("%s: %w", id, ErrNotInitialized)
	}
	return mc.client, nil
}

// Providers lists registered provider ids in sorted order
func (m *Manager) Providers() []ID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]ID, 0, len(m.clients))
	for id := range m.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// State reports the lifecycle state of a provider for diagnostics
func (m *Manager) State(id ID) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mc, ok := m.clients[id]
	if !ok {
		return "unregistered"
	}
	return mc.state.String()
}

// Shutdown closes the registry; every later Get fails
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, mc := range m.clients {
		mc.state = stateClosed
	}
	m.logger.Info("Provider manager shut down")
}

// Sync runs an incremental sync on the provider's client
func (m *Manager) Sync(ctx context.Context, id ID, checkpoint Checkpoint) (*Batch, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Sync(ctx, checkpoint)
}

// SyncActivity fetches and maps one activity from the provider
func (m *Manager) SyncActivity(ctx context.Context, id ID, activityID string) (*MappedActivity, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.SyncActivity(ctx, activityID)
}

// SyncGears lists the provider's gear
func (m *Manager) SyncGears(ctx context.Context, id ID) ([]MappedGear, error) {
	c, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return c.SyncGears(ctx)
}

// LinkActivityGear attaches gear to an activity on the provider
func (m *Manager) LinkActivityGear(ctx context.Context, id ID, activityID, gearID string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.LinkActivityGear(ctx, activityID, gearID)
}

// UnlinkActivityGear detaches gear from an activity on the provider
func (m *Manager) UnlinkActivityGear(ctx context.Context, id ID, activityID, gearID string) error {
	c, err := m.Get(id)
	if err != nil {
		return err
	}
	return c.UnlinkActivityGear(ctx, activityID, gearID)
}
