package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/ryftlabs/dwn/pkg/storage"
)

// group is one tenant's ordering log: a single-voter Raft group and the
// FSM it drives.
type group struct {
	raft *raft.Raft
	fsm  *FSM
}

// Manager owns one ordering-log group per tenant, created lazily on first
// use. Tenants never interact with each other's groups; there is no
// cross-tenant serialization or shared log.
type Manager struct {
	dataDir string
	control *storage.Controller

	mu     sync.Mutex
	groups map[string]*group
}

// NewManager builds a Manager that persists each tenant's ordering log
// under its own subdirectory of dataDir, applying committed commands
// against control.
func NewManager(dataDir string, control *storage.Controller) *Manager {
	return &Manager{dataDir: dataDir, control: control, groups: make(map[string]*group)}
}

// Submit appends cmd to tenant's ordering log, waits for it to commit, and
// returns the domain error (if any) Apply produced. A tenant's group is
// bootstrapped on first use.
func (m *Manager) Submit(tenant string, op Op, payload any) error {
	g, err := m.groupFor(tenant)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ordering-log payload: %w", err)
	}
	cmd := Command{Op: op, Data: data}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal ordering-log command: %w", err)
	}

	future := g.raft.Apply(raw, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("ordering-log apply: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if respErr, ok := resp.(error); ok {
			return respErr
		}
	}
	return nil
}

// IsLeader reports whether this process holds the single voter seat for
// tenant, bootstrapping its group if necessary. Every group this Manager
// creates is a single-voter group, so this is true once bootstrap
// completes and false only while an election is still settling.
func (m *Manager) IsLeader(tenant string) (bool, error) {
	g, err := m.groupFor(tenant)
	if err != nil {
		return false, err
	}
	return g.raft.State() == raft.Leader, nil
}

// Tenants returns the tenants with a currently open ordering-log group,
// mainly for metrics collection.
func (m *Manager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenants := make([]string, 0, len(m.groups))
	for t := range m.groups {
		tenants = append(tenants, t)
	}
	return tenants
}

// Close shuts down every tenant group this Manager has opened.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, g := range m.groups {
		if err := g.raft.Shutdown().Error(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.groups = make(map[string]*group)
	return firstErr
}

func (m *Manager) groupFor(tenant string) (*group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.groups[tenant]; ok {
		return g, nil
	}

	g, err := m.bootstrap(tenant)
	if err != nil {
		return nil, err
	}
	m.groups[tenant] = g
	return g, nil
}

// bootstrap stands up a single-voter Raft group for tenant, reusing the
// tuned failover timeouts a Warren manager node applies for fast
// elections, and an in-memory transport since this group is never
// addressed over the network by default.
func (m *Manager) bootstrap(tenant string) (*group, error) {
	dir := filepath.Join(m.dataDir, "tenants", tenantDirName(tenant))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create tenant ordering-log directory: %w", err)
	}

	localID := raft.ServerID(tenantDirName(tenant))

	config := raft.DefaultConfig()
	config.LocalID = localID
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	_, transport := raft.NewInmemTransport(raft.ServerAddress(localID))

	snapshotStore, err := raft.NewFileSnapshotStore(dir, 1, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(dir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	fsm := NewFSM(tenant, m.control)

	r, err := raft.NewRaft(config, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	bootstrapFuture := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: localID, Address: transport.LocalAddr()}},
	})
	if err := bootstrapFuture.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrap tenant ordering log: %w", err)
	}

	waitForLeadership(r, 5*time.Second)

	return &group{raft: r, fsm: fsm}, nil
}

// waitForLeadership blocks until r becomes leader or timeout elapses. A
// single-voter group always wins its own election; this only bridges the
// brief window between BootstrapCluster returning and that election
// completing, so the first Submit after NewManager doesn't race it.
func waitForLeadership(r *raft.Raft, timeout time.Duration) {
	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.State() == raft.Leader {
			return
		}
		select {
		case <-ticker.C:
		case <-deadline:
			return
		}
	}
}

// tenantDirName derives a filesystem-safe, collision-resistant directory
// name from a tenant DID, which otherwise carries ':' and other
// characters unsafe in a path component.
func tenantDirName(tenant string) string {
	sum := sha256.Sum256([]byte(tenant))
	return hex.EncodeToString(sum[:])
}
