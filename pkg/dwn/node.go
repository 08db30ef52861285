// Package dwn composes the CID, schema, signature, record, protocol, grant,
// and storage packages into the per-(interface, method) handlers a node
// exposes: RecordsWrite, RecordsDelete, RecordsRead, RecordsQuery,
// RecordsSubscribe, ProtocolsConfigure, ProtocolsQuery, EventsQuery,
// EventsSubscribe, plus the permission-grant/-revoke record variants
// that ride on RecordsWrite under a reserved protocol path.
package dwn

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ryftlabs/dwn/pkg/did"
	"github.com/ryftlabs/dwn/pkg/events"
	"github.com/ryftlabs/dwn/pkg/log"
	"github.com/ryftlabs/dwn/pkg/reconciler"
	"github.com/ryftlabs/dwn/pkg/signature"
	"github.com/ryftlabs/dwn/pkg/storage"
	"github.com/ryftlabs/dwn/pkg/tenant"
)

// PermissionsProtocol is the reserved protocol URI permission-grant and
// revocation records are written under. It is not configurable: every
// tenant gets it implicitly, without a user-facing ProtocolsConfigure
// step.
const PermissionsProtocol = "https://dwn.tech/protocols/permissions"

const (
	permissionsGrantPath      = "grant"
	permissionsRevocationPath = "grant/revocation"
)

// Config configures a Node.
type Config struct {
	// DataDir is the root directory the bbolt store and per-tenant raft
	// groups persist under.
	DataDir string
	// Resolver resolves signer/owner DIDs to verification keys. Defaults
	// to the did:key driver if nil.
	Resolver did.Resolver
}

// Node is one running DWN instance. It owns, in a shared non-exclusive
// sense, the message/data/event stores, the event broker, the per-tenant
// ordering logs, the DID resolver, and the signature service for its
// lifetime.
type Node struct {
	store   *storage.BoltStore
	control *storage.Controller
	tenants *tenant.Manager
	stream  *events.Broker
	sig     *signature.Service
	recon   *reconciler.Reconciler

	logger zerolog.Logger
}

// NewNode builds a Node backed by a bbolt store under cfg.DataDir, starts
// its per-tenant ordering logs lazily on first use, and starts the
// resumable-task reconciler immediately.
func NewNode(cfg Config) (*Node, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("dwn: open store: %w", err)
	}

	stream := events.NewBroker()
	control := storage.NewController(store, store.Data(), store.EventLog(), stream, store.Tasks())
	tenants := tenant.NewManager(cfg.DataDir, control)

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = did.NewKeyResolver()
	}

	n := &Node{
		store:   store,
		control: control,
		tenants: tenants,
		stream:  stream,
		sig:     signature.NewService(resolver),
		logger:  log.WithComponent("dwn"),
	}

	n.recon = reconciler.NewReconciler(store.Tasks(), tenants)
	n.recon.Start()

	return n, nil
}

// Close stops the reconciler and every per-tenant ordering log, closes the
// event broker, and closes the underlying store.
func (n *Node) Close() error {
	n.recon.Stop()
	_ = n.stream.Close()
	if err := n.tenants.Close(); err != nil {
		n.logger.Error().Err(err).Msg("close tenant ordering logs")
	}
	return n.store.Close()
}
