package dwn

import (
	"encoding/json"
	"fmt"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
	"github.com/ryftlabs/dwn/pkg/metrics"
	"github.com/ryftlabs/dwn/pkg/record"
	"github.com/ryftlabs/dwn/pkg/schema"
	"github.com/ryftlabs/dwn/pkg/tenant"
)

// ConfigureProtocol implements the ProtocolsConfigure handler: only the
// tenant may configure its own protocols, and the newest
// configuration by messageTimestamp (tie-broken by messageCid) governs
// every later authorization decision for that protocol URI. Earlier
// configurations are left on file rather than reclaimed, since a later
// query may still need to audit what a protocol used to require.
func (n *Node) ConfigureProtocol(tenantDID string, msg *dwntypes.Message) (*Reply, error) {
	if err := n.configureProtocol(tenantDID, msg); err != nil {
		return toReply(err), err
	}
	metrics.MessagesAcceptedTotal.WithLabelValues(string(dwntypes.InterfaceProtocols), string(dwntypes.MethodConfigure)).Inc()
	return Accepted(), nil
}

func (n *Node) configureProtocol(tenantDID string, msg *dwntypes.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("dwn: marshal message: %w", err)
	}
	if err := schema.ValidateMessageShape(raw); err != nil {
		return err
	}
	desc, ok := msg.Descriptor.(*dwntypes.ProtocolsConfigureDescriptor)
	if !ok {
		return dwnerr.New(dwnerr.KindSchemaInvalid, "expected a ProtocolsConfigure descriptor")
	}
	if msg.Authorization == nil || msg.Authorization.Signature == "" {
		return dwnerr.New(dwnerr.KindInvalidSignature, "message carries no signature")
	}

	descriptorCID, err := record.DescriptorCID(desc)
	if err != nil {
		return err
	}
	signerDID, payload, err := n.sig.Verify(msg.Authorization.Signature)
	if err != nil {
		return err
	}
	var sigPayload dwntypes.SignaturePayload
	if err := json.Unmarshal(payload, &sigPayload); err != nil {
		return fmt.Errorf("dwn: decode signature payload: %w", err)
	}
	if sigPayload.DescriptorCID != descriptorCID {
		return dwnerr.New(dwnerr.KindDescriptorCidMismatch, "signaturePayload.descriptorCid does not match descriptor")
	}
	if signerDID != tenantDID {
		return dwnerr.New(dwnerr.KindActionNotAllowed, "only the tenant may configure its own protocols")
	}

	messageCID, err := record.MessageCID(msg)
	if err != nil {
		return err
	}
	idx := map[string]any{
		"interface":        string(dwntypes.InterfaceProtocols),
		"method":            string(dwntypes.MethodConfigure),
		"protocol":          desc.Definition.Protocol,
		"published":        desc.Definition.Published,
		"messageTimestamp": desc.MessageTimestamp,
	}
	return n.tenants.Submit(tenantDID, tenant.OpPut, tenant.PutPayload{
		Message: msg, MessageCID: messageCID, Indexes: idx,
	})
}

// QueryProtocols implements the ProtocolsQuery handler: the tenant's own
// request always resolves, and published protocols are readable by
// anyone, extending read authorization to protocol definitions.
func (n *Node) QueryProtocols(tenantDID, requesterDID, protocolURI string) (*dwntypes.ProtocolDefinition, *Reply, error) {
	def, ok, err := n.LatestDefinition(tenantDID, protocolURI)
	if err != nil {
		return nil, toReply(err), err
	}
	if !ok {
		err := dwnerr.New(dwnerr.KindProtocolNotFound, "no protocol configured for %s", protocolURI)
		return nil, toReply(err), err
	}
	if tenantDID != requesterDID && !def.Published {
		err := dwnerr.New(dwnerr.KindActionNotAllowed, "protocol %s is not published", protocolURI)
		return nil, toReply(err), err
	}
	return def, OK(), nil
}
