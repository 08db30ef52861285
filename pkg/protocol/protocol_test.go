package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ryftlabs/dwn/pkg/dwnerr"
	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

type fakeProvider struct {
	def *dwntypes.ProtocolDefinition
}

func (f fakeProvider) LatestDefinition(tenant, protocolURI string) (*dwntypes.ProtocolDefinition, bool, error) {
	if f.def == nil {
		return nil, false, nil
	}
	return f.def, true, nil
}

func chatDefinition() *dwntypes.ProtocolDefinition {
	return &dwntypes.ProtocolDefinition{
		Protocol: "https://example.com/chat",
		Types: map[string]dwntypes.TypeDef{
			"thread":  {Schema: "https://example.com/thread", DataFormats: []string{"application/json"}},
			"message": {Schema: "https://example.com/message", DataFormats: []string{"application/json", "text/plain"}},
		},
		Structure: map[string]*dwntypes.ProtocolRuleSet{
			"thread": {
				Type: "thread",
				Actions: []dwntypes.ActionRule{
					{Who: dwntypes.WhoAnyone, Can: []dwntypes.Action{dwntypes.ActionCreate}},
				},
				Children: map[string]*dwntypes.ProtocolRuleSet{
					"message": {
						Type:        "message",
						MaxDataSize: 1000,
						Tags: &dwntypes.TagsSchema{
							Required:   []string{"status"},
							Properties: map[string]dwntypes.TagProperty{"status": {Type: "string", Enum: []any{"sent", "read"}}},
						},
						Actions: []dwntypes.ActionRule{
							{Who: dwntypes.WhoAuthor, Of: "thread", Can: []dwntypes.Action{dwntypes.ActionCreate, dwntypes.ActionRead}},
							{Who: dwntypes.WhoRecipient, Of: "thread", Can: []dwntypes.Action{dwntypes.ActionCreate, dwntypes.ActionRead}},
							{Role: "thread/participant", Can: []dwntypes.Action{dwntypes.ActionCreate}},
						},
					},
					"participant": {
						Role: true,
					},
				},
			},
		},
	}
}

func TestResolveNodeRequiresConfiguredProtocol(t *testing.T) {
	_, _, err := ResolveNode(fakeProvider{}, "did:key:tenant", "https://example.com/chat", "thread")
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindProtocolNotFound, err.(*dwnerr.Error).Kind)
}

func TestResolveNodeRejectsUndefinedPath(t *testing.T) {
	_, _, err := ResolveNode(fakeProvider{def: chatDefinition()}, "did:key:tenant", "https://example.com/chat", "thread/bogus")
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindInvalidParent, err.(*dwnerr.Error).Kind)
}

func TestResolveNodeFindsNestedPath(t *testing.T) {
	_, node, err := ResolveNode(fakeProvider{def: chatDefinition()}, "did:key:tenant", "https://example.com/chat", "thread/message")
	assert.NoError(t, err)
	assert.Equal(t, "message", node.Type)
}

func TestDetermineActionTable(t *testing.T) {
	assert.Equal(t, dwntypes.ActionCreate, DetermineAction(true, true, true, false))
	assert.Equal(t, dwntypes.ActionCreate, DetermineAction(true, true, false, false))
	assert.Equal(t, dwntypes.ActionUpdate, DetermineAction(true, false, true, false))
	assert.Equal(t, dwntypes.ActionCoUpdate, DetermineAction(true, false, false, false))
	assert.Equal(t, dwntypes.ActionDelete, DetermineAction(false, false, true, false))
	assert.Equal(t, dwntypes.ActionDelete, DetermineAction(false, false, true, true))
	assert.Equal(t, dwntypes.ActionCoDelete, DetermineAction(false, false, false, false))
	assert.Equal(t, dwntypes.ActionCoPrune, DetermineAction(false, false, false, true))
}

func TestIsContextualRole(t *testing.T) {
	assert.False(t, IsContextualRole("participant"))
	assert.True(t, IsContextualRole("thread/participant"))
}

type fakeDeps struct {
	ancestorAuthor    string
	ancestorAuthorOK  bool
	ancestorRecipient string
	ancestorRecipOK   bool
	roleExists        bool
	roleErr           error
}

func (f fakeDeps) AncestorAuthor(tenant, contextID, ofPath string) (string, bool, error) {
	return f.ancestorAuthor, f.ancestorAuthorOK, nil
}

func (f fakeDeps) AncestorRecipient(tenant, contextID, ofPath string) (string, bool, error) {
	return f.ancestorRecipient, f.ancestorRecipOK, nil
}

func (f fakeDeps) RoleRecordExists(tenant, rolePath, recipient, contextID string, contextual bool) (bool, error) {
	return f.roleExists, f.roleErr
}

func TestAuthorizeOwnerFallback(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:owner", Author: "did:key:owner"}
	assert.NoError(t, Authorize(node, dwntypes.ActionCreate, ctx, fakeDeps{}))
}

func TestAuthorizeAuthorRuleMatch(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:tenant", Author: "did:key:alice"}
	deps := fakeDeps{ancestorAuthor: "did:key:alice", ancestorAuthorOK: true}
	assert.NoError(t, Authorize(node, dwntypes.ActionCreate, ctx, deps))
}

func TestAuthorizeRecipientRuleMatch(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:tenant", Author: "did:key:bob"}
	deps := fakeDeps{
		ancestorAuthor:    "did:key:alice",
		ancestorAuthorOK:  true,
		ancestorRecipient: "did:key:bob",
		ancestorRecipOK:   true,
	}
	assert.NoError(t, Authorize(node, dwntypes.ActionCreate, ctx, deps))
}

func TestAuthorizeRoleMatchingRecordNotFound(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:tenant", Author: "did:key:carol", ProtocolRole: "thread/participant"}
	deps := fakeDeps{roleExists: false}
	err := Authorize(node, dwntypes.ActionCreate, ctx, deps)
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindMatchingRoleRecordNotFound, err.(*dwnerr.Error).Kind)
}

func TestAuthorizeRoleActionNotAllowed(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:tenant", Author: "did:key:carol", ProtocolRole: "thread/participant"}
	deps := fakeDeps{roleExists: true}
	err := Authorize(node, dwntypes.ActionRead, ctx, deps)
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindActionNotAllowed, err.(*dwnerr.Error).Kind)
}

func TestAuthorizeNoRuleMatches(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := EvalContext{Tenant: "did:key:tenant", Author: "did:key:nobody"}
	err := Authorize(node, dwntypes.ActionCreate, ctx, fakeDeps{})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindActionNotAllowed, err.(*dwnerr.Error).Kind)
}

func TestCheckTypeConformanceRejectsSchemaMismatch(t *testing.T) {
	def := chatDefinition()
	node := def.Structure["thread"].Children["message"]
	err := CheckTypeConformance(def, node, TypeConformance{
		Schema:     "https://example.com/wrong",
		DataFormat: "application/json",
		DataSize:   10,
		Tags:       map[string]any{"status": "sent"},
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindSchemaMismatch, err.(*dwnerr.Error).Kind)
}

func TestCheckTypeConformanceRejectsDataFormatMismatch(t *testing.T) {
	def := chatDefinition()
	node := def.Structure["thread"].Children["message"]
	err := CheckTypeConformance(def, node, TypeConformance{
		Schema:     "https://example.com/message",
		DataFormat: "image/png",
		DataSize:   10,
		Tags:       map[string]any{"status": "sent"},
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindDataFormatMismatch, err.(*dwnerr.Error).Kind)
}

func TestCheckTypeConformanceRejectsOversizedData(t *testing.T) {
	def := chatDefinition()
	node := def.Structure["thread"].Children["message"]
	err := CheckTypeConformance(def, node, TypeConformance{
		Schema:     "https://example.com/message",
		DataFormat: "application/json",
		DataSize:   5000,
		Tags:       map[string]any{"status": "sent"},
	})
	assert.Error(t, err)
	assert.Equal(t, dwnerr.KindDataSizeExceeded, err.(*dwnerr.Error).Kind)
}

func TestCheckTypeConformanceRejectsInvalidTags(t *testing.T) {
	def := chatDefinition()
	node := def.Structure["thread"].Children["message"]
	err := CheckTypeConformance(def, node, TypeConformance{
		Schema:     "https://example.com/message",
		DataFormat: "application/json",
		DataSize:   10,
		Tags:       map[string]any{"status": "bogus"},
	})
	assert.Error(t, err)
}

func TestCheckTypeConformanceAccepts(t *testing.T) {
	def := chatDefinition()
	node := def.Structure["thread"].Children["message"]
	err := CheckTypeConformance(def, node, TypeConformance{
		Schema:     "https://example.com/message",
		DataFormat: "application/json",
		DataSize:   10,
		Tags:       map[string]any{"status": "sent"},
	})
	assert.NoError(t, err)
}

func TestCanReadOwnerSeesEverything(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := ReadEvalContext{Tenant: "did:key:owner", Requester: "did:key:owner", Author: "did:key:alice", Published: false}
	assert.True(t, CanRead(node, ctx, fakeDeps{}))
}

func TestCanReadAnonymousOnlySeesPublished(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := ReadEvalContext{Tenant: "did:key:owner", Author: "did:key:owner", Published: true}
	assert.True(t, CanRead(node, ctx, fakeDeps{}))

	// an unpublished record is invisible to an anonymous requester even
	// when the tenant authored it
	ctxUnpublished := ReadEvalContext{Tenant: "did:key:owner", Author: "did:key:owner", Published: false, Requester: ""}
	assert.False(t, CanRead(node, ctxUnpublished, fakeDeps{}))

	ctxUnpublished.Author = "did:key:someoneelse"
	assert.False(t, CanRead(node, ctxUnpublished, fakeDeps{}))
}

func TestCanReadRecipientSeesUnpublished(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := ReadEvalContext{
		Tenant:    "did:key:owner",
		Requester: "did:key:bob",
		Author:    "did:key:alice",
		Recipient: "did:key:bob",
		Published: false,
	}
	assert.True(t, CanRead(node, ctx, fakeDeps{}))
}

func TestCanReadNonParticipantDenied(t *testing.T) {
	node := chatDefinition().Structure["thread"].Children["message"]
	ctx := ReadEvalContext{
		Tenant:    "did:key:owner",
		Requester: "did:key:mallory",
		Author:    "did:key:alice",
		Recipient: "did:key:bob",
		Published: false,
	}
	assert.False(t, CanRead(node, ctx, fakeDeps{}))
}
