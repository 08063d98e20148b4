package events

import (
	"strconv"

	"agentvault/core/types"
)

const (
	TypeAgentAdded    = "wallet.agent.added"
	TypeAgentUpdated  = "wallet.agent.updated"
	TypeAgentDisabled = "wallet.agent.disabled"
)

// AgentChanged covers additions, updates and disables of an agent grant. The
// counts are captured at the time of the change so disables keep an audit
// trail of what the grant allowed.
type AgentChanged struct {
	Type             string
	Account          types.Address
	Agent            types.Address
	Kinds            uint16
	AssetCount       int
	IntegrationCount int
}

func (e AgentChanged) EventType() string { return e.Type }

func (e AgentChanged) Event() *types.Event {
	attrs := map[string]string{
		"kinds":        strconv.FormatUint(uint64(e.Kinds), 2),
		"assets":       strconv.Itoa(e.AssetCount),
		"integrations": strconv.Itoa(e.IntegrationCount),
	}
	putAddress(attrs, "account", e.Account)
	putAddress(attrs, "agent", e.Agent)
	return &types.Event{Type: e.Type, Attributes: attrs}
}
