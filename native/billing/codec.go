package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/permissions"
)

// TermsSheet is the file form of subscription terms. PriceUSD is a decimal
// string such as "9.99".
type TermsSheet struct {
	Asset       string `json:"asset"`
	PriceUSD    string `json:"priceUsd"`
	TrialTicks  uint64 `json:"trialTicks"`
	PeriodTicks uint64 `json:"periodTicks"`
}

// AgentSheetConfig is the file form of one agent's price sheet.
type AgentSheetConfig struct {
	Agent        string            `json:"agent"`
	Recipient    string            `json:"recipient"`
	Fees         map[string]uint32 `json:"fees"`
	Subscription *TermsSheet       `json:"subscription"`
}

// Sheets is the complete billing policy as loaded from a file.
type Sheets struct {
	ProtocolRecipient    string             `json:"protocolRecipient"`
	AmbassadorRatioBps   uint32             `json:"ambassadorRatioBps"`
	ProtocolFees         map[string]uint32  `json:"protocolFees"`
	ProtocolSubscription *TermsSheet        `json:"protocolSubscription"`
	Agents               []AgentSheetConfig `json:"agents"`
}

// DecodeSheetsJSON parses a JSON policy file.
func DecodeSheetsJSON(data []byte) (Sheets, error) {
	var sheets Sheets
	if err := json.Unmarshal(data, &sheets); err != nil {
		return Sheets{}, fmt.Errorf("billing: decode json sheets: %w", err)
	}
	return sheets, nil
}

// DecodeSheetsTOML parses a TOML policy file. snake_case keys are mapped onto
// the camelCase JSON layout before decoding.
func DecodeSheetsTOML(data []byte) (Sheets, error) {
	var raw map[string]interface{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Sheets{}, fmt.Errorf("billing: decode toml sheets: %w", err)
	}
	blob, err := json.Marshal(normalizeTable(raw))
	if err != nil {
		return Sheets{}, err
	}
	return DecodeSheetsJSON(blob)
}

// fee tables are keyed by operation kind names and are left as-is.
var verbatimTables = map[string]bool{"fees": true, "protocolFees": true}

func normalizeTable(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		name := camelCase(key)
		if verbatimTables[name] {
			out[name] = value
			continue
		}
		out[name] = normalizeValue(value)
	}
	return out
}

func normalizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return normalizeTable(v)
	case []map[string]interface{}:
		converted := make([]interface{}, len(v))
		for i, item := range v {
			converted[i] = normalizeTable(item)
		}
		return converted
	case []interface{}:
		converted := make([]interface{}, len(v))
		for i, item := range v {
			converted[i] = normalizeValue(item)
		}
		return converted
	default:
		return value
	}
}

func camelCase(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	parts := strings.Split(strings.ToLower(key), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		switch parts[i] {
		case "usd":
			parts[i] = "Usd"
		case "bps":
			parts[i] = "Bps"
		default:
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

var usdScale = decimal.New(1, 18)

// ParseUSD converts a decimal dollar string into the 1e18-scaled integer
// form used throughout billing.
func ParseUSD(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return big.NewInt(0), nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("billing: invalid usd amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("billing: negative usd amount %q", value)
	}
	return d.Mul(usdScale).BigInt(), nil
}

func (t *TermsSheet) terms() (Terms, error) {
	price, err := ParseUSD(t.PriceUSD)
	if err != nil {
		return Terms{}, err
	}
	return Terms{Asset: t.Asset, PriceUSD: price, Trial: t.TrialTicks, Period: t.PeriodTicks}, nil
}

func parseFees(fees map[string]uint32) (map[permissions.OperationKind]uint32, error) {
	out := make(map[permissions.OperationKind]uint32, len(fees))
	for name, bps := range fees {
		kind, err := permissions.ParseKind(name)
		if err != nil {
			return nil, err
		}
		out[kind] = bps
	}
	return out, nil
}

// Apply loads every entry of sheets into the store. Rejected entries are
// collected and reported together; accepted ones stay applied.
func (p *PolicyStore) Apply(sheets Sheets) error {
	var rejected []error
	check := func(what string, ok bool, err error) error {
		if err != nil {
			return err
		}
		if !ok {
			rejected = append(rejected, fmt.Errorf("%s rejected", what))
		}
		return nil
	}

	if sheets.ProtocolRecipient != "" {
		recipient, err := types.ParseAddress(sheets.ProtocolRecipient)
		if err != nil {
			return err
		}
		ok, err := p.SetProtocolRecipient(recipient)
		if err := check("protocol recipient", ok, err); err != nil {
			return err
		}
	}
	ok, err := p.SetDefaultAmbassadorRatio(sheets.AmbassadorRatioBps)
	if err := check("ambassador ratio", ok, err); err != nil {
		return err
	}
	fees, err := parseFees(sheets.ProtocolFees)
	if err != nil {
		return err
	}
	for kind, bps := range fees {
		ok, err := p.SetProtocolFee(kind, bps)
		if err := check("protocol fee "+kind.String(), ok, err); err != nil {
			return err
		}
	}
	if sheets.ProtocolSubscription != nil {
		terms, err := sheets.ProtocolSubscription.terms()
		if err != nil {
			return err
		}
		ok, err := p.SetProtocolSubscription(terms)
		if err := check("protocol subscription", ok, err); err != nil {
			return err
		}
	}
	for _, cfg := range sheets.Agents {
		agent, err := types.ParseAddress(cfg.Agent)
		if err != nil {
			return err
		}
		if cfg.Recipient != "" {
			recipient, err := types.ParseAddress(cfg.Recipient)
			if err != nil {
				return err
			}
			ok, err := p.SetAgentRecipient(agent, recipient)
			if err := check("agent recipient "+agent.Hex(), ok, err); err != nil {
				return err
			}
		}
		fees, err := parseFees(cfg.Fees)
		if err != nil {
			return err
		}
		for kind, bps := range fees {
			ok, err := p.SetAgentFee(agent, kind, bps)
			if err := check("agent fee "+agent.Hex()+" "+kind.String(), ok, err); err != nil {
				return err
			}
		}
		if cfg.Subscription != nil {
			terms, err := cfg.Subscription.terms()
			if err != nil {
				return err
			}
			ok, err := p.SetAgentSubscription(agent, terms)
			if err := check("agent subscription "+agent.Hex(), ok, err); err != nil {
				return err
			}
		}
	}
	if len(rejected) > 0 {
		return fmt.Errorf("%w: %w", common.ErrInvalidConfiguration, errors.Join(rejected...))
	}
	return nil
}
