package server

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	nodecfg "agentvault/config"
	"agentvault/core/events"
	"agentvault/core/types"
	"agentvault/native/directory"
	"agentvault/native/permissions"
	"agentvault/native/wallet"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return false
	}
	return true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (types.Address, bool) {
	raw := chi.URLParam(r, name)
	addr, err := nodecfg.ParseAddress(raw)
	if err != nil || addr.IsZero() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s address %q", name, raw))
		return types.Address{}, false
	}
	return addr, true
}

// parseOptionalAddress accepts an empty string as the zero address.
func parseOptionalAddress(raw string) (types.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return types.Address{}, nil
	}
	return nodecfg.ParseAddress(raw)
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func optionalHex(addr types.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.Hex()
}

type subscriptionView struct {
	InstalledAt uint64 `json:"installedAt"`
	PaidThrough uint64 `json:"paidThrough"`
}

type seedView struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recovered bool   `json:"recovered"`
}

type accountView struct {
	ID          string           `json:"id"`
	Owner       string           `json:"owner"`
	Factory     string           `json:"factory"`
	Ambassador  string           `json:"ambassador,omitempty"`
	CreatedAt   uint64           `json:"createdAt"`
	Protocol    subscriptionView `json:"protocolSubscription"`
	Seed        *seedView        `json:"seed,omitempty"`
	MigratedOut bool             `json:"migratedOut"`
	MigratedIn  bool             `json:"migratedIn"`
}

func viewAccount(a *types.Account) accountView {
	out := accountView{
		ID:          a.ID.Hex(),
		Owner:       a.Owner.Hex(),
		Factory:     a.Factory.Hex(),
		Ambassador:  optionalHex(a.Ambassador),
		CreatedAt:   a.CreatedAt,
		Protocol:    subscriptionView(a.Protocol),
		MigratedOut: a.MigratedOut,
		MigratedIn:  a.MigratedIn,
	}
	if a.Seed.Asset != "" {
		out.Seed = &seedView{Asset: a.Seed.Asset, Amount: formatAmount(a.Seed.Amount), Recovered: a.Seed.Recovered}
	}
	return out
}

type grantView struct {
	Active       bool             `json:"active"`
	Assets       []string         `json:"assets"`
	Integrations []uint64         `json:"integrations"`
	Kinds        []string         `json:"kinds"`
	InstalledAt  uint64           `json:"installedAt"`
	Subscription subscriptionView `json:"subscription"`
}

func viewGrant(g *permissions.Grant) grantView {
	kinds := g.EffectiveKinds().Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return grantView{
		Active:       g.Active,
		Assets:       append([]string{}, g.Assets...),
		Integrations: append([]uint64{}, g.Integrations...),
		Kinds:        names,
		InstalledAt:  g.InstalledAt,
		Subscription: subscriptionView(g.Subscription),
	}
}

// agentConfigBody is the JSON form of an agent permission set. Omitting
// kinds leaves every kind allowed; an empty list allows none.
type agentConfigBody struct {
	Assets       []string `json:"assets"`
	Integrations []uint64 `json:"integrations"`
	Kinds        []string `json:"kinds"`
}

func (b agentConfigBody) config() (permissions.Config, error) {
	cfg := permissions.Config{Assets: b.Assets}
	for _, id := range b.Integrations {
		cfg.Integrations = append(cfg.Integrations, types.IntegrationID(id))
	}
	if b.Kinds != nil {
		cfg.Kinds = make([]permissions.OperationKind, 0, len(b.Kinds))
		for _, name := range b.Kinds {
			kind, err := permissions.ParseKind(name)
			if err != nil {
				return permissions.Config{}, err
			}
			cfg.Kinds = append(cfg.Kinds, kind)
		}
	}
	return cfg, nil
}

type amountView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func viewAmounts(in []directory.Amount) []amountView {
	out := make([]amountView, 0, len(in))
	for _, a := range in {
		out = append(out, amountView{Asset: a.Asset, Amount: formatAmount(a.Amount)})
	}
	return out
}

type feeLegView struct {
	Role      string `json:"role"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

func viewLegs(legs []events.FeeLeg) []feeLegView {
	out := make([]feeLegView, 0, len(legs))
	for _, leg := range legs {
		out = append(out, feeLegView{
			Role:      leg.Role,
			Asset:     leg.Asset,
			Amount:    formatAmount(leg.Amount),
			Recipient: leg.Recipient.Hex(),
		})
	}
	return out
}

type resultView struct {
	Kind     string       `json:"kind"`
	Sent     []amountView `json:"sent"`
	Received []amountView `json:"received"`
	USDValue string       `json:"usdValue"`
	Fees     []feeLegView `json:"fees"`
}

func viewResult(res wallet.Result) resultView {
	return resultView{
		Kind:     res.Kind.String(),
		Sent:     viewAmounts(res.Sent),
		Received: viewAmounts(res.Received),
		USDValue: formatAmount(res.USDValue),
		Fees:     viewLegs(res.Fees),
	}
}

type batchView struct {
	BatchID string       `json:"batchId"`
	Results []resultView `json:"results"`
	Fees    []feeLegView `json:"fees"`
}

func viewBatch(res wallet.BatchResult) batchView {
	out := batchView{BatchID: res.BatchID, Fees: viewLegs(res.Fees)}
	for _, r := range res.Results {
		out.Results = append(out.Results, viewResult(r))
	}
	return out
}
