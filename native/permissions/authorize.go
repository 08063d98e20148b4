package permissions

import (
	"log/slog"

	"agentvault/core/clock"
	"agentvault/core/types"
	"agentvault/native/common"
	"agentvault/native/signing"
)

var (
	ErrNotOwnerOrAgent       = common.NewKind(common.ErrPermissionDenied, "permissions: caller is neither owner nor agent")
	ErrKindNotAllowed        = common.NewKind(common.ErrPermissionDenied, "permissions: operation kind not allowed")
	ErrAssetNotAllowed       = common.NewKind(common.ErrPermissionDenied, "permissions: asset not allowed")
	ErrIntegrationNotAllowed = common.NewKind(common.ErrPermissionDenied, "permissions: integration not allowed")
	ErrSignerNotAgent        = common.NewKind(common.ErrSignatureInvalid, "permissions: signer is not an active agent")
)

// Request describes what an operation touches.
type Request struct {
	Kind         OperationKind
	Assets       []string
	Integrations []types.IntegrationID
}

// Decision is the result of a successful authorization.
type Decision struct {
	// Actor is the owner or agent on whose authority the operation runs.
	Actor  types.Address
	Owner  bool
	Signed bool
	Grant  *Grant
}

// Agent returns the acting agent, or the zero address when the owner acts.
func (d Decision) Agent() types.Address {
	if d.Owner {
		return types.Address{}
	}
	return d.Actor
}

// SignatureVerifier recovers delegated-instruction signers and tracks
// consumed digests.
type SignatureVerifier interface {
	Recover(digest [32]byte, signature []byte) (types.Address, error)
	Consumed(digest [32]byte) (bool, error)
	Consume(digest [32]byte) error
}

// Authorizer validates direct and signed requests against the grant table.
type Authorizer struct {
	store    *Store
	verifier SignatureVerifier
	clock    clock.Clock
	logger   *slog.Logger
}

// NewAuthorizer wires an authorizer. The verifier may be nil when only direct
// calls are accepted.
func NewAuthorizer(store *Store, verifier SignatureVerifier, clk clock.Clock) *Authorizer {
	return &Authorizer{store: store, verifier: verifier, clock: clk, logger: slog.Default()}
}

// SetLogger overrides the logger used for denial diagnostics.
func (a *Authorizer) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Authorize checks a direct call.
func (a *Authorizer) Authorize(account *types.Account, caller types.Address, req Request) (Decision, error) {
	if account == nil {
		return Decision{}, ErrNotOwnerOrAgent
	}
	if caller == account.Owner {
		return Decision{Actor: caller, Owner: true}, nil
	}
	grant, ok, err := a.store.Get(account.ID, caller)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, a.deny(account, caller, req, ErrNotOwnerOrAgent)
	}
	if !grant.Active {
		return Decision{}, a.deny(account, caller, req, ErrAgentNotActive)
	}
	if err := checkAllowLists(grant, req); err != nil {
		return Decision{}, a.deny(account, caller, req, err)
	}
	return Decision{Actor: caller, Grant: grant}, nil
}

// AuthorizeSigned checks a relayed instruction. The signer must be an active
// agent, the instruction unexpired and its digest unused. The digest is
// consumed before the allow-lists are evaluated against each signed request.
func (a *Authorizer) AuthorizeSigned(account *types.Account, relayer types.Address, digest [32]byte, expiration uint64, signature []byte, reqs ...Request) (Decision, error) {
	if account == nil {
		return Decision{}, ErrNotOwnerOrAgent
	}
	if a.verifier == nil {
		return Decision{}, signing.ErrSignatureMalformed
	}
	var first Request
	if len(reqs) > 0 {
		first = reqs[0]
	}
	signer, err := a.verifier.Recover(digest, signature)
	if err != nil {
		return Decision{}, err
	}
	grant, ok, err := a.store.Get(account.ID, signer)
	if err != nil {
		return Decision{}, err
	}
	if !ok || !grant.Active || signer == account.Owner {
		return Decision{}, a.deny(account, signer, first, ErrSignerNotAgent)
	}
	if a.now() > expiration {
		return Decision{}, a.deny(account, signer, first, signing.ErrSignatureExpired)
	}
	used, err := a.verifier.Consumed(digest)
	if err != nil {
		return Decision{}, err
	}
	if used {
		return Decision{}, a.deny(account, signer, first, signing.ErrSignatureReplayed)
	}
	if err := a.verifier.Consume(digest); err != nil {
		return Decision{}, err
	}
	for _, req := range reqs {
		if err := checkAllowLists(grant, req); err != nil {
			return Decision{}, a.deny(account, signer, req, err)
		}
	}
	a.logger.Debug("signed instruction accepted",
		slog.String("account", account.ID.Hex()),
		slog.String("agent", signer.Hex()),
		slog.String("relayer", relayer.Hex()),
		slog.Int("requests", len(reqs)))
	return Decision{Actor: signer, Signed: true, Grant: grant}, nil
}

func checkAllowLists(grant *Grant, req Request) error {
	if !grant.EffectiveKinds().Has(req.Kind) {
		return ErrKindNotAllowed
	}
	for _, asset := range req.Assets {
		if !grant.AllowsAsset(asset) {
			return ErrAssetNotAllowed
		}
	}
	for _, id := range req.Integrations {
		if !grant.AllowsIntegration(id) {
			return ErrIntegrationNotAllowed
		}
	}
	return nil
}

func (a *Authorizer) deny(account *types.Account, caller types.Address, req Request, err error) error {
	a.logger.Debug("authorization denied",
		slog.String("account", account.ID.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("kind", req.Kind.String()),
		slog.String("reason", err.Error()))
	return err
}

func (a *Authorizer) now() uint64 {
	if a.clock == nil {
		return 0
	}
	return a.clock.Now()
}
