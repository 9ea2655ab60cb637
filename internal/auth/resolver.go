package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Provenance labels attached to every resolution. These are safe to
// log; credential values are not.
const (
	ProvenanceToken    = "token"
	ProvenanceBearer   = "bearer"
	ProvenanceHeader   = "header"
	ProvenanceQuery    = "query"
	ProvenanceBody     = "body"
	ProvenanceFallback = "global-fallback"
	ProvenanceNone     = "none"
)

// Carrier names shared by the transports.
const (
	// DefaultKeyHeader is the primary direct-key header unless
	// configuration overrides it.
	DefaultKeyHeader = "X-Api-Key"
	// SecondaryKeyHeader is always consulted after the primary header.
	SecondaryKeyHeader = "X-Agent-Api-Key"
	// TokenHeader carries a gateway token outside of query strings.
	TokenHeader = "X-Gateway-Token"
	// TokenQueryField and KeyQueryField are the recognized query
	// parameters; KeyBodyField is the recognized JSON body field.
	TokenQueryField = "token"
	KeyQueryField   = "api_key"
	KeyBodyField    = "api_key"
)

// Direct upstream keys start with this prefix and carry at least 20
// characters of key material after it.
const (
	directKeyPrefix = "key_"
	directKeyMinLen = 24
)

// Carriers is the transport-normalized view of every place an inbound
// call may carry a credential. Empty string means the carrier is absent.
// Token holds the gateway token from either the token query field or
// TokenHeader; the two are one logical source.
type Carriers struct {
	Token           string
	Bearer          string
	PrimaryHeader   string
	SecondaryHeader string
	Query           string
	Body            string
}

// Resolved is the outcome of credential resolution: the upstream key
// that governs the call and the provenance label describing where it
// came from. Provenance ProvenanceNone means the call is unauthenticated
// and Key is empty.
type Resolved struct {
	Key        string
	Provenance string
}

// Authenticated reports whether resolution produced a usable credential.
func (r Resolved) Authenticated() bool {
	return r.Provenance != ProvenanceNone
}

// ResolverConfig holds resolver configuration.
type ResolverConfig struct {
	// DefaultKey is the configured fallback credential, used only when a
	// call carries no credential at all.
	DefaultKey string
}

// rule is one step of the precedence order: if applies reports true the
// rule's outcome is final, even when that outcome is ProvenanceNone.
type rule struct {
	applies func(Carriers) bool
	resolve func(Carriers) Resolved
}

// Resolver decides, per inbound call, which upstream credential governs
// the call. It holds no per-call state and is safe for unbounded
// concurrent use.
type Resolver struct {
	rules []rule
}

// NewResolver creates a resolver that decodes gateway tokens with codec
// and falls back to cfg.DefaultKey for credential-less calls.
func NewResolver(codec *TokenCodec, cfg ResolverConfig) *Resolver {
	defaultKey := cfg.DefaultKey

	rules := []rule{
		// A presented token always decides the call. A token that fails
		// to decode yields none; it never falls through to other
		// carriers and never lands on the configured default.
		{
			applies: func(c Carriers) bool { return c.Token != "" },
			resolve: func(c Carriers) Resolved {
				if key, ok := codec.Decode(c.Token); ok {
					return Resolved{Key: key, Provenance: ProvenanceToken}
				}
				return Resolved{Provenance: ProvenanceNone}
			},
		},
		// A bearer value that is a direct upstream key. Delegated
		// third-party tokens (structurally JWTs) are not upstream keys
		// and are left for the remaining rules to ignore.
		{
			applies: func(c Carriers) bool {
				return c.Bearer != "" && !IsDelegatedToken(c.Bearer) && IsDirectKey(c.Bearer)
			},
			resolve: func(c Carriers) Resolved {
				return Resolved{Key: c.Bearer, Provenance: ProvenanceBearer}
			},
		},
		// Direct keys in dedicated carriers, most explicit first.
		// Shape-invalid values are treated as absent, not as errors.
		{
			applies: func(c Carriers) bool { return directCarrier(c).Provenance != ProvenanceNone },
			resolve: directCarrier,
		},
		// The configured default covers calls that carried nothing.
		{
			applies: func(c Carriers) bool { return defaultKey != "" },
			resolve: func(c Carriers) Resolved {
				return Resolved{Key: defaultKey, Provenance: ProvenanceFallback}
			},
		},
		{
			applies: func(c Carriers) bool { return true },
			resolve: func(c Carriers) Resolved {
				return Resolved{Provenance: ProvenanceNone}
			},
		},
	}

	return &Resolver{rules: rules}
}

// Resolve runs the precedence order over the call's carriers. The first
// rule that applies decides; later rules never see the call.
func (r *Resolver) Resolve(c Carriers) Resolved {
	for _, rule := range r.rules {
		if rule.applies(c) {
			return rule.resolve(c)
		}
	}
	return Resolved{Provenance: ProvenanceNone}
}

// directCarrier returns the first shape-valid direct key among the
// dedicated carriers: primary header, secondary header, query, body.
func directCarrier(c Carriers) Resolved {
	if IsDirectKey(c.PrimaryHeader) {
		return Resolved{Key: c.PrimaryHeader, Provenance: ProvenanceHeader}
	}
	if IsDirectKey(c.SecondaryHeader) {
		return Resolved{Key: c.SecondaryHeader, Provenance: ProvenanceHeader}
	}
	if IsDirectKey(c.Query) {
		return Resolved{Key: c.Query, Provenance: ProvenanceQuery}
	}
	if IsDirectKey(c.Body) {
		return Resolved{Key: c.Body, Provenance: ProvenanceBody}
	}
	return Resolved{Provenance: ProvenanceNone}
}

// IsDirectKey reports whether v has the shape of a direct upstream API
// key.
func IsDirectKey(v string) bool {
	return strings.HasPrefix(v, directKeyPrefix) && len(v) >= directKeyMinLen
}

// IsDelegatedToken reports whether v parses structurally as a JWT. No
// signature verification happens here; the gateway only needs to know
// the value belongs to a third-party identity flow, not to us.
func IsDelegatedToken(v string) bool {
	if v == "" {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(v, jwt.MapClaims{})
	return err == nil
}

// ExtractBearerToken extracts the token from a Bearer authorization
// header. Returns "" when the header is absent or not a bearer scheme.
func ExtractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
