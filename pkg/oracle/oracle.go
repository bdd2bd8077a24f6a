// Package oracle verifies external consensus reports. The coordinator
// never trusts a single unverified report: a consensus result arrives
// as a signed JWS envelope whose payload must satisfy the aggregation
// schema, carry a registered issuer, and reference the aggregation the
// coordinator itself requested.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/covenantlabs/covenant/pkg/canonical"
	"github.com/covenantlabs/covenant/pkg/fault"
)

// Result is a verified consensus aggregation.
type Result struct {
	Principal      string    `json:"principal"`
	EventType      string    `json:"event_type"`
	AggregationRef string    `json:"aggregation_ref"`
	IsValid        bool      `json:"is_valid"`
	Confidence     int       `json:"confidence"` // 0..100
	OracleCount    int       `json:"oracle_count"`
	Issuer         string    `json:"issuer"`
	IssuedAt       time.Time `json:"issued_at"`
}

// Provider requests a consensus aggregation for an event and returns
// its reference. The aggregation itself happens off-core; only the
// signed result ever comes back through Verifier.
type Provider interface {
	RequestAggregation(ctx context.Context, principal, eventType, dataDigest string, requiredCount int) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, principal, eventType, dataDigest string, requiredCount int) (string, error)

func (f ProviderFunc) RequestAggregation(ctx context.Context, principal, eventType, dataDigest string, requiredCount int) (string, error) {
	return f(ctx, principal, eventType, dataDigest, requiredCount)
}

// LocalProvider derives deterministic aggregation references without a
// network hop. Suitable for single-node deployments and tests; the
// reference still uniquely commits to what was asked for.
func LocalProvider() Provider {
	return ProviderFunc(func(_ context.Context, principal, eventType, dataDigest string, requiredCount int) (string, error) {
		ref, err := canonical.Digest(map[string]any{
			"principal":   principal,
			"event_type":  eventType,
			"data_digest": dataDigest,
			"required":    requiredCount,
		})
		if err != nil {
			return "", err
		}
		return "agg_" + ref[:32], nil
	})
}

// resultSchema constrains the envelope payload before any claim is
// trusted.
const resultSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["principal", "event_type", "aggregation_ref", "is_valid", "confidence", "oracle_count", "iss", "iat"],
  "properties": {
    "principal": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "minLength": 1},
    "aggregation_ref": {"type": "string", "minLength": 1},
    "is_valid": {"type": "boolean"},
    "confidence": {"type": "integer", "minimum": 0, "maximum": 100},
    "oracle_count": {"type": "integer", "minimum": 1},
    "iss": {"type": "string", "minLength": 1},
    "iat": {"type": "number"}
  }
}`

// Verifier checks consensus envelopes.
type Verifier struct {
	keyfunc jwt.Keyfunc
	issuers map[string]struct{}
	schema  *jsonschema.Schema
	methods []string
}

// NewVerifier builds a verifier over the registered issuer set. keyfunc
// resolves the signing key for an envelope (typically by issuer and
// kid).
func NewVerifier(keyfunc jwt.Keyfunc, issuers []string) (*Verifier, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://covenant.schemas.local/oracle/result.schema.json"
	if err := c.AddResource(url, strings.NewReader(resultSchema)); err != nil {
		return nil, fmt.Errorf("oracle: schema load: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("oracle: schema compile: %w", err)
	}

	set := make(map[string]struct{}, len(issuers))
	for _, iss := range issuers {
		set[iss] = struct{}{}
	}
	return &Verifier{
		keyfunc: keyfunc,
		issuers: set,
		schema:  schema,
		methods: []string{"EdDSA", "ES256", "RS256"},
	}, nil
}

// Verify checks the envelope signature, schema, and issuer, and returns
// the extracted result. Every failure is a Precondition fault: a bad
// envelope is a caller problem, never retried here.
func (v *Verifier) Verify(envelope string) (Result, error) {
	const op = "oracle.Verify"

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(envelope, claims, v.keyfunc, jwt.WithValidMethods(v.methods)); err != nil {
		return Result{}, fault.Preconditionf(op, "envelope rejected: %v", err)
	}

	if err := v.schema.Validate(map[string]any(claims)); err != nil {
		return Result{}, fault.Preconditionf(op, "envelope payload rejected by schema: %v", err)
	}

	issuer, _ := claims["iss"].(string)
	if _, ok := v.issuers[issuer]; !ok {
		return Result{}, fault.Preconditionf(op, "issuer %q is not a registered aggregator", issuer)
	}

	iat, _ := claims["iat"].(float64)
	return Result{
		Principal:      claims["principal"].(string),
		EventType:      claims["event_type"].(string),
		AggregationRef: claims["aggregation_ref"].(string),
		IsValid:        claims["is_valid"].(bool),
		Confidence:     int(claims["confidence"].(float64)),
		OracleCount:    int(claims["oracle_count"].(float64)),
		Issuer:         issuer,
		IssuedAt:       time.Unix(int64(iat), 0).UTC(),
	}, nil
}
