// Package webhook provides the inbound trigger HTTP surface: request
// authentication, delivery deduplication, and the trigger server itself.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
	SignatureHeader = "X-Webhook-Signature"
	// APIKeyHeader carries the shared API key.
	APIKeyHeader = "X-API-Key"
)

// Decision is the outcome of authenticating a trigger request.
type Decision string

const (
	DecisionAuthenticated Decision = "authenticated"
	DecisionRejected      Decision = "rejected"
	// DecisionAnonymous means no credentials were presented and the
	// deployment allows unauthenticated triggers.
	DecisionAnonymous Decision = "anonymous"
)

// Rejection reasons.
const (
	ReasonInvalidSignature = "invalid_signature"
	ReasonInvalidAPIKey    = "invalid_api_key"
	ReasonAuthRequired     = "auth_required"
)

// Result pairs an authentication decision with the rejection reason, if any.
type Result struct {
	Decision Decision
	Reason   string
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Decision != DecisionRejected
}

// AuthenticatorConfig holds the shared secrets for trigger authentication.
// Hardened deployments reject requests that present no credentials at all.
type AuthenticatorConfig struct {
	SigningSecret string
	APIKey        string
	Hardened      bool
}

// Authenticator verifies inbound trigger requests. It is a pure check over
// the raw body bytes: signature verification must happen before any parsing
// so it cannot be defeated by re-serialization.
type Authenticator struct {
	config AuthenticatorConfig
}

func NewAuthenticator(config AuthenticatorConfig) *Authenticator {
	return &Authenticator{config: config}
}

// Authenticate inspects the request headers and the unparsed body. Signature
// auth wins over API-key auth when both headers are present.
func (a *Authenticator) Authenticate(body []byte, headers http.Header) Result {
	if signature := headers.Get(SignatureHeader); signature != "" {
		if a.verifySignature(body, signature) {
			return Result{Decision: DecisionAuthenticated}
		}

		return Result{Decision: DecisionRejected, Reason: ReasonInvalidSignature}
	}

	if apiKey := headers.Get(APIKeyHeader); apiKey != "" {
		if a.verifyAPIKey(apiKey) {
			return Result{Decision: DecisionAuthenticated}
		}

		return Result{Decision: DecisionRejected, Reason: ReasonInvalidAPIKey}
	}

	if a.config.Hardened {
		return Result{Decision: DecisionRejected, Reason: ReasonAuthRequired}
	}

	return Result{Decision: DecisionAnonymous}
}

func (a *Authenticator) verifySignature(body []byte, signature string) bool {
	if a.config.SigningSecret == "" {
		return false
	}

	// Tolerate the common "sha256=<hex>" prefix form.
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(a.config.SigningSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

func (a *Authenticator) verifyAPIKey(apiKey string) bool {
	if a.config.APIKey == "" {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(a.config.APIKey), []byte(apiKey)) == 1
}

// Sign computes the hex HMAC-SHA256 signature for a body. Used by tests and
// by callers that need to produce valid trigger requests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}
