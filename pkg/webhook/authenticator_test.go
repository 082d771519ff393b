package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthenticateSignature(t *testing.T) {
	auth := NewAuthenticator(AuthenticatorConfig{SigningSecret: "topsecret"})
	body := []byte(`{"order_id":"o-1"}`)

	t.Run("valid signature", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(SignatureHeader, Sign("topsecret", body))

		result := auth.Authenticate(body, headers)
		assert.Equal(t, DecisionAuthenticated, result.Decision)
		assert.True(t, result.Allowed())
	})

	t.Run("valid signature with sha256 prefix", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(SignatureHeader, "sha256="+Sign("topsecret", body))

		result := auth.Authenticate(body, headers)
		assert.Equal(t, DecisionAuthenticated, result.Decision)
	})

	t.Run("wrong secret", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(SignatureHeader, Sign("othersecret", body))

		result := auth.Authenticate(body, headers)
		assert.Equal(t, DecisionRejected, result.Decision)
		assert.Equal(t, ReasonInvalidSignature, result.Reason)
	})

	t.Run("signature over different body", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(SignatureHeader, Sign("topsecret", []byte(`{"order_id":"o-2"}`)))

		result := auth.Authenticate(body, headers)
		assert.Equal(t, DecisionRejected, result.Decision)
	})
}

func TestAuthenticateSignatureWithoutConfiguredSecret(t *testing.T) {
	auth := NewAuthenticator(AuthenticatorConfig{})

	headers := http.Header{}
	headers.Set(SignatureHeader, Sign("whatever", []byte("body")))

	result := auth.Authenticate([]byte("body"), headers)
	assert.Equal(t, DecisionRejected, result.Decision)
	assert.Equal(t, ReasonInvalidSignature, result.Reason)
}

func TestAuthenticateAPIKey(t *testing.T) {
	auth := NewAuthenticator(AuthenticatorConfig{APIKey: "key-123"})

	t.Run("matching key", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(APIKeyHeader, "key-123")

		result := auth.Authenticate(nil, headers)
		assert.Equal(t, DecisionAuthenticated, result.Decision)
	})

	t.Run("wrong key", func(t *testing.T) {
		headers := http.Header{}
		headers.Set(APIKeyHeader, "key-456")

		result := auth.Authenticate(nil, headers)
		assert.Equal(t, DecisionRejected, result.Decision)
		assert.Equal(t, ReasonInvalidAPIKey, result.Reason)
	})

	t.Run("no configured key", func(t *testing.T) {
		unconfigured := NewAuthenticator(AuthenticatorConfig{})
		headers := http.Header{}
		headers.Set(APIKeyHeader, "key-123")

		result := unconfigured.Authenticate(nil, headers)
		assert.Equal(t, DecisionRejected, result.Decision)
		assert.Equal(t, ReasonInvalidAPIKey, result.Reason)
	})
}

func TestAuthenticateSignatureWinsOverAPIKey(t *testing.T) {
	auth := NewAuthenticator(AuthenticatorConfig{SigningSecret: "topsecret", APIKey: "key-123"})
	body := []byte("payload")

	headers := http.Header{}
	headers.Set(SignatureHeader, Sign("wrong", body))
	headers.Set(APIKeyHeader, "key-123")

	result := auth.Authenticate(body, headers)
	assert.Equal(t, DecisionRejected, result.Decision)
	assert.Equal(t, ReasonInvalidSignature, result.Reason)
}

func TestAuthenticateNoCredentials(t *testing.T) {
	t.Run("permissive mode allows anonymous", func(t *testing.T) {
		auth := NewAuthenticator(AuthenticatorConfig{APIKey: "key-123"})

		result := auth.Authenticate(nil, http.Header{})
		assert.Equal(t, DecisionAnonymous, result.Decision)
		assert.True(t, result.Allowed())
	})

	t.Run("hardened mode rejects", func(t *testing.T) {
		auth := NewAuthenticator(AuthenticatorConfig{APIKey: "key-123", Hardened: true})

		result := auth.Authenticate(nil, http.Header{})
		assert.Equal(t, DecisionRejected, result.Decision)
		assert.Equal(t, ReasonAuthRequired, result.Reason)
	})
}
