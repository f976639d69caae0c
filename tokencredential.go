package amqp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// AccessToken is the result of a TokenCredential.GetToken call (spec §6,
// "TokenCredential contract").
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenCredential is the external collaborator the CBS client uses to mint
// bearer tokens, spec §6. Implementations may fail with an
// AuthenticationError.
type TokenCredential interface {
	GetToken(ctx context.Context, scopes ...string) (AccessToken, error)
}

// AuthenticationError is returned by a TokenCredential that cannot produce
// a token for the requested scopes.
type AuthenticationError struct {
	Scopes []string
	Err    error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("amqp: authentication failed for scopes %v: %v", e.Scopes, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// SASTokenCredential mints shared-access-signature tokens from a
// connection string's key name/value, the way the original source's
// connection_string_credential.hpp does, for use when a caller hasn't
// supplied an external TokenCredential to the CBS client.
type SASTokenCredential struct {
	KeyName  string
	Key      string
	TokenTTL time.Duration
}

// NewSASTokenCredential builds a credential from the SharedAccessKeyName
// and SharedAccessKey of a parsed Azure connection string.
func NewSASTokenCredential(keyName, key string) *SASTokenCredential {
	return &SASTokenCredential{KeyName: keyName, Key: key, TokenTTL: time.Hour}
}

// GetToken mints a SAS token scoped to the first of scopes (the audience
// URI), signed with the credential's key (RFC 2104 HMAC-SHA256, as
// required by the Azure SAS token scheme).
func (c *SASTokenCredential) GetToken(_ context.Context, scopes ...string) (AccessToken, error) {
	if len(scopes) == 0 {
		return AccessToken{}, &AuthenticationError{Err: fmt.Errorf("amqp: SASTokenCredential requires at least one scope")}
	}
	audience := scopes[0]
	ttl := c.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	expiresOn := time.Now().Add(ttl)
	signature, err := c.sign(audience, expiresOn)
	if err != nil {
		return AccessToken{}, &AuthenticationError{Scopes: scopes, Err: err}
	}
	return AccessToken{Token: signature, ExpiresOn: expiresOn}, nil
}

func (c *SASTokenCredential) sign(audience string, expiresOn time.Time) (string, error) {
	encoded := url.QueryEscape(audience)
	expiry := strconv.FormatInt(expiresOn.Unix(), 10)
	stringToSign := encoded + "\n" + expiry

	mac := hmac.New(sha256.New, []byte(c.Key))
	if _, err := mac.Write([]byte(stringToSign)); err != nil {
		return "", err
	}
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%s&skn=%s",
		encoded, url.QueryEscape(signature), expiry, url.QueryEscape(c.KeyName)), nil
}
