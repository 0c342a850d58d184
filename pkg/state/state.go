// Package state encodes the payload carried through the identity provider as
// the opaque OAuth state parameter. The payload is encrypted so the provider
// round trip cannot be used to forge redirect targets, and both URIs are
// validated against the configured allow-list on encode and again on decode.
package state

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/navikt/polly-sub000/pkg/crypto"
	"github.com/navikt/polly-sub000/pkg/errors"
)

// Payload is the state carried through the provider during a login round trip.
// It is constructed at login-begin and consumed exactly once at callback.
type Payload struct {
	// RedirectURI is where the browser is sent after a successful callback.
	RedirectURI string `json:"redirectUri"`

	// ErrorURI is where the browser is sent when the provider reports an error.
	ErrorURI string `json:"errorUri,omitempty"`

	// CorrelationID ties the callback to the session created at login-begin.
	CorrelationID string `json:"correlationId"`
}

// Codec encrypts and decrypts state payloads.
type Codec struct {
	encryptor *crypto.Encryptor
	allowList *AllowList
}

// NewCodec creates a Codec over the given encryptor and redirect allow-list.
func NewCodec(encryptor *crypto.Encryptor, allowList *AllowList) *Codec {
	return &Codec{encryptor: encryptor, allowList: allowList}
}

// Encode validates both URIs, serializes the payload and encrypts it.
func (c *Codec) Encode(p Payload) (string, error) {
	if err := c.validateURIs(p); err != nil {
		return "", err
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state payload: %w", err)
	}

	encoded, err := c.encryptor.Encrypt(string(raw))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt state payload: %w", err)
	}
	return encoded, nil
}

// Decode decrypts and deserializes an encoded state payload, then re-validates
// both URIs. Only this process can produce a decryptable payload, but the
// validation must not rely solely on that.
func (c *Codec) Decode(encoded string) (Payload, error) {
	raw, err := c.encryptor.Decrypt(encoded)
	if err != nil {
		return Payload{}, errors.NewInvalidInputError("state payload cannot be decrypted", err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Payload{}, errors.NewInvalidInputError("state payload is malformed", err)
	}

	if err := c.validateURIs(p); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func (c *Codec) validateURIs(p Payload) error {
	if err := c.allowList.Validate(p.RedirectURI); err != nil {
		return err
	}
	if p.ErrorURI != "" {
		return c.allowList.Validate(p.ErrorURI)
	}
	return nil
}

// AllowList holds the origins that login redirect and error URIs may point to.
type AllowList struct {
	origins []string
}

// NewAllowList creates an AllowList from configured origins. Each entry is a
// scheme://host[:port] prefix; paths on entries are ignored.
func NewAllowList(origins []string) *AllowList {
	normalized := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(strings.TrimSpace(o)); err == nil && u.Scheme != "" && u.Host != "" {
			normalized = append(normalized, u.Scheme+"://"+u.Host)
		}
	}
	return &AllowList{origins: normalized}
}

// Validate checks that the URI is absolute and its origin appears on the list.
func (l *AllowList) Validate(uri string) error {
	if uri == "" {
		return errors.NewInvalidInputError("redirect URI is empty", nil)
	}

	u, err := url.Parse(uri)
	if err != nil {
		return errors.NewInvalidInputError(fmt.Sprintf("redirect URI %q is not a valid URL", uri), err)
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.NewInvalidInputError(fmt.Sprintf("redirect URI %q is not absolute", uri), nil)
	}

	origin := u.Scheme + "://" + u.Host
	for _, allowed := range l.origins {
		if origin == allowed {
			return nil
		}
	}
	return errors.NewInvalidInputError(fmt.Sprintf("redirect URI %q is not on the allow-list", uri), nil)
}
