// Package sessioncookie encodes the browser session into a single
// encrypted cookie. The payload is signed with HS256 and encrypted with
// a direct A256GCM key, so the cookie is opaque to the browser and
// tamper-evident on the server.
package sessioncookie

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// ErrMalformed is returned for any cookie value that cannot be
// decrypted, verified or parsed. Callers treat it as "no session",
// never as a request failure.
var ErrMalformed = errors.New("session cookie malformed")

type Codec struct {
	encryptKey []byte
	signKey    []byte
}

func NewCodec(encryptKey, signKey []byte) (*Codec, error) {
	if len(encryptKey) != 32 {
		return nil, fmt.Errorf("encrypt key must be 32 bytes, got %d", len(encryptKey))
	}
	if len(signKey) < 32 {
		return nil, fmt.Errorf("sign key must be at least 32 bytes, got %d", len(signKey))
	}
	return &Codec{encryptKey: encryptKey, signKey: signKey}, nil
}

// NewCodecFromBase64 builds a codec from base64 encoded keys, as they
// appear in configuration.
func NewCodecFromBase64(encryptKey, signKey string) (*Codec, error) {
	enc, err := base64.StdEncoding.DecodeString(encryptKey)
	if err != nil {
		return nil, fmt.Errorf("decode encrypt key: %w", err)
	}
	sign, err := base64.StdEncoding.DecodeString(signKey)
	if err != nil {
		return nil, fmt.Errorf("decode sign key: %w", err)
	}
	return NewCodec(enc, sign)
}

// Encode serializes payload to JSON, signs it and encrypts it into a
// compact cookie value.
func (c *Codec) Encode(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal session payload: %w", err)
	}

	signed, err := jws.Sign(data, jws.WithKey(jwa.HS256, c.signKey))
	if err != nil {
		return "", fmt.Errorf("sign session payload: %w", err)
	}

	encrypted, err := jwe.Encrypt(signed, jwe.WithContentEncryption(jwa.A256GCM), jwe.WithKey(jwa.DIRECT, c.encryptKey))
	if err != nil {
		return "", fmt.Errorf("encrypt session payload: %w", err)
	}

	return string(encrypted), nil
}

// Decode reverses Encode into out. A corrupt or forged value yields
// ErrMalformed; Decode never panics on garbage input.
func (c *Codec) Decode(value string, out any) error {
	decrypted, err := jwe.Decrypt([]byte(value), jwe.WithKey(jwa.DIRECT, c.encryptKey))
	if err != nil {
		return ErrMalformed
	}

	payload, err := jws.Verify(decrypted, jws.WithKey(jwa.HS256, c.signKey))
	if err != nil {
		return ErrMalformed
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return ErrMalformed
	}

	return nil
}

// GenerateKey returns a random key of the given length in bits.
func GenerateKey(bits int) []byte {
	key := make([]byte, bits/8)
	if _, err := rand.Read(key); err != nil {
		// if random does not work, we have a big problem
		panic(err)
	}
	return key
}
