// Package signer produces detached Ed25519 signatures over command payloads.
//
// The signature covers the exact UTF-8 bytes of the payload as typed by the
// operator. Callers must submit the same string they signed; no trimming or
// re-encoding may happen between the two.
package signer

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotInitialized = errors.New("signer is not initialized")

// KeyFormatError reports malformed private key material. It is returned at
// load time; a Signer that loaded successfully never fails to sign.
type KeyFormatError struct {
	Source string
	Reason string
	Err    error
}

func (e *KeyFormatError) Error() string {
	source := strings.TrimSpace(e.Source)
	if source == "" {
		source = "key material"
	}
	if e.Err != nil {
		return fmt.Sprintf("invalid signing key (%s): %s: %v", source, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid signing key (%s): %s", source, e.Reason)
}

func (e *KeyFormatError) Unwrap() error {
	return e.Err
}

type Signer struct {
	key ed25519.PrivateKey
}

func New(material string) (*Signer, error) {
	return parse("inline", material)
}

func LoadFile(path string) (*Signer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &KeyFormatError{Source: "file", Reason: "key path is empty"}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key %s: %w", path, err)
	}
	return parse(path, string(b))
}

func FromEnv(name string) (*Signer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &KeyFormatError{Source: "env", Reason: "environment variable name is empty"}
	}
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, &KeyFormatError{Source: "$" + name, Reason: "environment variable is not set"}
	}
	return parse("$"+name, value)
}

func FromKey(key ed25519.PrivateKey) (*Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, &KeyFormatError{Source: "ed25519.PrivateKey", Reason: fmt.Sprintf("got %d bytes, want %d", len(key), ed25519.PrivateKeySize)}
	}
	owned := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(owned, key)
	return &Signer{key: owned}, nil
}

// Sign returns the lowercase hex encoding of the Ed25519 signature over
// payload. Ed25519 is deterministic, so equal payloads yield equal signatures.
func (s *Signer) Sign(payload string) (string, error) {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return "", ErrNotInitialized
	}
	return hex.EncodeToString(ed25519.Sign(s.key, []byte(payload))), nil
}

func (s *Signer) PublicKeyHex() string {
	if s == nil || len(s.key) != ed25519.PrivateKeySize {
		return ""
	}
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

func Verify(publicKeyHex string, payload string, signatureHex string) bool {
	public, err := hex.DecodeString(strings.TrimSpace(publicKeyHex))
	if err != nil || len(public) != ed25519.PublicKeySize {
		return false
	}
	signature, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(public), []byte(payload), signature)
}

func parse(source string, material string) (*Signer, error) {
	material = strings.TrimSpace(material)
	if material == "" {
		return nil, &KeyFormatError{Source: source, Reason: "key material is empty"}
	}
	if strings.HasPrefix(material, "-----BEGIN") {
		return parsePEM(source, material)
	}

	raw, err := hex.DecodeString(material)
	if err != nil {
		return nil, &KeyFormatError{Source: source, Reason: "expected hex or PEM encoding", Err: err}
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return &Signer{key: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		key := ed25519.PrivateKey(raw)
		// The trailing half of an expanded key is its public key; a mismatch
		// means the material was truncated or spliced.
		derived := ed25519.NewKeyFromSeed(key.Seed())
		if !derived.Equal(key) {
			return nil, &KeyFormatError{Source: source, Reason: "public half does not match seed"}
		}
		return &Signer{key: derived}, nil
	default:
		return nil, &KeyFormatError{Source: source, Reason: fmt.Sprintf("got %d bytes, want %d (seed) or %d (private key)", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)}
	}
}

func parsePEM(source string, material string) (*Signer, error) {
	block, _ := pem.Decode([]byte(material))
	if block == nil {
		return nil, &KeyFormatError{Source: source, Reason: "no PEM block found"}
	}
	if block.Type != "PRIVATE KEY" {
		return nil, &KeyFormatError{Source: source, Reason: fmt.Sprintf("unsupported PEM block %q", block.Type)}
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &KeyFormatError{Source: source, Reason: "parse PKCS#8", Err: err}
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, &KeyFormatError{Source: source, Reason: fmt.Sprintf("PKCS#8 key is %T, want ed25519", parsed)}
	}
	return FromKey(key)
}
