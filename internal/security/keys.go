package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned when key material cannot be decoded or is not a
// key type the token provider can sign or verify with.
var ErrInvalidKey = errors.New("invalid signing key")

// ParsePrivateKey loads the access-token signing key. v is either inline PEM
// or a path to a PEM file; PKCS#8, PKCS#1 (RSA) and SEC 1 (EC) encodings are
// accepted.
func ParsePrivateKey(v string) (crypto.Signer, error) {
	der, err := decodeKeyPEM(v)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: %T cannot sign", ErrInvalidKey, key)
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey loads the access-token verification key. v is either inline
// PEM or a path to a PEM file; PKIX and PKCS#1 encodings are accepted.
func ParsePublicKey(v string) (crypto.PublicKey, error) {
	der, err := decodeKeyPEM(v)
	if err != nil {
		return nil, err
	}
	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		return pub, nil
	}
	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}
	return nil, ErrInvalidKey
}

// decodeKeyPEM resolves v to PEM bytes and returns the DER contents of the
// first block. Anything not starting with a PEM header is treated as a path.
func decodeKeyPEM(v string) ([]byte, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, ErrInvalidKey
	}
	raw := []byte(v)
	if !strings.HasPrefix(v, "-----BEGIN") {
		b, err := os.ReadFile(v)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = b
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block.Bytes, nil
}
