package oracle

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// KeyfuncFromPEM builds a jwt.Keyfunc over one PKIX-encoded public key.
// Every envelope is verified against the same key; multi-key
// deployments should resolve by kid instead.
func KeyfuncFromPEM(data []byte) (jwt.Keyfunc, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("oracle: no PEM block found")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("oracle: parse public key: %w", err)
	}
	return func(t *jwt.Token) (any, error) {
		return pub, nil
	}, nil
}

// KeyfuncFromPEMFile loads a PKIX public key PEM from disk.
func KeyfuncFromPEMFile(path string) (jwt.Keyfunc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oracle: read key file: %w", err)
	}
	return KeyfuncFromPEM(data)
}

// DenyAllKeyfunc rejects every envelope. Used when no oracle key is
// configured so the consensus path fails closed instead of panicking.
func DenyAllKeyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		return nil, fmt.Errorf("oracle: no verification key configured")
	}
}
