package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

const DefaultKeyEnv = "RPC_PRIVATE_KEY"

var (
	errNoPEM            = errors.New("no PEM block found")
	errNotRSAPrivateKey = errors.New("private key is not RSA")
)

// KeySource names where the private key may come from. Env is consulted first.
type KeySource struct {
	Env  string // environment variable name; empty means DefaultKeyEnv
	File string // optional PEM file path
}

// Resolve loads the key from the environment or the file. It returns ErrNoKey
// when neither is set.
func (ks KeySource) Resolve() (*rsa.PrivateKey, error) {
	env := strings.TrimSpace(ks.Env)
	if env == "" {
		env = DefaultKeyEnv
	}
	if v := os.Getenv(env); strings.TrimSpace(v) != "" {
		k, err := LoadKey(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env, err)
		}
		return k, nil
	}
	if path := strings.TrimSpace(ks.File); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		k, err := LoadKey(string(b))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return k, nil
	}
	return nil, ErrNoKey
}

// LoadKey parses a PKCS#1 or PKCS#8 RSA private key. Escaped "\n" sequences,
// as often found in single-line environment values, are expanded first.
func LoadKey(pemText string) (*rsa.PrivateKey, error) {
	if !strings.Contains(pemText, "\n") && strings.Contains(pemText, `\n`) {
		pemText = strings.ReplaceAll(pemText, `\n`, "\n")
	}
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, errNoPEM
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case "PRIVATE KEY":
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported private key type %q", block.Type)
	}
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errNotRSAPrivateKey
	}
	return priv, nil
}

// LoadPublicKey parses a PKIX or PKCS#1 RSA public key.
func LoadPublicKey(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(pemText)))
	if block == nil {
		return nil, errNoPEM
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %q", block.Type)
	}
}

// GenerateKey returns a new RSA key and its PEM encodings (PKCS#1 private, PKIX public).
func GenerateKey(bits int) (priv *rsa.PrivateKey, privPEM, pubPEM []byte, err error) {
	if bits < 2048 {
		bits = 2048
	}
	priv, err = rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, nil, err
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, nil, nil, err
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return priv, privPEM, pubPEM, nil
}
