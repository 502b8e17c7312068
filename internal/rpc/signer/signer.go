// Package signer produces and checks the Chatops request signature.
//
// Wire contract:
//
//	canonical = url + "\n" + nonce + "\n" + timestamp + "\n" + body
//	signature = base64(RSASSA-PKCS1-v1_5(SHA-256(canonical)))
//	Chatops-Signature: Signature keyid=<id>,signature=<signature>
package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderNonce     = "Chatops-Nonce"
	HeaderTimestamp = "Chatops-Timestamp"
	HeaderSignature = "Chatops-Signature"

	DefaultKeyID = "hubotkey"

	// TimestampLayout is ISO-8601 UTC with milliseconds.
	TimestampLayout = "2006-01-02T15:04:05.000Z"

	nonceBytes = 32
)

// ErrNoKey means no private key was configured. The rpc subsystem must not start without one.
var ErrNoKey = errors.New("rpc: no private key configured")

var errBadHeader = errors.New("malformed signature header")

// Auth is the header triple for one request.
type Auth struct {
	Nonce     string
	Timestamp string
	Signature string // bare base64 signature
	Header    string // full Chatops-Signature value
}

// Apply sets the three auth headers on h.
func (a Auth) Apply(h http.Header) {
	h.Set(HeaderNonce, a.Nonce)
	h.Set(HeaderTimestamp, a.Timestamp)
	h.Set(HeaderSignature, a.Header)
}

type Signer struct {
	key   *rsa.PrivateKey
	keyID string

	now  func() time.Time
	rand io.Reader
}

func New(key *rsa.PrivateKey, keyID string) (*Signer, error) {
	if key == nil {
		return nil, ErrNoKey
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = DefaultKeyID
	}
	return &Signer{key: key, keyID: keyID, now: time.Now, rand: rand.Reader}, nil
}

func (s *Signer) KeyID() string { return s.keyID }

func (s *Signer) Public() *rsa.PublicKey { return &s.key.PublicKey }

// Sign builds a fresh Auth for a request to url carrying body (nil for GET).
func (s *Signer) Sign(url string, body []byte) (Auth, error) {
	raw := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.rand, raw); err != nil {
		return Auth{}, fmt.Errorf("nonce: %w", err)
	}
	nonce := base64.StdEncoding.EncodeToString(raw)
	ts := s.now().UTC().Format(TimestampLayout)

	digest := sha256.Sum256(canonical(url, nonce, ts, body))
	sig, err := rsa.SignPKCS1v15(s.rand, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return Auth{}, fmt.Errorf("sign: %w", err)
	}
	enc := base64.StdEncoding.EncodeToString(sig)
	return Auth{
		Nonce:     nonce,
		Timestamp: ts,
		Signature: enc,
		Header:    FormatHeader(s.keyID, enc),
	}, nil
}

func FormatHeader(keyID, sig string) string {
	return "Signature keyid=" + keyID + ",signature=" + sig
}

// ParseHeader splits a Chatops-Signature value into key id and signature.
func ParseHeader(h string) (keyID, sig string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(h), "Signature ")
	if !ok {
		return "", "", errBadHeader
	}
	for _, part := range strings.Split(rest, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return "", "", errBadHeader
		}
		switch k {
		case "keyid":
			keyID = v
		case "signature":
			// base64 padding keeps its '=' because Cut splits on the first one only.
			sig = v
		}
	}
	if keyID == "" || sig == "" {
		return "", "", errBadHeader
	}
	return keyID, sig, nil
}

// Verify checks that auth was produced over (url, body) by the holder of pub's private key.
func Verify(pub *rsa.PublicKey, url string, auth Auth, body []byte) error {
	sig := auth.Signature
	if sig == "" && auth.Header != "" {
		var err error
		if _, sig, err = ParseHeader(auth.Header); err != nil {
			return err
		}
	}
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("signature encoding: %w", err)
	}
	digest := sha256.Sum256(canonical(url, auth.Nonce, auth.Timestamp, body))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], raw)
}

// FromHeaders reads the auth triple back out of request headers.
func FromHeaders(h http.Header) Auth {
	a := Auth{
		Nonce:     h.Get(HeaderNonce),
		Timestamp: h.Get(HeaderTimestamp),
		Header:    h.Get(HeaderSignature),
	}
	if _, sig, err := ParseHeader(a.Header); err == nil {
		a.Signature = sig
	}
	return a
}

func canonical(url, nonce, ts string, body []byte) []byte {
	b := make([]byte, 0, len(url)+len(nonce)+len(ts)+len(body)+3)
	b = append(b, url...)
	b = append(b, '\n')
	b = append(b, nonce...)
	b = append(b, '\n')
	b = append(b, ts...)
	b = append(b, '\n')
	return append(b, body...)
}
