// Package cert generates and validates the self-signed TLS certificates
// relay nodes identify with. A node's Ed25519 public key is embedded in the
// certificate's single DNS name, so the peer identity is the key itself and
// no certificate authority is involved.
package cert

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base32"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// DNSNamePrefix is prepended to the encoded public key in the DNS name.
const DNSNamePrefix = "b"

var base32Encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// EncodePubKeyToDNS encodes an Ed25519 public key into a DNS name.
func EncodePubKeyToDNS(pubKey ed25519.PublicKey) string {
	return DNSNamePrefix + base32Encoding.EncodeToString(pubKey)
}

// Generate creates a self-signed certificate for the key pair, valid for the
// given duration and usable for both client and server authentication.
func Generate(pubKey ed25519.PublicKey, privKey ed25519.PrivateKey, validity time.Duration) (*tls.Certificate, error) {
	dnsName := EncodePubKeyToDNS(pubKey)

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: dnsName,
		},
		DNSNames:  []string{dnsName},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(validity),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		SignatureAlgorithm:    x509.PureEd25519,
		PublicKeyAlgorithm:    x509.Ed25519,
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("creating certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privKey,
		Leaf:        leaf,
	}, nil
}

// Validate checks that a peer certificate carries an Ed25519 key, a matching
// DNS name and an unexpired validity window, and returns the embedded key.
func Validate(c *x509.Certificate) (ed25519.PublicKey, error) {
	if c.SignatureAlgorithm != x509.PureEd25519 {
		return nil, fmt.Errorf("invalid signature algorithm: expected Ed25519")
	}

	pubKey, ok := c.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certificate public key is not Ed25519")
	}

	if len(c.DNSNames) != 1 {
		return nil, fmt.Errorf("certificate must have exactly one DNS name")
	}
	dnsName := c.DNSNames[0]
	if !strings.HasPrefix(dnsName, DNSNamePrefix) || dnsName != EncodePubKeyToDNS(pubKey) {
		return nil, fmt.Errorf("DNS name does not match public key")
	}

	now := time.Now()
	if now.Before(c.NotBefore) {
		return nil, fmt.Errorf("certificate is not yet valid")
	}
	if now.After(c.NotAfter) {
		return nil, fmt.Errorf("certificate has expired")
	}
	return pubKey, nil
}
