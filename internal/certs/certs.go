// Package certs provides the certs.Provider external collaborator (spec
// §6.4): a thin interface for obtaining mTLS identity material, with a
// self-signed default. Adapted from the teacher's file-based
// internal/pki/ca.go (GenerateCA) and internal/pki/host.go
// (GenerateHostCert) into an in-memory PEM generator — this control plane
// never shells out to write files to disk, it hands PEM bytes straight to
// whichever transport wants them.
package certs

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Request describes the identity to embed in an issued certificate.
type Request struct {
	NodeName string
	DNSNames []string
	IPs      []net.IP
}

// Provider issues mTLS identity material for a node.
type Provider interface {
	Issue(ctx context.Context, req Request) (certChainPem, keyPem, caBundlePem string, err error)
}

// SelfSigned issues a fresh self-signed RSA certificate per call, matching
// the teacher's GenerateCA/GenerateHostCert validity-window shape but
// skipping the two-step CA-then-host-cert chain: every node is its own
// root, since the peer transport's trust model (spec §4.C) is a shared
// PeerToken, not a PKI hierarchy. Suitable for dev/test; a real deployment
// plugs a real Provider in behind this interface.
type SelfSigned struct {
	ValidityDays int
}

// NewSelfSigned returns a SelfSigned provider with a 365-day validity
// window.
func NewSelfSigned() *SelfSigned {
	return &SelfSigned{ValidityDays: 365}
}

// Issue generates a new self-signed certificate and key for req.NodeName.
// The returned caBundlePem is the certificate itself, since it is also its
// own root.
func (s *SelfSigned) Issue(ctx context.Context, req Request) (string, string, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", "", "", fmt.Errorf("certs: generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", "", fmt.Errorf("certs: generating serial: %w", err)
	}

	dnsNames := append([]string{req.NodeName, "localhost"}, req.DNSNames...)
	ips := append([]net.IP{net.ParseIP("127.0.0.1")}, req.IPs...)

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"meshd"},
			CommonName:   req.NodeName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Duration(s.ValidityDays) * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return "", "", "", fmt.Errorf("certs: signing certificate: %w", err)
	}

	certPem := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPem := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)}))

	return certPem, keyPem, certPem, nil
}
