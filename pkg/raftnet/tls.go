package raftnet

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// Cluster certificate validity, grounded on the teacher's CA package
// (pkg/security/ca.go): short-lived node certs off a long-lived root.
const (
	rootCAValidity = 10 * 365 * 24 * time.Hour
	serverValidity = 90 * 24 * time.Hour
	rootKeyBits    = 4096
	serverKeyBits  = 2048
)

// ClusterCA is the minimal self-signed certificate authority used to mint
// TLS material for "ssl:" scheme sessions between cluster members. It
// exists because spec.md's address grammar names "ssl" as a scheme without
// specifying a PKI; this is the narrowest thing that can issue and verify
// mutually-trusted certs for a closed set of servers.
type ClusterCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// NewClusterCA generates a fresh root CA for clusterID.
func NewClusterCA(clusterID string) (*ClusterCA, error) {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return nil, fmt.Errorf("raftnet: generate CA key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "raft-cluster-" + clusterID},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("raftnet: self-sign CA: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("raftnet: parse CA cert: %w", err)
	}
	return &ClusterCA{cert: cert, key: key}, nil
}

// IssueServerCert mints a short-lived leaf certificate for serverID, valid
// for the given host (used as both CN and SAN, covering the address this
// server advertises).
func (ca *ClusterCA) IssueServerCert(serverID, host string) (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, serverKeyBits)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("raftnet: generate server key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: serverID},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(serverValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("raftnet: sign server cert: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der, ca.cert.Raw},
		PrivateKey:  key,
		Leaf:        nil,
	}, nil
}

// ServerTLSConfig builds a mutual-TLS config for a server holding cert,
// trusting only this CA for client verification.
func (ca *ClusterCA) ServerTLSConfig(cert tls.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig builds the corresponding dial-side config.
func (ca *ClusterCA) ClientTLSConfig(cert tls.Certificate) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(ca.cert)
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}
}
