package security

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// File names of a TLS bundle
const (
	CACertFile   = "ca.crt"
	NodeCertFile = "node.crt"
	NodeKeyFile  = "node.key"
)

// TLSBundle lists the files written by WriteTLSBundle
type TLSBundle struct {
	CAPath   string
	CertPath string
	KeyPath  string
}

// WriteTLSBundle creates a fresh CA, issues one certificate for hosts and
// writes the CA certificate, node certificate and node key into dir
func WriteTLSBundle(dir, clusterName string, hosts []string) (*TLSBundle, error) {
	ca := NewCertAuthority(clusterName)
	if err := ca.Initialize(); err != nil {
		return nil, err
	}

	cert, err := ca.IssueNodeCertificate(hosts)
	if err != nil {
		return nil, err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal node key: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	bundle := &TLSBundle{
		CAPath:   filepath.Join(dir, CACertFile),
		CertPath: filepath.Join(dir, NodeCertFile),
		KeyPath:  filepath.Join(dir, NodeKeyFile),
	}

	if err := writePEM(bundle.CAPath, "CERTIFICATE", ca.GetRootCACert(), 0644); err != nil {
		return nil, err
	}
	if err := writePEM(bundle.CertPath, "CERTIFICATE", cert.Certificate[0], 0644); err != nil {
		return nil, err
	}
	if err := writePEM(bundle.KeyPath, "PRIVATE KEY", keyDER, 0600); err != nil {
		return nil, err
	}

	return bundle, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
