package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseLeaf(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	require.Len(t, cert.Certificate, 1)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf
}

func TestFileManager_Certificate(t *testing.T) {
	tests := []struct {
		setup          func(t *testing.T, dir string)
		validateResult func(t *testing.T, m *FileManager, cert tls.Certificate)
		name           string
		errorContains  string
		wantErr        bool
	}{
		{
			name: "creates new certificate when none exists",
			validateResult: func(t *testing.T, _ *FileManager, cert tls.Certificate) {
				t.Helper()
				leaf := parseLeaf(t, cert)
				assert.Equal(t, []string{"nexus-exposure"}, leaf.Subject.Organization)
				assert.NoError(t, leaf.VerifyHostname("localhost"))
				assert.NoError(t, leaf.VerifyHostname("127.0.0.1"))
			},
		},
		{
			name: "reuses existing valid certificate",
			setup: func(t *testing.T, dir string) {
				t.Helper()
				_, err := NewFileManager(dir).Certificate()
				require.NoError(t, err)
			},
			validateResult: func(t *testing.T, m *FileManager, cert tls.Certificate) {
				t.Helper()
				again, err := m.Certificate()
				require.NoError(t, err)
				assert.Equal(t, cert.Certificate[0], again.Certificate[0])
			},
		},
		{
			name: "regenerates unreadable files",
			setup: func(t *testing.T, dir string) {
				t.Helper()
				require.NoError(t, os.MkdirAll(dir, 0700))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.crt"), []byte("invalid certificate data"), 0600))
				require.NoError(t, os.WriteFile(filepath.Join(dir, "localhost.key"), []byte("invalid key data"), 0600))
			},
			validateResult: func(t *testing.T, _ *FileManager, cert tls.Certificate) {
				t.Helper()
				parseLeaf(t, cert)
			},
		},
		{
			name: "fails when the directory is a file",
			setup: func(t *testing.T, dir string) {
				t.Helper()
				require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0600))
			},
			wantErr:       true,
			errorContains: "failed to create certificate directory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "certs")
			if tt.setup != nil {
				tt.setup(t, dir)
			}

			m := NewFileManager(dir)
			cert, err := m.Certificate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			if tt.validateResult != nil {
				tt.validateResult(t, m, cert)
			}

			for _, name := range []string{"localhost.crt", "localhost.key"} {
				info, err := os.Stat(filepath.Join(dir, name))
				require.NoError(t, err)
				assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "%s should be owner-only", name)
			}
		})
	}
}

func TestFileManager_RenewsNearExpiry(t *testing.T) {
	dir := t.TempDir()
	m := NewFileManager(dir)
	first, err := m.Certificate()
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(validity - 24*time.Hour) }
	renewed, err := m.Certificate()
	require.NoError(t, err)

	assert.NotEqual(t, first.Certificate[0], renewed.Certificate[0])
	assert.True(t, parseLeaf(t, renewed).NotAfter.After(parseLeaf(t, first).NotAfter))
}

func TestFileManager_verify(t *testing.T) {
	m := NewFileManager(t.TempDir())
	cert, err := m.Certificate()
	require.NoError(t, err)

	tests := []struct {
		now           time.Time
		cert          tls.Certificate
		name          string
		errorContains string
	}{
		{name: "valid", cert: cert, now: time.Now()},
		{name: "empty", cert: tls.Certificate{}, now: time.Now(), errorContains: "no certificates found"},
		{name: "not yet valid", cert: cert, now: time.Now().Add(-time.Hour), errorContains: "not yet valid"},
		{name: "expiring", cert: cert, now: time.Now().Add(validity), errorContains: "expires soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.now = func() time.Time { return tt.now }
			err := m.verify(tt.cert)
			if tt.errorContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

type staticProvider struct {
	err  error
	cert tls.Certificate
}

func (p staticProvider) Certificate() (tls.Certificate, error) {
	return p.cert, p.err
}

func TestNewTLSConfig(t *testing.T) {
	cfg, err := NewFileManager(t.TempDir()).TLSConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	_, err = NewTLSConfig(staticProvider{err: errors.New("disk gone")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestCertificate_Handshake(t *testing.T) {
	serverCfg, err := NewFileManager(t.TempDir()).TLSConfig()
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.(*tls.Conn).Handshake()
		_ = conn.Close()
	}()

	pool := x509.NewCertPool()
	pool.AddCert(parseLeaf(t, serverCfg.Certificates[0]))

	conn, err := tls.Dial("tcp", ln.Addr().String(), &tls.Config{
		RootCAs:    pool,
		ServerName: "localhost",
		MinVersion: tls.VersionTLS12,
	})
	require.NoError(t, err)
	_ = conn.Close()
}
