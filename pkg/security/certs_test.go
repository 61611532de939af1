package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCA issues short-lived certificates for TLS tests
type testCA struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
	pem  []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "fleet test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		cert: cert,
		key:  key,
		pem:  pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// issue returns PEM encoded certificate and key
func (ca *testCA) issue(t *testing.T, cn string, usage x509.ExtKeyUsage, validFor time.Duration) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{usage},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return certPEM, keyPEM
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

// writeClientDir lays out ca.crt, client.crt and client.key in a temp dir
func writeClientDir(t *testing.T, ca *testCA) string {
	t.Helper()
	dir := t.TempDir()
	certPEM, keyPEM := ca.issue(t, "operator", x509.ExtKeyUsageClientAuth, 90*24*time.Hour)
	writeFile(t, dir, CACertFile, ca.pem)
	writeFile(t, dir, ClientCertFile, certPEM)
	writeFile(t, dir, ClientKeyFile, keyPEM)
	return dir
}

func TestLoadCertFromFile(t *testing.T) {
	ca := newTestCA(t)
	dir := writeClientDir(t, ca)

	cert, err := LoadCertFromFile(filepath.Join(dir, ClientCertFile), filepath.Join(dir, ClientKeyFile))
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Equal(t, "operator", cert.Leaf.Subject.CommonName)

	_, err = LoadCertFromFile(filepath.Join(dir, "missing.crt"), filepath.Join(dir, ClientKeyFile))
	assert.Error(t, err)
}

func TestLoadCAPool(t *testing.T) {
	ca := newTestCA(t)
	dir := t.TempDir()

	_, err := LoadCAPool(writeFile(t, dir, "ca.crt", ca.pem))
	assert.NoError(t, err)

	_, err = LoadCAPool(writeFile(t, dir, "garbage.crt", []byte("not a certificate")))
	assert.Error(t, err)

	_, err = LoadCAPool(filepath.Join(dir, "missing.crt"))
	assert.Error(t, err)
}

func TestOptionsFromDir(t *testing.T) {
	ca := newTestCA(t)
	dir := writeClientDir(t, ca)

	t.Run("fills everything", func(t *testing.T) {
		opts := OptionsFromDir(TLSOptions{}, dir)
		assert.Equal(t, filepath.Join(dir, CACertFile), opts.CAFile)
		assert.Equal(t, filepath.Join(dir, ClientCertFile), opts.CertFile)
		assert.Equal(t, filepath.Join(dir, ClientKeyFile), opts.KeyFile)
	})

	t.Run("explicit files win", func(t *testing.T) {
		opts := OptionsFromDir(TLSOptions{CAFile: "/etc/ca.pem", CertFile: "/a.crt", KeyFile: "/a.key"}, dir)
		assert.Equal(t, "/etc/ca.pem", opts.CAFile)
		assert.Equal(t, "/a.crt", opts.CertFile)
		assert.Equal(t, "/a.key", opts.KeyFile)
	})

	t.Run("half a key pair is ignored", func(t *testing.T) {
		partial := t.TempDir()
		writeFile(t, partial, ClientCertFile, []byte("x"))
		opts := OptionsFromDir(TLSOptions{}, partial)
		assert.Empty(t, opts.CertFile)
		assert.Empty(t, opts.KeyFile)
	})

	t.Run("missing directory", func(t *testing.T) {
		assert.Equal(t, TLSOptions{}, OptionsFromDir(TLSOptions{}, filepath.Join(dir, "nope")))
	})
}

func TestLoadClientTLSConfig(t *testing.T) {
	ca := newTestCA(t)
	dir := writeClientDir(t, ca)

	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(TLSOptions{})
		require.NoError(t, err)
		assert.Nil(t, cfg.RootCAs)
		assert.Empty(t, cfg.Certificates)
		assert.False(t, cfg.InsecureSkipVerify)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("incomplete key pair", func(t *testing.T) {
		_, err := LoadClientTLSConfig(TLSOptions{CertFile: filepath.Join(dir, ClientCertFile)})
		assert.True(t, errors.Is(err, ErrIncompleteKeyPair))
	})

	t.Run("insecure", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(TLSOptions{Insecure: true})
		require.NoError(t, err)
		assert.True(t, cfg.InsecureSkipVerify)
	})

	t.Run("full", func(t *testing.T) {
		cfg, err := LoadClientTLSConfig(OptionsFromDir(TLSOptions{}, dir))
		require.NoError(t, err)
		assert.NotNil(t, cfg.RootCAs)
		assert.Len(t, cfg.Certificates, 1)
	})
}

// TestMutualTLS checks the loaded configuration against a server that
// requires client certificates
func TestMutualTLS(t *testing.T) {
	ca := newTestCA(t)
	dir := writeClientDir(t, ca)

	serverCertPEM, serverKeyPEM := ca.issue(t, "127.0.0.1", x509.ExtKeyUsageServerAuth, 24*time.Hour)
	serverCert, err := tls.X509KeyPair(serverCertPEM, serverKeyPEM)
	require.NoError(t, err)

	clientCAs := x509.NewCertPool()
	clientCAs.AddCert(ca.cert)

	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.TLS.PeerCertificates[0].Subject.CommonName))
	}))
	server.TLS = &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
	}
	server.StartTLS()
	defer server.Close()

	get := func(opts TLSOptions) (*http.Response, error) {
		cfg, err := LoadClientTLSConfig(opts)
		require.NoError(t, err)
		httpClient := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
		return httpClient.Get(server.URL)
	}

	resp, err := get(OptionsFromDir(TLSOptions{}, dir))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = get(TLSOptions{CAFile: filepath.Join(dir, CACertFile)})
	assert.Error(t, err, "server must reject a client without a certificate")

	_, err = get(TLSOptions{CertFile: filepath.Join(dir, ClientCertFile), KeyFile: filepath.Join(dir, ClientKeyFile)})
	assert.Error(t, err, "server certificate is not trusted by the system pool")
}

func TestGetCertInfo(t *testing.T) {
	ca := newTestCA(t)
	dir := writeClientDir(t, ca)

	cert, err := LoadCertFromFile(filepath.Join(dir, ClientCertFile), filepath.Join(dir, ClientKeyFile))
	require.NoError(t, err)

	info := GetCertInfo(cert.Leaf)
	assert.Equal(t, "operator", info["subject"])
	assert.Equal(t, "fleet test CA", info["issuer"])
	assert.Equal(t, []string{"ClientAuth"}, info["ext_key_usage"])

	assert.Greater(t, GetCertTimeRemaining(cert.Leaf), 80*24*time.Hour)
	assert.Equal(t, time.Duration(0), GetCertTimeRemaining(nil))
	assert.Contains(t, GetCertInfo(nil), "error")
}
