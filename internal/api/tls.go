package api

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/AaronLay10/linkstage/internal/config"
)

const (
	EnvTLSCert = "LINKSTAGE_TLS_CERT"
	EnvTLSKey  = "LINKSTAGE_TLS_KEY"
)

// TLSFiles names the PEM certificate and key the API serves.
type TLSFiles struct {
	CertFile string
	KeyFile  string
}

var tlsFiles *TLSFiles

// InitTLS resolves the certificate and key paths, each of which may come
// from a *_FILE indirection. TLS is enabled only when both are set.
func InitTLS() error {
	cert, err := config.ResolveSecret(EnvTLSCert)
	if err != nil {
		return fmt.Errorf("tls cert path: %w", err)
	}
	key, err := config.ResolveSecret(EnvTLSKey)
	if err != nil {
		return fmt.Errorf("tls key path: %w", err)
	}
	if cert == "" || key == "" {
		tlsFiles = nil
		return nil
	}
	tlsFiles = &TLSFiles{CertFile: cert, KeyFile: key}
	return nil
}

func IsTLSEnabled() bool { return tlsFiles != nil }

func GetTLSFiles() *TLSFiles { return tlsFiles }

// SetTLSFiles overrides the resolved paths; nil disables TLS.
func SetTLSFiles(f *TLSFiles) { tlsFiles = f }

// certReloader serves the key pair from disk and reloads it when the
// certificate file's modification time changes, so a rotated certificate
// is picked up without a restart.
type certReloader struct {
	files TLSFiles

	mu      sync.Mutex
	cert    *tls.Certificate
	modTime time.Time
}

func newCertReloader(files TLSFiles) (*certReloader, error) {
	r := &certReloader{files: files}
	if _, err := r.current(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) current() (*tls.Certificate, error) {
	info, err := os.Stat(r.files.CertFile)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cert != nil && info.ModTime().Equal(r.modTime) {
		return r.cert, nil
	}
	cert, err := tls.LoadX509KeyPair(r.files.CertFile, r.files.KeyFile)
	if err != nil {
		if r.cert != nil {
			log.Printf("tls reload failed, keeping previous certificate: %v", err)
			return r.cert, nil
		}
		return nil, err
	}
	r.cert, r.modTime = &cert, info.ModTime()
	return r.cert, nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.current()
}

// LoadTLSConfig returns a TLS 1.2+ server config, or nil when TLS is off or
// the key pair cannot be loaded.
func LoadTLSConfig() *tls.Config {
	if !IsTLSEnabled() {
		return nil
	}
	reloader, err := newCertReloader(*tlsFiles)
	if err != nil {
		log.Printf("Failed to load TLS certificate: %v", err)
		return nil
	}
	return &tls.Config{
		GetCertificate: reloader.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
}
