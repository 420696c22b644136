package httpserver

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNoCertificate       = errors.New("httpserver: no certificate configured")
	ErrCertificateNotFound = errors.New("httpserver: certificate not found")
)

// CertStore holds the certificates a TLS listener serves. Certificates can be
// added and removed while the listener is running.
type CertStore struct {
	mu    sync.RWMutex
	certs []*storedCert
}

type storedCert struct {
	fingerprint [sha256.Size]byte
	names       []string
	cert        *tls.Certificate
}

func NewCertStore() *CertStore {
	return &CertStore{}
}

// Add stores cert. Adding a certificate whose leaf is already stored replaces
// the previous entry.
func (s *CertStore) Add(cert tls.Certificate) error {
	sc, err := newStoredCert(cert)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.certs {
		if existing.fingerprint == sc.fingerprint {
			s.certs[i] = sc
			return nil
		}
	}
	s.certs = append(s.certs, sc)
	return nil
}

// Remove deletes the certificate with the same leaf as cert.
func (s *CertStore) Remove(cert tls.Certificate) error {
	if len(cert.Certificate) == 0 {
		return ErrCertificateNotFound
	}
	fp := sha256.Sum256(cert.Certificate[0])

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.certs {
		if existing.fingerprint == fp {
			s.certs = append(s.certs[:i], s.certs[i+1:]...)
			return nil
		}
	}
	return ErrCertificateNotFound
}

func (s *CertStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.certs)
}

// GetCertificate picks the certificate for a handshake: an exact SNI match,
// then a wildcard match, then the first certificate added.
func (s *CertStore) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.certs) == 0 {
		return nil, ErrNoCertificate
	}

	name := strings.ToLower(strings.TrimSuffix(hello.ServerName, "."))
	if name != "" {
		for _, sc := range s.certs {
			for _, n := range sc.names {
				if n == name {
					return sc.cert, nil
				}
			}
		}
		if _, parent, ok := strings.Cut(name, "."); ok {
			wildcard := "*." + parent
			for _, sc := range s.certs {
				for _, n := range sc.names {
					if n == wildcard {
						return sc.cert, nil
					}
				}
			}
		}
	}
	return s.certs[0].cert, nil
}

func newStoredCert(cert tls.Certificate) (*storedCert, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("httpserver: certificate chain is empty")
	}
	leaf := cert.Leaf
	if leaf == nil {
		parsed, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("httpserver: parse leaf certificate: %w", err)
		}
		leaf = parsed
		cert.Leaf = parsed
	}

	var names []string
	for _, n := range leaf.DNSNames {
		names = append(names, strings.ToLower(n))
	}
	if len(names) == 0 && leaf.Subject.CommonName != "" {
		names = append(names, strings.ToLower(leaf.Subject.CommonName))
	}
	for _, ip := range leaf.IPAddresses {
		names = append(names, ip.String())
	}

	return &storedCert{
		fingerprint: sha256.Sum256(cert.Certificate[0]),
		names:       names,
		cert:        &cert,
	}, nil
}
