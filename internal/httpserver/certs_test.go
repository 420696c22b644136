package httpserver

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T, cn string, dnsNames ...string) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     dnsNames,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func commonName(c *tls.Certificate) string {
	return c.Leaf.Subject.CommonName
}

func TestCertStore_SelectsBySNI(t *testing.T) {
	t.Parallel()

	s := NewCertStore()
	if _, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: "a.example.com"}); !errors.Is(err, ErrNoCertificate) {
		t.Fatalf("err=%v, want ErrNoCertificate", err)
	}

	for _, c := range []tls.Certificate{
		selfSignedCert(t, "default", "default.example.com"),
		selfSignedCert(t, "wildcard", "*.example.com"),
		selfSignedCert(t, "exact", "live.example.com"),
		selfSignedCert(t, "cn-only"),
	} {
		if err := s.Add(c); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	cases := []struct {
		serverName string
		want       string
	}{
		{serverName: "live.example.com", want: "exact"},
		{serverName: "LIVE.example.com.", want: "exact"},
		{serverName: "edge.example.com", want: "wildcard"},
		{serverName: "cn-only", want: "cn-only"},
		{serverName: "a.b.example.com", want: "default"},
		{serverName: "other.test", want: "default"},
		{serverName: "", want: "default"},
	}
	for _, tc := range cases {
		got, err := s.GetCertificate(&tls.ClientHelloInfo{ServerName: tc.serverName})
		if err != nil {
			t.Fatalf("GetCertificate(%q): %v", tc.serverName, err)
		}
		if commonName(got) != tc.want {
			t.Fatalf("GetCertificate(%q)=%q, want %q", tc.serverName, commonName(got), tc.want)
		}
	}
}

func TestCertStore_AddReplacesAndRemove(t *testing.T) {
	t.Parallel()

	s := NewCertStore()
	c := selfSignedCert(t, "one", "one.example.com")

	if err := s.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(c); err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len=%d, want 1", got)
	}

	if err := s.Remove(c); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("Len=%d, want 0", got)
	}
	if err := s.Remove(c); !errors.Is(err, ErrCertificateNotFound) {
		t.Fatalf("Remove twice err=%v, want ErrCertificateNotFound", err)
	}
	if err := s.Add(tls.Certificate{}); err == nil {
		t.Fatalf("expected error for empty chain")
	}
}

func TestTLSListenerServesFromStore(t *testing.T) {
	certs := NewCertStore()
	cert := selfSignedCert(t, "whip", "localhost")
	if err := certs.Add(cert); err != nil {
		t.Fatalf("Add: %v", err)
	}

	srv := New(Options{Name: "https", Addr: "127.0.0.1:0", Certs: certs, Ops: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-errCh
	})

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{RootCAs: pool, ServerName: "localhost"},
	}}

	resp, err := client.Get("https://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 || resp.TLS.PeerCertificates[0].Subject.CommonName != "whip" {
		t.Fatalf("unexpected peer certificate: %+v", resp.TLS)
	}
}
