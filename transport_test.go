package shrike

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"golang.org/x/net/nettest"
)

func generateTestCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate private key: %v", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Test"},
			CommonName:   "scanner.test",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"scanner.test", "localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	keyDER, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		t.Fatalf("failed to marshal private key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(certPEM)

	return cert, certPool
}

func TestStreamReadDeadline(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("NewLocalListener failed: %v", err)
	}
	defer ln.Close()
	go func() {
		// Accept and hold the connection open without writing.
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(2 * time.Second)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	tr := NewStream(conn)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	n, err := tr.Read(ctx, make([]byte, 16))
	if err == nil {
		t.Fatal("Read succeeded, want timeout failure")
	}
	if n != 0 {
		t.Errorf("Read returned %d bytes with timeout", n)
	}
	if CodeOf(err) != CodeIOErr {
		t.Errorf("timeout classified as %v, want IOERR", CodeOf(err))
	}
}

func TestStreamWriteAllAndCloseWrite(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatalf("NewLocalListener failed: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	tr := NewStream(conn)
	defer tr.Close()

	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	if err := tr.WriteAll(context.Background(), payload); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if err := tr.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	select {
	case got := <-received:
		if !bytes.Equal(got, payload) {
			t.Errorf("received %d bytes, want %d", len(got), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw end of stream after CloseWrite")
	}
}

func TestStreamExpiredContext(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := NewStream(client)
	if _, err := tr.Read(ctx, make([]byte, 1)); CodeOf(err) != CodeIOErr {
		t.Errorf("expired context Read error = %v, want IOERR", err)
	}
	if err := tr.WriteAll(ctx, []byte("x")); CodeOf(err) != CodeIOErr {
		t.Errorf("expired context WriteAll error = %v, want IOERR", err)
	}
}

func TestTLSStream(t *testing.T) {
	cert, pool := generateTestCert(t)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls.Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// Echo a fixed greeting after reading one byte.
		buf := make([]byte, 1)
		if _, err := conn.Read(buf); err != nil {
			return
		}
		conn.Write([]byte("hello"))
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	tr, err := NewTLSStream(context.Background(), conn, &tls.Config{
		RootCAs:    pool,
		ServerName: "scanner.test",
	})
	if err != nil {
		t.Fatalf("NewTLSStream failed: %v", err)
	}
	defer tr.Close()

	if err := tr.WriteAll(context.Background(), []byte("x")); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	// CloseWrite must not send close_notify on the encrypted transport.
	if err := tr.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite failed: %v", err)
	}

	buf := make([]byte, 5)
	if _, err := io.ReadFull(readerFrom(tr), buf); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("greeting = %q, want \"hello\"", buf)
	}
}

func TestTLSStreamHandshakeFailure(t *testing.T) {
	cert, _ := generateTestCert(t)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		t.Fatalf("tls.Listen failed: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}

	// No root pool: verification must fail and classify as IOERR.
	_, err = NewTLSStream(context.Background(), conn, &tls.Config{ServerName: "scanner.test"})
	if CodeOf(err) != CodeIOErr {
		t.Errorf("handshake error = %v, want IOERR", err)
	}
}

func readerFrom(t Transport) io.Reader {
	return ctxReader{ctx: context.Background(), t: t}
}
