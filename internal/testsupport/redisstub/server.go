// Package redisstub runs a minimal in-process Redis server speaking just
// enough RESP for the execution feed (XADD) and the hook rate-limit store
// (INCR, EXPIRE, TTL). Tests assert against its in-memory state directly
// instead of reading back over the wire.
package redisstub

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configures the stub listener.
type Options struct {
	Password  string
	EnableTLS bool
}

// Entry is one XADD record captured by the stub.
type Entry struct {
	ID     string
	Values map[string]string
}

// Server is a single-node stub bound to a random loopback port.
type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	closed   chan struct{}
	certPEM  []byte
	keyPEM   []byte

	mu      sync.Mutex
	streams map[string][]Entry
	kv      map[string]*counter
}

type counter struct {
	value  int64
	expiry time.Time
}

// Start binds the stub and begins serving connections.
func Start(opts Options) (*Server, error) {
	server := &Server{
		opts:    opts,
		streams: make(map[string][]Entry),
		kv:      make(map[string]*counter),
		closed:  make(chan struct{}),
	}
	var ln net.Listener
	var err error
	if opts.EnableTLS {
		certPEM, keyPEM, cert, certErr := generateSelfSignedCert()
		if certErr != nil {
			return nil, certErr
		}
		server.certPEM = certPEM
		server.keyPEM = keyPEM
		ln, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		return nil, err
	}
	server.listener = ln
	server.addr = ln.Addr().String()
	go server.serve()
	return server, nil
}

// Addr returns the host:port the stub listens on.
func (s *Server) Addr() string {
	return s.addr
}

// CertPEM returns the self-signed certificate when TLS is enabled.
func (s *Server) CertPEM() []byte {
	return s.certPEM
}

// KeyPEM returns the private key when TLS is enabled.
func (s *Server) KeyPEM() []byte {
	return s.keyPEM
}

// Close stops the listener. Established connections end on their next read.
func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

// StreamEntries returns the XADD records captured for a stream.
func (s *Server) StreamEntries(stream string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, len(s.streams[stream]))
	copy(entries, s.streams[stream])
	return entries
}

// CounterValue returns the current value of an INCR key, zero when unset.
func (s *Server) CounterValue(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil {
		return 0
	}
	return entry.value
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readArray(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR wrong number of arguments") != nil {
				return
			}
			continue
		}
		var replyErr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			replyErr = writeSimpleString(writer, "PONG")
		case "HELLO":
			// Reported as unknown so clients fall back to RESP2.
			replyErr = writeError(writer, "ERR unknown command 'HELLO'")
		case "CLIENT", "SELECT":
			replyErr = writeSimpleString(writer, "OK")
		case "AUTH":
			authenticated, replyErr = s.handleAuth(writer, args)
		default:
			if !authenticated {
				replyErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			replyErr = s.dispatch(writer, args)
		}
		if replyErr != nil {
			return
		}
	}
}

func (s *Server) handleAuth(writer *bufio.Writer, args []string) (bool, error) {
	// AUTH password or AUTH username password.
	var supplied string
	switch len(args) {
	case 2:
		supplied = args[1]
	case 3:
		supplied = args[2]
	default:
		return false, writeError(writer, "ERR wrong number of arguments for 'auth'")
	}
	if s.opts.Password != "" && supplied != s.opts.Password {
		return false, writeError(writer, "WRONGPASS invalid username-password pair")
	}
	return true, writeSimpleString(writer, "OK")
}

func (s *Server) dispatch(writer *bufio.Writer, args []string) error {
	switch strings.ToUpper(args[0]) {
	case "XADD":
		if len(args) < 5 {
			return writeError(writer, "ERR wrong number of arguments for 'xadd'")
		}
		id := args[2]
		if id == "*" {
			id = fmt.Sprintf("%d-0", time.Now().UnixNano())
		}
		values := make(map[string]string)
		for i := 3; i+1 < len(args); i += 2 {
			values[args[i]] = args[i+1]
		}
		s.mu.Lock()
		s.streams[args[1]] = append(s.streams[args[1]], Entry{ID: id, Values: values})
		s.mu.Unlock()
		return writeBulkString(writer, id)
	case "XLEN":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'xlen'")
		}
		s.mu.Lock()
		length := int64(len(s.streams[args[1]]))
		s.mu.Unlock()
		return writeInteger(writer, length)
	case "INCR":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'incr'")
		}
		return writeInteger(writer, s.incr(args[1]))
	case "EXPIRE":
		if len(args) != 3 {
			return writeError(writer, "ERR wrong number of arguments for 'expire'")
		}
		seconds, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return writeError(writer, "ERR invalid expire time")
		}
		s.expire(args[1], time.Duration(seconds)*time.Second)
		return writeInteger(writer, 1)
	case "TTL":
		if len(args) != 2 {
			return writeError(writer, "ERR wrong number of arguments for 'ttl'")
		}
		return writeInteger(writer, s.ttl(args[1]))
	default:
		return writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
	}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counter{}
		s.kv[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil {
		entry = &counter{}
		s.kv[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.kv[key]
	if entry == nil || entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.kv, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func generateSelfSignedCert() ([]byte, []byte, tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, nil, tls.Certificate{}, err
	}
	return certPEM, keyPEM, cert, nil
}

func readArray(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, length)
	for i := 0; i < length; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"))
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
