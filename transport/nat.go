package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NATType is the RFC 3489 classification of the local NAT.
type NATType uint8

const (
	// NATTypeUnknown means the test sequence could not finish.
	NATTypeUnknown NATType = iota
	// NATTypeBlocked means UDP to the STUN server gets no answer.
	NATTypeBlocked
	// NATTypeOpenInternet means the host has a public address and no firewall.
	NATTypeOpenInternet
	// NATTypeSymmetricUDPFirewall means a public address behind a UDP firewall.
	NATTypeSymmetricUDPFirewall
	// NATTypeFullCone maps one internal endpoint to one external endpoint
	// reachable by anyone.
	NATTypeFullCone
	// NATTypeRestrictedCone only admits hosts the client has sent to.
	NATTypeRestrictedCone
	// NATTypePortRestrictedCone only admits host:port pairs the client has sent to.
	NATTypePortRestrictedCone
	// NATTypeSymmetric allocates a new mapping per destination.
	NATTypeSymmetric
)

func (t NATType) String() string {
	switch t {
	case NATTypeBlocked:
		return "Blocked"
	case NATTypeOpenInternet:
		return "Open Internet"
	case NATTypeSymmetricUDPFirewall:
		return "Symmetric UDP Firewall"
	case NATTypeFullCone:
		return "Full Cone"
	case NATTypeRestrictedCone:
		return "Restricted Cone"
	case NATTypePortRestrictedCone:
		return "Port Restricted Cone"
	case NATTypeSymmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// Traversable reports whether a direct connect can work through this NAT.
// Only the three cone types qualify.
func (t NATType) Traversable() bool {
	switch t {
	case NATTypeFullCone, NATTypeRestrictedCone, NATTypePortRestrictedCone:
		return true
	default:
		return false
	}
}

// NATInfo describes one discovery result.
type NATInfo struct {
	PublicIP   net.IP
	PublicPort int
	LocalIP    net.IP
	LocalPort  int
	Type       NATType
}

// PublicAddr returns the public endpoint as host:port.
func (n *NATInfo) PublicAddr() string {
	return net.JoinHostPort(n.PublicIP.String(), strconv.Itoa(n.PublicPort))
}

func (n *NATInfo) String() string {
	return fmt.Sprintf("%s public=%s local=%s", n.Type, n.PublicAddr(),
		net.JoinHostPort(n.LocalIP.String(), strconv.Itoa(n.LocalPort)))
}

const (
	// DefaultSTUNServer is used when NewNATTraversal gets an empty address.
	DefaultSTUNServer = "stun.l.google.com:19302"
	// DefaultSTUNTimeout bounds one binding test try.
	DefaultSTUNTimeout = 2 * time.Second
	// DefaultSTUNRetries is the number of resends per binding test.
	DefaultSTUNRetries = 2
	// DefaultConnectTimeout bounds the direct TCP connect.
	DefaultConnectTimeout = 10 * time.Second
)

// NATTraversal discovers the public endpoint and attempts direct connects.
// Results are not cached unless SetCacheTTL is given a positive duration.
type NATTraversal struct {
	mu             sync.Mutex
	server         string
	timeout        time.Duration
	retries        int
	connectTimeout time.Duration
	cacheTTL       time.Duration
	cache          map[int]cachedNATInfo
}

type cachedNATInfo struct {
	info    NATInfo
	expires time.Time
}

// NewNATTraversal creates a handler that probes stunServer ("host:port").
func NewNATTraversal(stunServer string) *NATTraversal {
	if stunServer == "" {
		stunServer = DefaultSTUNServer
	}
	return &NATTraversal{
		server:         stunServer,
		timeout:        DefaultSTUNTimeout,
		retries:        DefaultSTUNRetries,
		connectTimeout: DefaultConnectTimeout,
		cache:          make(map[int]cachedNATInfo),
	}
}

// SetTimeout sets the wait for one binding test try.
func (nt *NATTraversal) SetTimeout(d time.Duration) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if d > 0 {
		nt.timeout = d
	}
}

// SetRetries sets how many times a binding test is resent.
func (nt *NATTraversal) SetRetries(n int) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if n >= 0 {
		nt.retries = n
	}
}

// SetConnectTimeout sets the bound on the direct TCP connect.
func (nt *NATTraversal) SetConnectTimeout(d time.Duration) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if d > 0 {
		nt.connectTimeout = d
	}
}

// SetCacheTTL enables reuse of a successful Discover result per local port.
// Zero disables caching.
func (nt *NATTraversal) SetCacheTTL(d time.Duration) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.cacheTTL = d
	if d <= 0 {
		nt.cache = make(map[int]cachedNATInfo)
	}
}

// Server returns the configured STUN endpoint.
func (nt *NATTraversal) Server() string {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	return nt.server
}

// Discover binds UDP on localPort, classifies the NAT and returns the public
// endpoint. Only cone NATs succeed; anything else is a NATError of kind
// ErrNATUnsupported carrying the classification.
func (nt *NATTraversal) Discover(ctx context.Context, localPort int) (*NATInfo, error) {
	nt.mu.Lock()
	server, timeout, retries, ttl := nt.server, nt.timeout, nt.retries, nt.cacheTTL
	if c, ok := nt.cache[localPort]; ok && ttl > 0 && time.Now().Before(c.expires) {
		nt.mu.Unlock()
		info := c.info
		return &info, nil
	}
	nt.mu.Unlock()

	serverAddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, &NATError{Kind: ErrNATDiscoveryFailed, Err: fmt.Errorf("resolve %s: %w", server, err)}
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: localPort})
	if err != nil {
		return nil, &NATError{Kind: ErrNATDiscoveryFailed, Err: err}
	}
	defer conn.Close()

	local := conn.LocalAddr().(*net.UDPAddr)
	localIP := outboundIP(serverAddr)

	info, err := classify(ctx, newSTUNClient(conn, timeout, retries), serverAddr, localIP, local.Port)
	if err != nil {
		return nil, &NATError{Kind: ErrNATDiscoveryFailed, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Discover",
		"stun_server": server,
		"nat_type":    info.Type.String(),
		"public_addr": info.PublicAddr(),
		"local_port":  info.LocalPort,
	}).Info("NAT classified")

	if !info.Type.Traversable() {
		return info, &NATError{Kind: ErrNATUnsupported, Type: info.Type}
	}

	if ttl > 0 {
		nt.mu.Lock()
		nt.cache[localPort] = cachedNATInfo{info: *info, expires: time.Now().Add(ttl)}
		nt.mu.Unlock()
	}
	return info, nil
}

// classify runs the RFC 3489 test sequence. A missing answer is a result;
// only socket failures and cancellation are errors.
func classify(ctx context.Context, sc *stunClient, server *net.UDPAddr, localIP net.IP, localPort int) (*NATInfo, error) {
	info := &NATInfo{LocalIP: localIP, LocalPort: localPort, Type: NATTypeUnknown}

	// Test I: plain binding.
	first, err := sc.bindingRequest(ctx, server, 0)
	if errors.Is(err, errNoResponse) {
		info.Type = NATTypeBlocked
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	info.PublicIP = first.mapped.IP
	info.PublicPort = first.mapped.Port

	// Test II: ask for the answer from another IP and port.
	_, err = sc.bindingRequest(ctx, server, changeIP|changePort)
	if err != nil && !errors.Is(err, errNoResponse) {
		return nil, err
	}
	answered := err == nil

	if first.mapped.IP.Equal(localIP) && first.mapped.Port == localPort {
		if answered {
			info.Type = NATTypeOpenInternet
		} else {
			info.Type = NATTypeSymmetricUDPFirewall
		}
		return info, nil
	}
	if answered {
		info.Type = NATTypeFullCone
		return info, nil
	}

	// Test I': same binding, sent to the alternate address.
	if first.changed == nil {
		return info, nil
	}
	second, err := sc.bindingRequest(ctx, first.changed, 0)
	if errors.Is(err, errNoResponse) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	if !second.mapped.IP.Equal(first.mapped.IP) || second.mapped.Port != first.mapped.Port {
		info.Type = NATTypeSymmetric
		return info, nil
	}

	// Test III: ask for the answer from another port only.
	_, err = sc.bindingRequest(ctx, server, changePort)
	switch {
	case err == nil:
		info.Type = NATTypeRestrictedCone
	case errors.Is(err, errNoResponse):
		info.Type = NATTypePortRestrictedCone
	default:
		return nil, err
	}
	return info, nil
}

// outboundIP returns the local address the kernel would route to dst.
func outboundIP(dst *net.UDPAddr) net.IP {
	conn, err := net.DialUDP("udp4", nil, dst)
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

// AttemptConnect discovers the local NAT, then dials the peer's public
// endpoint over TCP from localPort. There are no retries.
func (nt *NATTraversal) AttemptConnect(ctx context.Context, peerIP string, peerPort, localPort int) (net.Conn, error) {
	if _, err := nt.Discover(ctx, localPort); err != nil {
		return nil, err
	}

	nt.mu.Lock()
	timeout := nt.connectTimeout
	nt.mu.Unlock()

	peer := net.JoinHostPort(peerIP, strconv.Itoa(peerPort))
	dialer := &net.Dialer{
		LocalAddr: &net.TCPAddr{Port: localPort},
		Timeout:   timeout,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "AttemptConnect",
		"peer":       peer,
		"local_port": localPort,
	}).Info("Attempting direct connect")

	conn, err := dialer.DialContext(ctx, "tcp", peer)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

func classifyDialError(err error) *NATError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &NATError{Kind: ErrNATTimeout, Err: err}
	}
	return &NATError{Kind: ErrNATConnectFailed, Err: err}
}
