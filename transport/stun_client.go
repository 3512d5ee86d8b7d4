package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/stun/v3"
)

// RFC 3489 attributes that RFC 5389 dropped from the base protocol.
const (
	attrChangeRequest  stun.AttrType = 0x0003
	attrChangedAddress stun.AttrType = 0x0005
	attrOtherAddress   stun.AttrType = 0x802C // RFC 5780 successor of CHANGED-ADDRESS
)

// CHANGE-REQUEST flags.
const (
	changePort uint8 = 0x02
	changeIP   uint8 = 0x04
)

const stunReadBufferSize = 1500

// errNoResponse means a binding test got no answer in time. For NAT
// classification this is a result, not a failure.
var errNoResponse = errors.New("no STUN response")

// bindingResponse carries the addresses a STUN server reported.
type bindingResponse struct {
	mapped  *net.UDPAddr
	changed *net.UDPAddr // nil when the server advertises no alternate address
}

// stunClient runs binding tests over one bound UDP socket, so every test
// observes the same NAT mapping.
type stunClient struct {
	conn    *net.UDPConn
	timeout time.Duration
	retries int
}

func newSTUNClient(conn *net.UDPConn, timeout time.Duration, retries int) *stunClient {
	if retries < 0 {
		retries = 0
	}
	return &stunClient{conn: conn, timeout: timeout, retries: retries}
}

// bindingRequest sends a Binding Request to server with the given CHANGE-REQUEST
// flags and waits for the matching success response. Each try waits up to
// sc.timeout; the request is resent sc.retries times.
func (sc *stunClient) bindingRequest(ctx context.Context, server *net.UDPAddr, flags uint8) (*bindingResponse, error) {
	setters := []stun.Setter{stun.TransactionID, stun.BindingRequest}
	if flags != 0 {
		setters = append(setters, stun.RawAttribute{
			Type:  attrChangeRequest,
			Value: []byte{0, 0, 0, flags},
		})
	}
	req, err := stun.Build(setters...)
	if err != nil {
		return nil, fmt.Errorf("build binding request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		sc.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for attempt := 0; attempt <= sc.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := sc.conn.WriteToUDP(req.Raw, server); err != nil {
			return nil, fmt.Errorf("send binding request to %s: %w", server, err)
		}

		resp, err := sc.awaitResponse(ctx, req.TransactionID)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errNoResponse) {
			return nil, err
		}
	}
	return nil, errNoResponse
}

// awaitResponse reads until a response with the expected transaction ID
// arrives or the per-try deadline passes. Unrelated datagrams are skipped.
func (sc *stunClient) awaitResponse(ctx context.Context, id [stun.TransactionIDSize]byte) (*bindingResponse, error) {
	deadline := time.Now().Add(sc.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := sc.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	defer sc.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, stunReadBufferSize)
	for {
		n, _, err := sc.conn.ReadFromUDP(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, errNoResponse
			}
			return nil, fmt.Errorf("read binding response: %w", err)
		}

		msg := &stun.Message{Raw: append([]byte(nil), buf[:n]...)}
		if err := msg.Decode(); err != nil {
			continue
		}
		if msg.TransactionID != id {
			continue
		}
		if msg.Type != stun.BindingSuccess {
			return nil, fmt.Errorf("unexpected STUN response %s", msg.Type)
		}
		return parseBindingResponse(msg)
	}
}

func parseBindingResponse(msg *stun.Message) (*bindingResponse, error) {
	resp := &bindingResponse{}

	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(msg); err == nil {
		resp.mapped = &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}
	} else {
		var mapped stun.MappedAddress
		if err := mapped.GetFrom(msg); err != nil {
			return nil, fmt.Errorf("binding response has no mapped address: %w", err)
		}
		resp.mapped = &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}
	}

	for _, t := range []stun.AttrType{attrChangedAddress, attrOtherAddress} {
		var changed stun.MappedAddress
		if err := changed.GetFromAs(msg, t); err == nil {
			resp.changed = &net.UDPAddr{IP: changed.IP, Port: changed.Port}
			break
		}
	}
	return resp, nil
}
