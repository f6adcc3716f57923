package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/encodeous/ripd/core"
	"github.com/encodeous/ripd/protocol"
	"github.com/encodeous/ripd/state"
	"golang.org/x/net/ipv4"
)

// readPoll bounds how long Receive blocks before rechecking its context.
const readPoll = 500 * time.Millisecond

// RipSock is the production transport: one UDP socket on port 520 shared by
// every interface, with the multicast group joined on each of them.
type RipSock struct {
	pc     *ipv4.PacketConn
	ifaces map[string]*net.Interface
	byIdx  map[int]string
	src    map[string]netip.Addr
	groups []*net.Interface

	wmu sync.Mutex
	buf []byte
}

var _ core.Transport = (*RipSock)(nil)

// ListenRipSock opens the rip socket and configures it for ifaces.
func ListenRipSock(ctx context.Context, ifaces state.Interfaces, modPc ...func(pc *ipv4.PacketConn) error) (s *RipSock, err error) {
	lc := &net.ListenConfig{Control: reuseAddr}
	nl, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", protocol.Port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", protocol.Port, err)
	}
	s = &RipSock{
		pc:     ipv4.NewPacketConn(nl),
		ifaces: make(map[string]*net.Interface),
		byIdx:  make(map[int]string),
		src:    make(map[string]netip.Addr),
		buf:    make([]byte, 65535),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
			s = nil
		}
	}()

	// ingress interface and destination come from IP_PKTINFO
	if err = s.pc.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		return nil, fmt.Errorf("err enable ipv4 ControlMessage: %w", err)
	}
	if err = s.pc.SetMulticastLoopback(false); err != nil {
		return nil, fmt.Errorf("err disable multicast loopback: %w", err)
	}
	// rip packets never leave the link
	if err = s.pc.SetMulticastTTL(1); err != nil {
		return nil, fmt.Errorf("err set multicast ttl: %w", err)
	}
	if err = s.pc.SetTTL(1); err != nil {
		return nil, fmt.Errorf("err set ttl: %w", err)
	}

	group := &net.UDPAddr{IP: protocol.MulticastGroup.AsSlice()}
	for _, iface := range ifaces {
		ifi, lerr := net.InterfaceByName(iface.Name)
		if lerr != nil {
			return nil, fmt.Errorf("interface %s: %w", iface.Name, lerr)
		}
		if err = s.pc.JoinGroup(ifi, group); err != nil {
			return nil, fmt.Errorf("err at join multicast %s on %s: %w", protocol.MulticastGroup, iface.Name, err)
		}
		s.groups = append(s.groups, ifi)
		s.ifaces[iface.Name] = ifi
		s.byIdx[ifi.Index] = iface.Name
		s.src[iface.Name] = iface.Addr.Addr()
	}

	for idx, modFn := range modPc {
		if err = modFn(s.pc); err != nil {
			return nil, fmt.Errorf("err at modPc idx(%d): %w", idx, err)
		}
	}
	return s, nil
}

func (s *RipSock) Send(iface string, dst netip.Addr, payload []byte) error {
	ifi, ok := s.ifaces[iface]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrUnknownInterface, iface)
	}
	cm := &ipv4.ControlMessage{IfIndex: ifi.Index}
	if src, ok := s.src[iface]; ok && src.IsValid() {
		cm.Src = src.AsSlice()
	}
	to := &net.UDPAddr{IP: dst.AsSlice(), Port: protocol.Port}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if dst.IsMulticast() {
		if err := s.pc.SetMulticastInterface(ifi); err != nil {
			return fmt.Errorf("set multicast interface %s: %w", iface, err)
		}
	}
	_, err := s.pc.WriteTo(payload, cm, to)
	return err
}

// Receive blocks until a datagram arrives or ctx is done. Only one goroutine may call it.
func (s *RipSock) Receive(ctx context.Context) (core.Inbound, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.Inbound{}, err
		}
		if err := s.pc.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return core.Inbound{}, err
		}
		n, cm, src, err := s.pc.ReadFrom(s.buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			return core.Inbound{}, err
		}
		ua, ok := src.(*net.UDPAddr)
		if !ok || ua.Port != protocol.Port {
			// responses must come from the rip port
			continue
		}
		addr, ok := netip.AddrFromSlice(ua.IP)
		if !ok {
			continue
		}
		in := core.Inbound{
			Src:     addr.Unmap(),
			Payload: append([]byte(nil), s.buf[:n]...),
		}
		if cm != nil {
			name, ok := s.byIdx[cm.IfIndex]
			if !ok {
				name = fmt.Sprintf("if%d", cm.IfIndex)
			}
			in.Iface = name
		}
		return in, nil
	}
}

func (s *RipSock) Close() error {
	group := &net.UDPAddr{IP: protocol.MulticastGroup.AsSlice()}
	for _, ifi := range s.groups {
		_ = s.pc.LeaveGroup(ifi, group)
	}
	return s.pc.Close()
}
