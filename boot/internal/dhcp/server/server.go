// Package server is the UDP listen/serve loop for DHCPv4 handlers.
package server

import (
	"context"
	"net"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"golang.org/x/net/ipv4"
)

// Metadata describes the interface a packet arrived on.
type Metadata struct {
	IfName  string
	IfIndex int
}

// Packet is one received DHCP message plus its origin.
type Packet struct {
	Peer net.Addr
	Pkt  *dhcpv4.DHCPv4
	Md   *Metadata
}

// Handler handles one DHCP packet. Handlers are responsible for writing any
// reply to conn themselves.
type Handler interface {
	Handle(ctx context.Context, conn *ipv4.PacketConn, p Packet)
}

// DHCP reads packets off a single UDP socket and fans them out to its
// handlers, one goroutine per packet.
type DHCP struct {
	Conn     net.PacketConn
	Handlers []Handler
	Logger   logr.Logger
}

// Serve runs until ctx is cancelled or the socket fails.
func (s *DHCP) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Conn.Close()
	}()
	s.Logger.Info("dhcp server listening", "addr", s.Conn.LocalAddr())

	nConn := ipv4.NewPacketConn(s.Conn)
	if err := nConn.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		return err
	}
	defer func() {
		_ = nConn.Close()
		_ = s.Conn.Close()
	}()

	for {
		rbuf := make([]byte, 4096)
		n, cm, peer, err := nConn.ReadFrom(rbuf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		m, err := dhcpv4.FromBytes(rbuf[:n])
		if err != nil {
			s.Logger.V(1).Info("error parsing DHCPv4 request", "err", err)
			continue
		}

		upeer, ok := peer.(*net.UDPAddr)
		if !ok {
			s.Logger.V(1).Info("peer is not a UDP address", "peer", peer)
			continue
		}
		// Clients that have no IP yet can only be reached by broadcast.
		if upeer.IP == nil || upeer.IP.To4().Equal(net.IPv4zero) {
			upeer = &net.UDPAddr{IP: net.IPv4bcast, Port: upeer.Port}
		}

		md := &Metadata{IfIndex: cm.IfIndex}
		if iface, err := net.InterfaceByIndex(cm.IfIndex); err == nil {
			md.IfName = iface.Name
		}

		for _, handler := range s.Handlers {
			go handler.Handle(ctx, nConn, Packet{Peer: upeer, Pkt: m, Md: md})
		}
	}
}
