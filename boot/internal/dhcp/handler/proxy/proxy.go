// Package proxy is the proxy-DHCP responder. It co-resides with the site's
// real DHCP server and answers only the PXE side of the conversation: no IP
// is ever leased, the reply just steers the client to a boot artifact.
package proxy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/netip"
	"net/url"

	"github.com/go-logr/logr"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/pureboot/pureboot/boot/internal/dhcp"
	"github.com/pureboot/pureboot/boot/internal/dhcp/server"
	"github.com/pureboot/pureboot/boot/internal/metric"
	"github.com/pureboot/pureboot/pkg/data"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/ipv4"
)

const tracerName = "github.com/pureboot/pureboot/boot/internal/dhcp/handler/proxy"

// minReplyLen is the minimum BOOTP packet size. Replies are zero-padded up to
// this length; old PXE ROMs drop anything shorter.
const minReplyLen = 300

// Handler answers netboot DHCP requests. All fields should be set before the
// first packet arrives; the handler itself is stateless between packets.
type Handler struct {
	// Log is used to log messages. logr.Discard() can be used if no logging
	// is desired.
	Log logr.Logger

	// IPAddr is the IP address used in option 54 and the sname header. This
	// could be a load balancer IP or a local IP.
	IPAddr netip.Addr

	// Netboot holds where the reply should point clients.
	Netboot Netboot

	// OTELEnabled controls whether replies are annotated with trace spans.
	OTELEnabled bool
}

// Netboot holds the boot artifact locations handed out in replies.
type Netboot struct {
	// TFTPServer is the address serving stage-1 binaries and the Pi trees.
	TFTPServer netip.AddrPort

	// ScriptURL returns the HTTP boot script URL for a given request. Clients
	// that already run iPXE are sent here instead of the TFTP binary,
	// breaking the chainload cycle.
	ScriptURL func(*dhcpv4.DHCPv4) *url.URL
}

// Handle responds to one DHCP packet.
func (h *Handler) Handle(_ context.Context, conn *ipv4.PacketConn, p server.Packet) {
	if p.Pkt == nil {
		h.Log.Error(errors.New("incoming packet is nil"), "dropping request")
		return
	}

	log := h.Log.WithValues("mac", p.Pkt.ClientHWAddr.String(), "type", p.Pkt.MessageType().String())
	metric.DHCPPacketsReceived.WithLabelValues(p.Pkt.MessageType().String()).Inc()

	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(context.Background(),
		fmt.Sprintf("DHCP Packet Received: %v", p.Pkt.MessageType().String()),
		trace.WithAttributes(
			attribute.String("DHCP.peer", p.Peer.String()),
			attribute.String("DHCP.request.mac", p.Pkt.ClientHWAddr.String()),
		),
	)
	defer span.End()

	var replyType dhcpv4.MessageType
	switch mt := p.Pkt.MessageType(); mt {
	case dhcpv4.MessageTypeDiscover:
		replyType = dhcpv4.MessageTypeOffer
	case dhcpv4.MessageTypeRequest:
		replyType = dhcpv4.MessageTypeAck
	default:
		log.V(1).Info("ignoring message type")
		span.SetStatus(codes.Error, "unsupported message type")
		return
	}

	info := dhcp.NewInfo(p.Pkt)
	// Pi boot ROMs fail several netboot-client checks but are served anyway;
	// their firmware never sets options 60/93 properly.
	if info.BootMode != data.BootModePi {
		if err := info.IsNetbootClient; err != nil {
			log.V(1).Info("not a netboot client", "reason", err.Error())
			span.SetStatus(codes.Error, err.Error())
			return
		}
	}

	reply, err := h.buildReply(info, replyType)
	if err != nil {
		log.Error(err, "failed building DHCP reply")
		span.SetStatus(codes.Error, err.Error())
		return
	}

	raw := reply.ToBytes()
	if len(raw) < minReplyLen {
		raw = append(raw, make([]byte, minReplyLen-len(raw))...)
	}

	cm := &ipv4.ControlMessage{}
	if p.Md != nil {
		cm.IfIndex = p.Md.IfIndex
	}
	if _, err := conn.WriteTo(raw, cm, p.Peer); err != nil {
		log.Error(err, "failed to send DHCP reply")
		span.SetStatus(codes.Error, err.Error())
		return
	}

	metric.DHCPRepliesSent.WithLabelValues(string(info.BootMode)).Inc()
	log.Info("sent proxy-DHCP reply",
		"family", string(info.BootMode),
		"ipxe", info.IsIPXE,
		"bootfile", reply.BootFileName,
	)
	span.SetAttributes(
		attribute.String("DHCP.reply.bootfile", reply.BootFileName),
		attribute.String("DHCP.reply.family", string(info.BootMode)),
	)
	span.SetStatus(codes.Ok, "sent proxy-DHCP reply")
}

// Name identifies the handler in logs.
func (h *Handler) Name() string { return "proxyDHCP" }

// buildReply assembles the BOOTREPLY for one classified request. The reply
// mirrors the client's xid, hardware address and GUID, and carries only the
// boot steering options; lease fields stay zero.
func (h *Handler) buildReply(info dhcp.Info, replyType dhcpv4.MessageType) (*dhcpv4.DHCPv4, error) {
	tftpIP := h.Netboot.TFTPServer.Addr()

	mods := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(replyType),
		dhcpv4.WithGeneric(dhcpv4.OptionServerIdentifier, h.IPAddr.AsSlice()),
		dhcpv4.WithGeneric(dhcpv4.OptionClassIdentifier, []byte(dhcp.PXEClient)),
		dhcpv4.WithServerIP(tftpIP.AsSlice()),
		func(d *dhcpv4.DHCPv4) { d.ServerHostName = h.IPAddr.String() },
	}
	if guid := info.Pkt.GetOneOption(dhcpv4.OptionClientMachineIdentifier); len(guid) > 0 {
		mods = append(mods, dhcpv4.WithGeneric(dhcpv4.OptionClientMachineIdentifier, guid))
	}

	switch {
	case info.BootMode == data.BootModePi:
		// The Pi ROM keys on the "Raspberry Pi Boot" vendor suboption and
		// then fetches fixed filenames over TFTP, so no option 67 here.
		mods = append(mods,
			dhcpv4.WithGeneric(dhcpv4.OptionTFTPServerName, []byte(tftpIP.String())),
			dhcpv4.WithGeneric(dhcpv4.OptionVendorSpecificInformation, piVendorOpts()),
		)
	case info.IsIPXE:
		// Already iPXE: hand over the HTTP script URL in option 67 and leave
		// option 66 out so the client does not loop on the TFTP binary.
		if h.Netboot.ScriptURL == nil {
			return nil, errors.New("no iPXE script URL configured")
		}
		script := h.Netboot.ScriptURL(info.Pkt)
		mods = append(mods,
			dhcpv4.WithGeneric(dhcpv4.OptionBootfileName, []byte(script.String())),
			func(d *dhcpv4.DHCPv4) { d.BootFileName = script.String() },
		)
	default:
		// Raw firmware: TFTP server name plus the per-architecture stage-1
		// binary. The file header mirrors option 67 for pre-options clients.
		mods = append(mods,
			dhcpv4.WithGeneric(dhcpv4.OptionTFTPServerName, []byte(tftpIP.String())),
			dhcpv4.WithGeneric(dhcpv4.OptionBootfileName, []byte(info.IPXEBinary)),
			func(d *dhcpv4.DHCPv4) { d.BootFileName = info.IPXEBinary },
		)
	}

	return dhcpv4.NewReplyFromRequest(info.Pkt, mods...)
}

// piVendorOpts builds the option 43 payload the Raspberry Pi ROM requires:
// suboption 9 "Raspberry Pi Boot" and suboption 10 "PXE".
// https://www.raspberrypi.com/documentation/computers/raspberry-pi.html#dhcp-request-reply
func piVendorOpts() []byte {
	opts := dhcpv4.Options{}
	// "\x00\x00\x11Raspberry Pi Boot"
	opts[9], _ = hex.DecodeString("00001152617370626572727920506920426f6f74")
	// "\x00PXE"
	opts[10], _ = hex.DecodeString("00505845")
	return opts.ToBytes()
}

var _ server.Handler = &Handler{}
