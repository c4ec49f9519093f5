// Package metric holds the boot plane's prometheus collectors. Collectors are
// registered on the default registry so they appear on the /metrics endpoint
// next to the HTTP middleware metrics.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DHCPPacketsReceived counts DHCP packets read off the wire, by message type.
	DHCPPacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pureboot_dhcp_packets_received_total",
			Help: "Count of DHCP packets received, by DHCP message type.",
		},
		[]string{"type"},
	)
	// DHCPRepliesSent counts proxy-DHCP replies, by client firmware family.
	DHCPRepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pureboot_dhcp_replies_sent_total",
			Help: "Count of proxy-DHCP replies sent, by firmware family.",
		},
		[]string{"family"},
	)
	// TFTPTransfersStarted counts accepted RRQs.
	TFTPTransfersStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pureboot_tftp_transfers_started_total",
			Help: "Count of TFTP read transfers started.",
		},
	)
	// TFTPErrors counts ERROR packets sent, by TFTP error code.
	TFTPErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pureboot_tftp_errors_total",
			Help: "Count of TFTP ERROR packets sent, by error code.",
		},
		[]string{"code"},
	)
	// TFTPBytesSent counts DATA payload bytes delivered.
	TFTPBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pureboot_tftp_bytes_sent_total",
			Help: "Count of TFTP DATA payload bytes sent.",
		},
	)
	// ThrottleActiveTransfers is the number of registered throttled transfers.
	ThrottleActiveTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pureboot_throttle_active_transfers",
			Help: "Number of transfers currently registered with the bandwidth throttler.",
		},
	)
	// ThrottleAllocatedBytes counts bytes granted by the throttler.
	ThrottleAllocatedBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pureboot_throttle_allocated_bytes_total",
			Help: "Count of bytes allocated to throttled transfers.",
		},
	)
	// ScriptRenders counts iPXE boot script renders, by script class.
	ScriptRenders = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pureboot_ipxe_script_renders_total",
			Help: "Count of iPXE scripts rendered, by script class.",
		},
		[]string{"class"},
	)
)

// Init forces collector registration. Called once from boot.Start so the
// collectors exist before the first scrape even if no packet arrived yet.
func Init() {}
