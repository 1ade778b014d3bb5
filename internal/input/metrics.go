/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package input

import "github.com/prometheus/client_golang/prometheus"

var (
	UDPPacketsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "input_udp_packets_total",
		Help: "Total number of datagrams read off the UDP listener.",
	})
	UDPErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "input_udp_errors_total",
		Help: "Total number of UDP reads that failed or were rejected before parsing.",
	})
	UDPPacketBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "input_udp_packet_bytes",
		Help:    "Size in bytes of datagrams read off the UDP listener.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})

	TCPActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "input_tcp_active_connections",
		Help: "Number of currently open TCP exporter connections.",
	})
	TCPErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "input_tcp_errors_total",
		Help: "Total number of TCP connections torn down due to a framing or decode error.",
	})
	TCPReceivedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "input_tcp_received_bytes_total",
		Help: "Total number of bytes read off TCP exporter connections.",
	})
)

const (
	// UDPPacketBufferSize bounds a single read(2) off the UDP socket;
	// RFC 7011 §10.3.6 never requires more than one MTU worth of message.
	UDPPacketBufferSize = 65535

	// UDPChannelBufferSize and TCPChannelBufferSize carry over the
	// teacher's udp.go/tcp.go constants of the same names; no channel in
	// this package is currently sized from them.
	UDPChannelBufferSize = 50
	TCPChannelBufferSize = 10
)
