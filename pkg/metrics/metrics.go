/*
 * iptv-gateway is a project to aggregate IPTV sources and share upstream streams between clients.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of live upstream sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iptv_gateway_active_sessions",
		Help: "Number of active upstream streaming sessions.",
	})

	// AttachedClients is the number of clients currently receiving a stream.
	AttachedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "iptv_gateway_attached_clients",
		Help: "Number of clients attached across all sessions.",
	})

	// SessionsStarted counts sessions that delivered at least one upstream byte.
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_sessions_started_total",
		Help: "Total number of upstream sessions started.",
	})

	// SessionsEnded counts finished sessions by reason.
	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "iptv_gateway_sessions_ended_total",
		Help: "Total number of upstream sessions ended, by reason.",
	}, []string{"reason"})

	// UpstreamBytes counts bytes read from providers.
	UpstreamBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_upstream_bytes_total",
		Help: "Total bytes read from upstream providers.",
	})

	// DeliveredBytes counts bytes written to clients.
	DeliveredBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_delivered_bytes_total",
		Help: "Total bytes delivered to clients.",
	})

	// Reconnects counts upstream reconnect attempts.
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_reconnects_total",
		Help: "Total upstream reconnect attempts.",
	})

	// VariantFailovers counts fallbacks to an alternate source variant.
	VariantFailovers = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_variant_failovers_total",
		Help: "Total failovers to an alternate channel variant.",
	})

	// ClientOverflows counts clients detached because they could not keep up.
	ClientOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "iptv_gateway_client_overflows_total",
		Help: "Total clients dropped because their send queue overflowed.",
	})

	// SourceChannels tracks how many channels each source imported last.
	SourceChannels = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "iptv_gateway_source_channels",
		Help: "Channels imported from each source at the last refresh.",
	}, []string{"source"})
)
