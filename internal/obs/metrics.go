// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package obs wires up the ambient observability surface of filemq-server:
// Prometheus collectors and the disk-usage gauge for published mounts.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/disk"
)

// Registry wraps the Prometheus collectors exported by a filemq-server
// process.
type Registry struct {
	Connections prometheus.Gauge
	ChunkBytes  prometheus.Counter
	Credit      prometheus.Gauge
	Patches     prometheus.Counter
	MountBytes  *prometheus.GaugeVec
}

// NewRegistry creates and registers the Prometheus collectors.
func NewRegistry() *Registry {
	return &Registry{
		Connections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "filemq_connections_active",
			Help: "Number of currently connected clients",
		}),
		ChunkBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "filemq_chunk_bytes_total",
			Help: "Total bytes sent in CHEEZBURGER chunks",
		}),
		Credit: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "filemq_credit_outstanding",
			Help: "Credit received in NOM frames minus chunk bytes sent, summed over all connections since start",
		}),
		Patches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "filemq_patches_dispatched_total",
			Help: "Total number of patches fully dispatched to clients",
		}),
		MountBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filemq_mount_disk_used_bytes",
			Help: "Disk space used at a published mount's location",
		}, []string{"alias"}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}

// ConnectionOpened implements server.Metrics.
func (r *Registry) ConnectionOpened() { r.Connections.Inc() }

// ConnectionClosed implements server.Metrics.
func (r *Registry) ConnectionClosed() { r.Connections.Dec() }

// ChunkBytesSent implements server.Metrics.
func (r *Registry) ChunkBytesSent(n int) {
	r.ChunkBytes.Add(float64(n))
	r.Credit.Sub(float64(n))
}

// PatchDispatched implements server.Metrics.
func (r *Registry) PatchDispatched() { r.Patches.Inc() }

// CreditGranted implements server.Metrics.
func (r *Registry) CreditGranted(n uint64) { r.Credit.Add(float64(n)) }

// RefreshMountUsage samples disk usage for location and records it under
// alias. Errors are non-fatal: the gauge is simply left at its last value.
func (r *Registry) RefreshMountUsage(alias, location string) {
	usage, err := disk.Usage(location)
	if err != nil {
		return
	}
	r.MountBytes.WithLabelValues(alias).Set(float64(usage.Used))
}
