// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	connections   prometheus.Gauge
	frames        *prometheus.CounterVec // by code
	tasks         *prometheus.CounterVec // by operation
	discarded     prometheus.Counter
	failures      *prometheus.CounterVec // by kind
	notifications prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer, queueDepth func() float64) (*metrics, error) {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sonar",
			Name:      "connections",
			Help:      "Open client connections.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonar",
			Name:      "frames_received_total",
			Help:      "Frames decoded from clients.",
		}, []string{"code"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonar",
			Subsystem: "processor",
			Name:      "tasks_total",
			Help:      "Tasks run by the processor.",
		}, []string{"operation"}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonar",
			Subsystem: "processor",
			Name:      "tasks_discarded_total",
			Help:      "Tasks dropped because their connection closed first.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonar",
			Subsystem: "processor",
			Name:      "failures_total",
			Help:      "Failed tasks.",
		}, []string{"kind"}), // kind: permission, name, attribute, login, unauthenticated, protocol, internal
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonar",
			Name:      "notifications_total",
			Help:      "Change notifications queued to watching connections.",
		}),
	}
	depth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "sonar",
		Subsystem: "processor",
		Name:      "queue_depth",
		Help:      "Tasks waiting for the processor.",
	}, queueDepth)

	for _, collector := range []prometheus.Collector{
		m.connections, m.frames, m.tasks, m.discarded, m.failures, m.notifications, depth,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return m, nil
}
