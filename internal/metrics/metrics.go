// Package metrics registers the prometheus instruments for the proof
// pipeline on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProofsSubmitted counts submissions by mode (live|mock) and outcome.
	ProofsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_proofs_submitted_total",
			Help: "Proof submissions by mode and status",
		},
		[]string{"mode", "status"},
	)

	// SubmitDuration tracks end-to-end ledger submission time.
	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "veridrop_submit_duration_seconds",
			Help:    "Ledger submission duration including confirmation wait",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Confirmations counts confirmation outcomes (confirmed|unconfirmed).
	Confirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_confirmations_total",
			Help: "Ledger confirmation outcomes",
		},
		[]string{"outcome"},
	)

	// TransportRetries counts retried transient transport faults.
	TransportRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "veridrop_transport_retries_total",
			Help: "Transient ledger transport faults that were retried",
		},
	)

	// ArchiveInserts counts off-chain store insertions by status.
	ArchiveInserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_archive_inserts_total",
			Help: "Off-chain store insertions by status",
		},
		[]string{"status"},
	)

	// ArchiveGets counts off-chain store retrievals (hit|miss|error).
	ArchiveGets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_archive_gets_total",
			Help: "Off-chain store retrievals by result",
		},
		[]string{"result"},
	)

	// OracleQueries counts cross-verifications by derivation (oracle|fallback).
	OracleQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_oracle_queries_total",
			Help: "Cross-verification queries by derivation path",
		},
		[]string{"derived_from"},
	)

	// ChainLinks counts driver-chain augmentation outcomes
	// (linked|origin|signer_missing).
	ChainLinks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veridrop_chain_links_total",
			Help: "Driver chain augmentation outcomes",
		},
		[]string{"outcome"},
	)
)
