// Package observability provides logging, metrics, and context helpers for
// the citation graph service.
//
// # Overview
//
// The observability package provides:
//
//   - Structured logging with zerolog
//   - Prometheus metrics for crawls, queue activity, sources, and recovery
//   - Context helpers for propagating request identifiers
//
// # Logging
//
// Create a logger from configuration:
//
//	cfg := observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	}
//
//	logger := observability.NewLogger(cfg)
//	logger.Info().Str("paper_id", paperID).Msg("crawl started")
//
// # Metrics
//
// Initialize metrics once at startup:
//
//	metrics := observability.NewMetrics("citegraph")
//
// Record metrics:
//
//	metrics.RecordTaskCompleted("crawl", elapsed.Seconds())
//	metrics.RecordPapersDiscovered(12)
//
// # Standard Fields
//
// Common fields used across the service:
//
//   - request_id: HTTP request identifier
//   - paper_id: bibliographic source paper identifier
//   - task_type: pipeline stage (crawl, summarize, generate)
//   - queue_id: processing queue entry identifier
//   - hop_count: distance from the seed paper
//   - source: bibliographic source (semantic_scholar)
//
// # Thread Safety
//
// All components are safe for concurrent use from multiple goroutines.
package observability
