// Package main hosts the novelgraph service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, manuscript upload,
//     job management, and the live event stream. Uploads are hashed, written to
//     the configured BlobStore, persisted via the JobStore, and enqueued for
//     extraction.
//   - Dispatcher & queue: jobs flow through the configured queue (bounded
//     in-memory or Pub/Sub) and are fanned out to a fixed worker pool sized by
//     config.Extract.Workers. Context cancellation stops workers cleanly on
//     shutdown.
//   - Extraction pipeline: workers load the manuscript from blob storage and
//     run the extract.Runner, which segments chapters, detects characters, and
//     derives narrative events, emitting a progress chunk for each step.
//   - Event distribution: every chunk is appended to the durable chunk log
//     (memory or Postgres) before being published on the in-process bus.
//     Stream subscribers replay history from the log and then switch to live
//     delivery; reconnecting clients resume without gaps or duplicates.
//   - Persistence & fanout: job rows live in Postgres (or memory for dev),
//     manuscripts in the BlobStore (memory/local/GCS), and a compact Pub/Sub
//     notification is published when a completion topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus counters and histograms cover
//     HTTP traffic, stream fanout, and extraction outcomes; OpenTelemetry
//     spans trace chunk emission and pipeline runs.
package main
