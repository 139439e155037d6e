// Package logging provides file-based logging with rotation for AmanRAG.
// The server writes structured JSON logs to ~/.amanrag/logs/ so that long
// ingestion runs can be diagnosed after the fact; stderr mirroring is
// enabled by default for interactive runs.
package logging
