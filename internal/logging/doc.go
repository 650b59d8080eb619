// Package logging provides structured JSON logging with size-based file
// rotation for docquery. Components receive a *slog.Logger and attach
// structured attributes; warning level is reserved for degraded sources,
// dropped candidates, and configuration anomalies.
package logging
