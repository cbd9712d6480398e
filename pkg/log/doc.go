/*
Package log provides structured logging for Weft built on zerolog.

A single process-wide logger is initialized once at startup via Init and
consumed either through the package helpers (Info, Warn, Error) or through
component child loggers:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithComponent("proxy")
	logger.Info().Str("service", "api/default").Msg("route resolved")

Child logger constructors attach the standard correlation fields used across
the codebase:

	WithComponent  component name (proxy, registry, discovery, gossip, agent)
	WithCluster    cluster_id
	WithConnID     per-connection UUID, shared by both relay directions

Output is JSON in production and a human console format during development,
selected by Config.JSONOutput.
*/
package log
