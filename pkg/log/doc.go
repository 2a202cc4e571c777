/*
Package log provides structured logging for the harness using zerolog.

A single global logger is configured once with Init and shared by every
package. Loggers scoped to a cluster, a member or a remote host are derived
from it, so every line carries the fields needed to follow one node through
a bring-up:

	log.Init(log.Config{Level: log.InfoLevel})

	logger := log.WithCluster("cluster-3fa1")
	logger.Info().Int("nodes", 8).Msg("Starting cluster")

	nodeLogger := log.WithNodeID("node", 2)
	nodeLogger.Warn().Err(err).Msg("Node exited early")

# Output

Console output is the default and is meant for humans running tests. JSON
output (Config.JSONOutput) is used when logs are collected by CI. Output goes
to stderr unless Config.Output names another writer.

# Levels

Debug logs every command line and port lease. Info covers state changes of
the cluster and its members. Warn is reserved for recoverable surprises such
as a node that had nothing to kill; Error for failures that abort bring-up or
teardown.

# Fields

	cluster    cluster name
	node       <role>_<index> of a member
	host       remote host name
	component  subsystem emitting the line (ports, bsconfig, remote, ...)
*/
package log
