// Package csvsource reads header-driven tabular data for the connector.
//
// A Source yields string-typed rows keyed by column name. Two bindings are
// provided: the local filesystem and S3. The package also exposes a
// filesystem watcher used by the poll loop to trigger early re-syncs when a
// candidate file changes.
package csvsource
