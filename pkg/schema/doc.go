// Package schema classifies CSV columns for the connector.
//
// Columns whose name carries the reserved entitlement prefix become
// entitlement columns; everything else is a profile attribute, optionally
// matched to a canonical target-system attribute through a
// normalization-insensitive dictionary lookup.
package schema
