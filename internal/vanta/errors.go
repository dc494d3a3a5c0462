// ABOUTME: Sentinel errors for fatal pipeline conditions.
// ABOUTME: Callers match them with errors.Is; non-fatal conditions only reach the Report.

package vanta

import "errors"

var (
	ErrMissingIdentifier    = errors.New("vulnerability must have a uid and source")
	ErrNoGraphClient        = errors.New("graph client is not configured")
	ErrInvalidVulnType      = errors.New("invalid vulnerability type")
	ErrMissingAssociationID = errors.New("unresolved association has no id")
	ErrMissingResponseKey   = errors.New("graph response is missing the expected key")
)
