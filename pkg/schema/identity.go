package schema

import (
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
)

// DefaultIdentityCandidates is the ordered list of column names tried when
// extracting a row's identity key. Matching is case-insensitive; first match
// wins.
var DefaultIdentityCandidates = []string{
	"login",
	"username",
	"email",
	"userid",
	"user_id",
	"upn",
	"mail",
	"emailaddress",
	"email_address",
	"user",
}

// IdentityKey extracts the identity key from row by trying candidates in
// order against the row's columns, case-insensitively. The returned key is
// lower-cased for use as a comparison key. The second return is false when
// no candidate column holds a non-empty value; such rows have no identity
// and are excluded from reconciliation.
func IdentityKey(row csvsource.Row, candidates []string) (string, bool) {
	if len(candidates) == 0 {
		candidates = DefaultIdentityCandidates
	}
	for _, candidate := range candidates {
		for column, value := range row {
			if !strings.EqualFold(column, candidate) {
				continue
			}
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			return strings.ToLower(value), true
		}
	}
	return "", false
}
