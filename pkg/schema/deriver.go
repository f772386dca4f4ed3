package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultEntitlementPrefix marks entitlement columns in the CSV header.
const DefaultEntitlementPrefix = "ent_"

// Kind classifies a column.
type Kind string

const (
	// KindProfile is a plain profile attribute column.
	KindProfile Kind = "profile"
	// KindEntitlement is a multi-valued entitlement column.
	KindEntitlement Kind = "entitlement"
)

// Column is the classification of one header column.
type Column struct {
	// Name is the raw header name, case preserved.
	Name string
	// Kind is the classification.
	Kind Kind
	// Canonical is the matched target-system attribute for profile columns,
	// empty when unmatched. Entitlement columns never match.
	Canonical string
	// EntitlementName is the column name with the reserved prefix stripped,
	// set only for entitlement columns.
	EntitlementName string
}

// Deriver classifies header columns against a canonical-attribute dictionary.
type Deriver struct {
	prefix     string
	dictionary map[string]string
}

// Option configures a Deriver.
type Option func(*Deriver)

// WithPrefix overrides the reserved entitlement prefix.
func WithPrefix(prefix string) Option {
	return func(d *Deriver) {
		if prefix != "" {
			d.prefix = prefix
		}
	}
}

// WithDictionary replaces the canonical-attribute dictionary. Keys are
// normalized before storage so callers can pass human-readable names.
func WithDictionary(dict map[string]string) Option {
	return func(d *Deriver) {
		normalized := make(map[string]string, len(dict))
		for k, v := range dict {
			normalized[Normalize(k)] = v
		}
		d.dictionary = normalized
	}
}

// NewDeriver creates a Deriver with the default prefix and dictionary.
func NewDeriver(opts ...Option) *Deriver {
	d := &Deriver{
		prefix:     DefaultEntitlementPrefix,
		dictionary: defaultDictionary,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prefix returns the reserved entitlement prefix in use.
func (d *Deriver) Prefix() string {
	return d.prefix
}

// Derive classifies every column of header in order. An empty header yields
// an empty classification.
func (d *Deriver) Derive(header []string) []Column {
	columns := make([]Column, 0, len(header))
	for _, name := range header {
		columns = append(columns, d.Classify(name))
	}
	return columns
}

// Classify classifies a single column name.
func (d *Deriver) Classify(name string) Column {
	if strings.HasPrefix(name, d.prefix) {
		return Column{
			Name:            name,
			Kind:            KindEntitlement,
			EntitlementName: strings.TrimPrefix(name, d.prefix),
		}
	}
	return Column{
		Name:      name,
		Kind:      KindProfile,
		Canonical: d.dictionary[Normalize(name)],
	}
}

// IsEntitlementColumn reports whether name carries the reserved prefix.
func (d *Deriver) IsEntitlementColumn(name string) bool {
	return strings.HasPrefix(name, d.prefix)
}

// Normalize lower-cases a column name and strips hyphens, underscores and
// whitespace, so "First-Name", "first_name" and "FirstName" collide.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch r {
		case '-', '_', ' ', '\t':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LoadDictionary reads a canonical-attribute dictionary from a YAML file of
// the form `raw-name: canonicalName`. Entries are merged over the defaults;
// a raw name mapped to the empty string removes the default mapping.
func LoadDictionary(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary %s: %w", path, err)
	}

	overrides := make(map[string]string)
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse dictionary %s: %w", path, err)
	}

	merged := make(map[string]string, len(defaultDictionary)+len(overrides))
	for k, v := range defaultDictionary {
		merged[k] = v
	}
	for k, v := range overrides {
		key := Normalize(k)
		if v == "" {
			delete(merged, key)
			continue
		}
		merged[key] = v
	}
	return merged, nil
}

// defaultDictionary maps normalized CSV column names to canonical Okta user
// profile attributes. Many raw names map to the same canonical target.
var defaultDictionary = map[string]string{
	"firstname":       "firstName",
	"givenname":       "firstName",
	"fname":           "firstName",
	"lastname":        "lastName",
	"surname":         "lastName",
	"familyname":      "lastName",
	"lname":           "lastName",
	"middlename":      "middleName",
	"email":           "email",
	"emailaddress":    "email",
	"mail":            "email",
	"secondemail":     "secondEmail",
	"login":           "login",
	"username":        "login",
	"userid":          "login",
	"upn":             "login",
	"displayname":     "displayName",
	"nickname":        "nickName",
	"honorificprefix": "honorificPrefix",
	"honorificsuffix": "honorificSuffix",
	"title":           "title",
	"jobtitle":        "title",
	"usertype":        "userType",
	"employeenumber":  "employeeNumber",
	"employeeid":      "employeeNumber",
	"costcenter":      "costCenter",
	"organization":    "organization",
	"company":         "organization",
	"division":        "division",
	"department":      "department",
	"dept":            "department",
	"manager":         "manager",
	"managerid":       "managerId",
	"mobile":          "mobilePhone",
	"mobilephone":     "mobilePhone",
	"cellphone":       "mobilePhone",
	"phone":           "primaryPhone",
	"phonenumber":     "primaryPhone",
	"primaryphone":    "primaryPhone",
	"streetaddress":   "streetAddress",
	"address":         "streetAddress",
	"city":            "city",
	"locality":        "city",
	"state":           "state",
	"region":          "state",
	"zip":             "zipCode",
	"zipcode":         "zipCode",
	"postalcode":      "zipCode",
	"country":         "countryCode",
	"countrycode":     "countryCode",
	"locale":          "locale",
	"preferredlanguage": "preferredLanguage",
	"timezone":        "timezone",
}
