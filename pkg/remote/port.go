package remote

import (
	"context"
)

// Application is a provisioned application record.
type Application struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Label  string `json:"label"`
	Status string `json:"status"`
}

// ApplicationDefinition describes an application to create.
type ApplicationDefinition struct {
	Name  string `json:"name"`
	Label string `json:"label"`
}

// SchemaDefinition is the remote app-user schema: property name to its
// declared shape.
type SchemaDefinition struct {
	Properties map[string]SchemaProperty `json:"properties"`
}

// SchemaProperty is one declared schema attribute.
type SchemaProperty struct {
	Title string `json:"title"`
	Type  string `json:"type"`
}

// Mapping is a profile-attribute mapping between the app and the user
// profile.
type Mapping struct {
	ID         string                     `json:"id"`
	Properties map[string]MappingProperty `json:"properties"`
}

// MappingProperty is one mapped attribute expression.
type MappingProperty struct {
	Expression string `json:"expression"`
	PushStatus string `json:"pushStatus"`
}

// Entitlement is a named multi-valued authorization attribute on the
// governance resource.
type Entitlement struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Values []EntitlementValue `json:"values"`
}

// EntitlementDefinition describes an entitlement to create.
type EntitlementDefinition struct {
	Name          string   `json:"name"`
	ExternalValue string   `json:"externalValue"`
	Values        []string `json:"values"`
}

// EntitlementValue is one allowed value of an entitlement.
type EntitlementValue struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User is a remote identity. Profile carries its stored attribute map with
// string-typed values, keyed the way the connector wrote them.
type User struct {
	ID      string            `json:"id"`
	Status  string            `json:"status"`
	Profile map[string]string `json:"profile"`
}

// Credentials carries the secrets required when creating a user.
type Credentials struct {
	Password string `json:"password"`
}

// GrantGroup is the grant payload unit: one entitlement with the value IDs
// to grant. A payload never contains two groups with the same entitlement ID
// nor duplicate value IDs within a group.
type GrantGroup struct {
	EntitlementID string   `json:"entitlementId"`
	ValueIDs      []string `json:"valueIds"`
}

// Grant is one existing entitlement grant.
type Grant struct {
	ID            string `json:"id"`
	EntitlementID string `json:"entitlementId"`
	ValueID       string `json:"valueId"`
}

// BundlePayload describes a role bundle to create.
type BundlePayload struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	ResourceID   string       `json:"resourceId"`
	Entitlements []GrantGroup `json:"entitlements"`
}

// Bundle is a created role bundle.
type Bundle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ApplicationAPI covers application and schema operations.
type ApplicationAPI interface {
	FindApplicationByName(ctx context.Context, name string) (*Application, error)
	CreateApplication(ctx context.Context, def ApplicationDefinition) (*Application, error)
	GetRemoteSchema(ctx context.Context, applicationID string) (*SchemaDefinition, error)
	CreateCustomAttribute(ctx context.Context, applicationID, attributeName string) error
	GetProfileMapping(ctx context.Context, applicationID string) (*Mapping, error)
	UpdateProfileMapping(ctx context.Context, mappingID string, properties map[string]MappingProperty) error
}

// GovernanceAPI covers entitlement-management operations.
type GovernanceAPI interface {
	RegisterGovernanceResource(ctx context.Context, applicationID, applicationName string) (string, error)
	EnableEntitlementManagement(ctx context.Context, resourceID string) error
	ListEntitlements(ctx context.Context, resourceID, applicationID string) ([]Entitlement, error)
	CreateEntitlement(ctx context.Context, resourceID string, def EntitlementDefinition) (*Entitlement, error)
	AddEntitlementValue(ctx context.Context, entitlementID, valueName string) (*EntitlementValue, error)
	CreateGrant(ctx context.Context, applicationID, userID string, groups []GrantGroup) error
	ListUserGrants(ctx context.Context, applicationID, userID string) ([]Grant, error)
	RevokeGrant(ctx context.Context, grantID string) error
	CreateBundle(ctx context.Context, payload BundlePayload) (*Bundle, error)
}

// UserAPI covers user lifecycle operations.
type UserAPI interface {
	FindUser(ctx context.Context, identityKey string) (*User, error)
	CreateUser(ctx context.Context, profile map[string]string, credentials Credentials) (*User, error)
	UpdateUser(ctx context.Context, userID string, profile map[string]string) error
	AssignUserToApplication(ctx context.Context, applicationID, userID string, attributes map[string]string) error
	UnassignUserFromApplication(ctx context.Context, applicationID, userID string) error
	ListApplicationUsers(ctx context.Context, applicationID string) ([]User, error)
}

// Provider is the full port onto the remote identity-governance system.
type Provider interface {
	ApplicationAPI
	GovernanceAPI
	UserAPI
}
