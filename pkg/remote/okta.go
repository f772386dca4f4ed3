package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OktaClient is the HTTP binding of the Provider port against an Okta-style
// API.
type OktaClient struct {
	baseURL    string
	httpClient *http.Client
	cache      *ResponseCache
}

// ClientConfig configures the HTTP binding.
type ClientConfig struct {
	// OrgURL is the API base, e.g. https://example.okta.com.
	OrgURL string
	// Timeout bounds each request.
	Timeout time.Duration
	// Cache is the optional read-response cache; nil disables caching.
	Cache CacheConfig
}

// NewOktaClient builds the binding. Requests carry the bearer token from
// credentials and are traced through the OTEL transport.
func NewOktaClient(cfg ClientConfig, credentials *CredentialCache) (*OktaClient, error) {
	if cfg.OrgURL == "" {
		return nil, fmt.Errorf("org URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if credentials != nil {
		transport = &authTransport{base: transport, cache: credentials}
	}

	return &OktaClient{
		baseURL: strings.TrimRight(cfg.OrgURL, "/"),
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		cache: NewResponseCache(cfg.Cache),
	}, nil
}

// PurgeCache clears the read cache. Callers purge at the start of every
// pass so a pass never sees its predecessor's reads.
func (c *OktaClient) PurgeCache(ctx context.Context) {
	c.cache.Purge(ctx)
}

// do executes one API call. GET responses are cached; non-2xx statuses are
// classified into the port's error kinds.
func (c *OktaClient) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	cacheKey := method + " " + path
	if method == http.MethodGet && out != nil {
		if cached, ok := c.cache.Get(ctx, cacheKey); ok {
			return json.Unmarshal(cached, out)
		}
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindPermanent, Op: op, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, resp, payload)
	}

	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("%s: failed to decode response: %w", op, err)
		}
		if method == http.MethodGet {
			c.cache.Set(ctx, cacheKey, payload)
		}
	}
	return nil
}

// classify maps an HTTP failure onto the port's error taxonomy.
func classify(op string, resp *http.Response, payload []byte) error {
	message := apiMessage(payload)
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Op:         op,
			Status:     resp.StatusCode,
			Message:    message,
			RetryAfter: retryAfter(resp),
		}
	case http.StatusUnauthorized:
		return &Error{Kind: KindAuthExpired, Op: op, Status: resp.StatusCode, Message: message}
	case http.StatusNotFound:
		return &Error{Kind: KindNotFound, Op: op, Status: resp.StatusCode, Message: message}
	default:
		return &Error{Kind: KindPermanent, Op: op, Status: resp.StatusCode, Message: message}
	}
}

func apiMessage(payload []byte) string {
	var body struct {
		ErrorSummary string `json:"errorSummary"`
		Message      string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.ErrorSummary != "" {
			return body.ErrorSummary
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if len(payload) > 0 {
		return string(payload)
	}
	return "request failed"
}

func retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// FindApplicationByName returns the application whose label or name equals
// name, or nil when absent.
func (c *OktaClient) FindApplicationByName(ctx context.Context, name string) (*Application, error) {
	var apps []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Label  string `json:"label"`
		Status string `json:"status"`
	}
	path := "/api/v1/apps?q=" + url.QueryEscape(name)
	if err := c.do(ctx, "findApplicationByName", http.MethodGet, path, nil, &apps); err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.Label == name || app.Name == name {
			return &Application{ID: app.ID, Name: app.Name, Label: app.Label, Status: app.Status}, nil
		}
	}
	return nil, nil
}

// CreateApplication creates a disconnected (manually provisioned) app.
func (c *OktaClient) CreateApplication(ctx context.Context, def ApplicationDefinition) (*Application, error) {
	body := map[string]interface{}{
		"label":      def.Label,
		"signOnMode": "AUTO_LOGIN",
		"settings": map[string]interface{}{
			"signOn": map[string]interface{}{
				"loginUrl": "https://localhost/login",
			},
		},
	}
	var app Application
	if err := c.do(ctx, "createApplication", http.MethodPost, "/api/v1/apps", body, &app); err != nil {
		return nil, err
	}
	return &app, nil
}

// GetRemoteSchema fetches the app-user schema, base and custom properties
// merged.
func (c *OktaClient) GetRemoteSchema(ctx context.Context, applicationID string) (*SchemaDefinition, error) {
	var response struct {
		Definitions struct {
			Base struct {
				Properties map[string]SchemaProperty `json:"properties"`
			} `json:"base"`
			Custom struct {
				Properties map[string]SchemaProperty `json:"properties"`
			} `json:"custom"`
		} `json:"definitions"`
	}
	path := "/api/v1/meta/schemas/apps/" + applicationID + "/default"
	if err := c.do(ctx, "getRemoteSchema", http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}

	schema := &SchemaDefinition{Properties: make(map[string]SchemaProperty)}
	for name, prop := range response.Definitions.Base.Properties {
		schema.Properties[name] = prop
	}
	for name, prop := range response.Definitions.Custom.Properties {
		schema.Properties[name] = prop
	}
	return schema, nil
}

// CreateCustomAttribute adds a string-typed custom attribute to the app-user
// schema.
func (c *OktaClient) CreateCustomAttribute(ctx context.Context, applicationID, attributeName string) error {
	body := map[string]interface{}{
		"definitions": map[string]interface{}{
			"custom": map[string]interface{}{
				"id":   "#custom",
				"type": "object",
				"properties": map[string]interface{}{
					attributeName: map[string]interface{}{
						"title": attributeName,
						"type":  "string",
					},
				},
			},
		},
	}
	path := "/api/v1/meta/schemas/apps/" + applicationID + "/default"
	return c.do(ctx, "createCustomAttribute", http.MethodPost, path, body, nil)
}

// GetProfileMapping returns the app-to-user profile mapping, or nil when the
// remote has none.
func (c *OktaClient) GetProfileMapping(ctx context.Context, applicationID string) (*Mapping, error) {
	var mappings []Mapping
	path := "/api/v1/mappings?sourceId=" + url.QueryEscape(applicationID)
	if err := c.do(ctx, "getProfileMapping", http.MethodGet, path, nil, &mappings); err != nil {
		return nil, err
	}
	if len(mappings) == 0 {
		return nil, nil
	}
	return &mappings[0], nil
}

// UpdateProfileMapping merges properties into the mapping.
func (c *OktaClient) UpdateProfileMapping(ctx context.Context, mappingID string, properties map[string]MappingProperty) error {
	body := map[string]interface{}{"properties": properties}
	return c.do(ctx, "updateProfileMapping", http.MethodPost, "/api/v1/mappings/"+mappingID, body, nil)
}

// RegisterGovernanceResource registers the application as a governed
// resource and returns the resource ID.
func (c *OktaClient) RegisterGovernanceResource(ctx context.Context, applicationID, applicationName string) (string, error) {
	body := map[string]interface{}{
		"name":          applicationName,
		"applicationId": applicationID,
		"type":          "APPLICATION",
	}
	var resource struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "registerGovernanceResource", http.MethodPost, "/governance/api/v1/resources", body, &resource); err != nil {
		return "", err
	}
	return resource.ID, nil
}

// EnableEntitlementManagement turns on entitlement provisioning for the
// resource.
func (c *OktaClient) EnableEntitlementManagement(ctx context.Context, resourceID string) error {
	body := map[string]interface{}{"entitlementProvisioning": "ENABLED"}
	path := "/governance/api/v1/resources/" + resourceID
	return c.do(ctx, "enableEntitlementManagement", http.MethodPut, path, body, nil)
}

// ListEntitlements fetches the resource's entitlements. Governance tenants
// answer on different query shapes depending on API generation, so an
// ordered list of strategies is tried and the first non-empty success wins.
func (c *OktaClient) ListEntitlements(ctx context.Context, resourceID, applicationID string) ([]Entitlement, error) {
	strategies := []string{
		"/governance/api/v1/entitlements?filter=" + url.QueryEscape(fmt.Sprintf("parent.externalId eq %q", applicationID)),
		"/governance/api/v1/entitlements?parentResourceId=" + url.QueryEscape(resourceID),
		"/governance/api/v1/resources/" + resourceID + "/entitlements",
	}

	var lastErr error
	for _, path := range strategies {
		var response struct {
			Data []Entitlement `json:"data"`
		}
		err := c.do(ctx, "listEntitlements", http.MethodGet, path, nil, &response)
		if err != nil {
			lastErr = err
			continue
		}
		if len(response.Data) > 0 {
			return response.Data, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []Entitlement{}, nil
}

// CreateEntitlement creates an entitlement with its initial values.
func (c *OktaClient) CreateEntitlement(ctx context.Context, resourceID string, def EntitlementDefinition) (*Entitlement, error) {
	values := make([]map[string]string, 0, len(def.Values))
	for _, v := range def.Values {
		values = append(values, map[string]string{"name": v, "externalValue": v})
	}
	body := map[string]interface{}{
		"name":          def.Name,
		"externalValue": def.ExternalValue,
		"multiValue":    true,
		"dataType":      "string",
		"parent": map[string]string{
			"id":   resourceID,
			"type": "RESOURCE",
		},
		"values": values,
	}
	var ent Entitlement
	if err := c.do(ctx, "createEntitlement", http.MethodPost, "/governance/api/v1/entitlements", body, &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

// AddEntitlementValue mints a new value on an existing entitlement.
func (c *OktaClient) AddEntitlementValue(ctx context.Context, entitlementID, valueName string) (*EntitlementValue, error) {
	body := map[string]string{"name": valueName, "externalValue": valueName}
	path := "/governance/api/v1/entitlements/" + entitlementID + "/values"
	var value EntitlementValue
	if err := c.do(ctx, "addEntitlementValue", http.MethodPost, path, body, &value); err != nil {
		return nil, err
	}
	return &value, nil
}

// FindUser looks a user up by identity key (login or ID). A missing user is
// nil, not an error.
func (c *OktaClient) FindUser(ctx context.Context, identityKey string) (*User, error) {
	var response userResponse
	path := "/api/v1/users/" + url.PathEscape(identityKey)
	err := c.do(ctx, "findUser", http.MethodGet, path, nil, &response)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return response.toUser(), nil
}

// CreateUser creates and activates a user.
func (c *OktaClient) CreateUser(ctx context.Context, profile map[string]string, credentials Credentials) (*User, error) {
	body := map[string]interface{}{
		"profile": profile,
		"credentials": map[string]interface{}{
			"password": map[string]string{"value": credentials.Password},
		},
	}
	var response userResponse
	if err := c.do(ctx, "createUser", http.MethodPost, "/api/v1/users?activate=true", body, &response); err != nil {
		return nil, err
	}
	return response.toUser(), nil
}

// UpdateUser applies a partial profile update.
func (c *OktaClient) UpdateUser(ctx context.Context, userID string, profile map[string]string) error {
	body := map[string]interface{}{"profile": profile}
	return c.do(ctx, "updateUser", http.MethodPost, "/api/v1/users/"+userID, body, nil)
}

// AssignUserToApplication assigns the user with app-profile attributes.
func (c *OktaClient) AssignUserToApplication(ctx context.Context, applicationID, userID string, attributes map[string]string) error {
	body := map[string]interface{}{
		"id":      userID,
		"scope":   "USER",
		"profile": attributes,
	}
	path := "/api/v1/apps/" + applicationID + "/users"
	return c.do(ctx, "assignUserToApplication", http.MethodPost, path, body, nil)
}

// UnassignUserFromApplication removes the user's assignment.
func (c *OktaClient) UnassignUserFromApplication(ctx context.Context, applicationID, userID string) error {
	path := "/api/v1/apps/" + applicationID + "/users/" + userID
	return c.do(ctx, "unassignUserFromApplication", http.MethodDelete, path, nil, nil)
}

// ListApplicationUsers returns every user assigned to the application,
// following pagination cursors until exhausted.
func (c *OktaClient) ListApplicationUsers(ctx context.Context, applicationID string) ([]User, error) {
	users := make([]User, 0)
	path := "/api/v1/apps/" + applicationID + "/users?limit=200"
	for {
		var page struct {
			Data []userResponse `json:"data"`
			// After is the next-page cursor; empty means done.
			After string `json:"after"`
		}
		if err := c.do(ctx, "listApplicationUsers", http.MethodGet, path, nil, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Data {
			users = append(users, *u.toUser())
		}
		if page.After == "" {
			break
		}
		path = "/api/v1/apps/" + applicationID + "/users?limit=200&after=" + url.QueryEscape(page.After)
	}
	return users, nil
}

// CreateGrant grants the entitlement groups to the user.
func (c *OktaClient) CreateGrant(ctx context.Context, applicationID, userID string, groups []GrantGroup) error {
	body := map[string]interface{}{
		"applicationId": applicationID,
		"userId":        userID,
		"entitlements":  groups,
	}
	return c.do(ctx, "createGrant", http.MethodPost, "/governance/api/v1/grants", body, nil)
}

// ListUserGrants returns the user's existing grants on the application.
func (c *OktaClient) ListUserGrants(ctx context.Context, applicationID, userID string) ([]Grant, error) {
	var response struct {
		Data []Grant `json:"data"`
	}
	path := "/governance/api/v1/grants?applicationId=" + url.QueryEscape(applicationID) +
		"&userId=" + url.QueryEscape(userID)
	if err := c.do(ctx, "listUserGrants", http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// RevokeGrant revokes one grant.
func (c *OktaClient) RevokeGrant(ctx context.Context, grantID string) error {
	return c.do(ctx, "revokeGrant", http.MethodDelete, "/governance/api/v1/grants/"+grantID, nil, nil)
}

// CreateBundle creates a role bundle.
func (c *OktaClient) CreateBundle(ctx context.Context, payload BundlePayload) (*Bundle, error) {
	var bundle Bundle
	if err := c.do(ctx, "createBundle", http.MethodPost, "/governance/api/v1/entitlement-bundles", payload, &bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}

// userResponse decodes a user whose profile may hold non-string values;
// everything is flattened to strings for the engine's exact-string diffing.
type userResponse struct {
	ID      string                 `json:"id"`
	Status  string                 `json:"status"`
	Profile map[string]interface{} `json:"profile"`
}

func (u userResponse) toUser() *User {
	profile := make(map[string]string, len(u.Profile))
	for key, value := range u.Profile {
		switch v := value.(type) {
		case nil:
			profile[key] = ""
		case string:
			profile[key] = v
		default:
			encoded, _ := json.Marshal(v)
			profile[key] = string(encoded)
		}
	}
	return &User{ID: u.ID, Status: u.Status, Profile: profile}
}

// compile-time port conformance
var _ Provider = (*OktaClient)(nil)
