package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/csvsource"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/provision"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

// fakeTenant is an in-memory Okta-style tenant behind real HTTP.
type fakeTenant struct {
	mu sync.Mutex

	apps         []remote.Application
	customAttrs  map[string]map[string]remote.SchemaProperty
	entitlements []remote.Entitlement
	users        map[string]map[string]interface{} // by login
	assignments  map[string]map[string]bool
	grants       map[string][]remote.Grant
	bundles      []map[string]interface{}

	nextID int
}

func newFakeTenant() *fakeTenant {
	return &fakeTenant{
		customAttrs: make(map[string]map[string]remote.SchemaProperty),
		users:       make(map[string]map[string]interface{}),
		assignments: make(map[string]map[string]bool),
		grants:      make(map[string][]remote.Grant),
	}
}

func (ft *fakeTenant) id(prefix string) string {
	ft.nextID++
	return fmt.Sprintf("%s%d", prefix, ft.nextID)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (ft *fakeTenant) userByID(userID string) (string, map[string]interface{}) {
	for login, user := range ft.users {
		if user["id"] == userID {
			return login, user
		}
	}
	return "", nil
}

func (ft *fakeTenant) router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if req.Method == http.MethodGet {
			writeJSON(w, ft.apps)
			return
		}
		var body struct {
			Label string `json:"label"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		app := remote.Application{ID: ft.id("app"), Name: body.Label, Label: body.Label, Status: "ACTIVE"}
		ft.apps = append(ft.apps, app)
		writeJSON(w, app)
	})

	r.HandleFunc("/api/v1/meta/schemas/apps/{id}/default", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		appID := mux.Vars(req)["id"]
		if req.Method == http.MethodPost {
			var body struct {
				Definitions struct {
					Custom struct {
						Properties map[string]remote.SchemaProperty `json:"properties"`
					} `json:"custom"`
				} `json:"definitions"`
			}
			json.NewDecoder(req.Body).Decode(&body)
			if ft.customAttrs[appID] == nil {
				ft.customAttrs[appID] = make(map[string]remote.SchemaProperty)
			}
			for name, prop := range body.Definitions.Custom.Properties {
				ft.customAttrs[appID][name] = prop
			}
		}
		writeJSON(w, map[string]interface{}{
			"definitions": map[string]interface{}{
				"base": map[string]interface{}{
					"properties": map[string]interface{}{
						"userName": map[string]string{"title": "Username", "type": "string"},
					},
				},
				"custom": map[string]interface{}{
					"properties": ft.customAttrs[appID],
				},
			},
		})
	})

	r.HandleFunc("/api/v1/mappings", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, []map[string]interface{}{
			{"id": "mapping1", "properties": map[string]interface{}{}},
		})
	})
	r.HandleFunc("/api/v1/mappings/{id}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{"id": mux.Vars(req)["id"]})
	})

	r.HandleFunc("/governance/api/v1/resources", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]string{"id": "resource1"})
	})
	r.HandleFunc("/governance/api/v1/resources/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/governance/api/v1/resources/{id}/entitlements", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		writeJSON(w, map[string]interface{}{"data": ft.entitlements})
	})

	r.HandleFunc("/governance/api/v1/entitlements", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if req.Method == http.MethodGet {
			writeJSON(w, map[string]interface{}{"data": ft.entitlements})
			return
		}
		var body struct {
			Name   string `json:"name"`
			Values []struct {
				Name string `json:"name"`
			} `json:"values"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		ent := remote.Entitlement{ID: ft.id("ent"), Name: body.Name}
		for _, value := range body.Values {
			ent.Values = append(ent.Values, remote.EntitlementValue{ID: ft.id("val"), Name: value.Name})
		}
		ft.entitlements = append(ft.entitlements, ent)
		writeJSON(w, ent)
	})

	r.HandleFunc("/governance/api/v1/entitlements/{id}/values", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		value := remote.EntitlementValue{ID: ft.id("val"), Name: body.Name}
		entID := mux.Vars(req)["id"]
		for i := range ft.entitlements {
			if ft.entitlements[i].ID == entID {
				ft.entitlements[i].Values = append(ft.entitlements[i].Values, value)
			}
		}
		writeJSON(w, value)
	})

	r.HandleFunc("/api/v1/users", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		var body struct {
			Profile map[string]interface{} `json:"profile"`
			Credentials struct {
				Password struct {
					Value string `json:"value"`
				} `json:"password"`
			} `json:"credentials"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		if body.Credentials.Password.Value == "" {
			w.WriteHeader(http.StatusBadRequest)
			writeJSON(w, map[string]string{"errorSummary": "password required"})
			return
		}
		login, _ := body.Profile["Login"].(string)
		user := map[string]interface{}{"id": ft.id("user"), "status": "ACTIVE", "profile": body.Profile}
		ft.users[login] = user
		writeJSON(w, user)
	})

	r.HandleFunc("/api/v1/users/{key}", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		key := mux.Vars(req)["key"]
		if req.Method == http.MethodPost {
			var body struct {
				Profile map[string]interface{} `json:"profile"`
			}
			json.NewDecoder(req.Body).Decode(&body)
			if _, user := ft.userByID(key); user != nil {
				user["profile"] = body.Profile
				writeJSON(w, user)
				return
			}
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"errorSummary": "Resource not found"})
			return
		}
		for login, user := range ft.users {
			if login == key || user["id"] == key {
				writeJSON(w, user)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"errorSummary": "Resource not found"})
	})

	r.HandleFunc("/api/v1/apps/{id}/users", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		appID := mux.Vars(req)["id"]
		if req.Method == http.MethodGet {
			assigned := make([]map[string]interface{}, 0)
			for _, user := range ft.users {
				if ft.assignments[appID][user["id"].(string)] {
					assigned = append(assigned, user)
				}
			}
			writeJSON(w, map[string]interface{}{"data": assigned, "after": ""})
			return
		}
		var body struct {
			ID string `json:"id"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		if ft.assignments[appID] == nil {
			ft.assignments[appID] = make(map[string]bool)
		}
		ft.assignments[appID][body.ID] = true
		w.WriteHeader(http.StatusOK)
	})
	r.HandleFunc("/api/v1/apps/{id}/users/{userID}", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		delete(ft.assignments[mux.Vars(req)["id"]], mux.Vars(req)["userID"])
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/governance/api/v1/grants", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		if req.Method == http.MethodGet {
			key := req.URL.Query().Get("applicationId") + "/" + req.URL.Query().Get("userId")
			writeJSON(w, map[string]interface{}{"data": ft.grants[key]})
			return
		}
		var body struct {
			ApplicationID string              `json:"applicationId"`
			UserID        string              `json:"userId"`
			Entitlements  []remote.GrantGroup `json:"entitlements"`
		}
		json.NewDecoder(req.Body).Decode(&body)
		key := body.ApplicationID + "/" + body.UserID
		for _, group := range body.Entitlements {
			for _, valueID := range group.ValueIDs {
				ft.grants[key] = append(ft.grants[key], remote.Grant{
					ID:            ft.id("grant"),
					EntitlementID: group.EntitlementID,
					ValueID:       valueID,
				})
			}
		}
		w.WriteHeader(http.StatusCreated)
	})
	r.HandleFunc("/governance/api/v1/grants/{id}", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		grantID := mux.Vars(req)["id"]
		for key, grants := range ft.grants {
			kept := grants[:0]
			for _, grant := range grants {
				if grant.ID != grantID {
					kept = append(kept, grant)
				}
			}
			ft.grants[key] = kept
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.HandleFunc("/governance/api/v1/entitlement-bundles", func(w http.ResponseWriter, req *http.Request) {
		ft.mu.Lock()
		defer ft.mu.Unlock()
		var body map[string]interface{}
		json.NewDecoder(req.Body).Decode(&body)
		ft.bundles = append(ft.bundles, body)
		name, _ := body["name"].(string)
		writeJSON(w, remote.Bundle{ID: ft.id("bundle"), Name: name})
	})

	return r
}

func newTestStack(t *testing.T, tenant *fakeTenant, opts provision.Options) (*provision.Provisioner, *remote.OktaClient) {
	t.Helper()
	server := httptest.NewServer(tenant.router())
	t.Cleanup(server.Close)

	credentials := remote.NewCredentialCacheWithSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: "integration-token",
		Expiry:      time.Now().Add(time.Hour),
	}))
	client, err := remote.NewOktaClient(remote.ClientConfig{OrgURL: server.URL}, credentials)
	require.NoError(t, err)

	if opts.ApplicationName == "" {
		opts.ApplicationName = "hr-export"
	}
	return provision.NewProvisioner(client, nil, opts), client
}

func sourceTable(t *testing.T) *csvsource.Table {
	t.Helper()
	table := &csvsource.Table{
		Header: []string{"Login", "First Name", "Badge Color", "ent_Permissions"},
		Rows: []csvsource.Row{
			{"Login": "alice@corp.test", "First Name": "Alice", "Badge Color": "Blue", "ent_Permissions": "View,Edit"},
			{"Login": "bob@corp.test", "First Name": "Bob", "Badge Color": "Blue", "ent_Permissions": "View,Edit"},
			{"Login": "carol@corp.test", "First Name": "Carol", "Badge Color": "Red", "ent_Permissions": "View"},
		},
	}
	return table
}

func TestFullPassOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tenant := newFakeTenant()
	provisioner, _ := newTestStack(t, tenant, provision.Options{CreateBundles: true})

	result, err := provisioner.Run(context.Background(), sourceTable(t))
	require.NoError(t, err)

	require.True(t, result.Summary.Succeeded())
	assert.Equal(t, 3, result.Summary.Added)

	// One entitlement with three values.
	require.Len(t, tenant.entitlements, 1)
	assert.Equal(t, "Permissions", tenant.entitlements[0].Name)
	assert.Len(t, tenant.entitlements[0].Values, 2)

	// Unmatched profile column becomes a custom schema attribute.
	attrs := tenant.customAttrs[result.Application.ID]
	require.Contains(t, attrs, "Badge Color")

	// Every user assigned, grants created per row.
	assert.Len(t, tenant.users, 3)
	assert.Len(t, tenant.assignments[result.Application.ID], 3)

	alice := tenant.users["alice@corp.test"]
	grants := tenant.grants[result.Application.ID+"/"+alice["id"].(string)]
	assert.Len(t, grants, 2)

	// The {View,Edit} cluster met the threshold and became a bundle.
	require.Len(t, tenant.bundles, 1)
}

func TestSecondPassOverHTTPIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tenant := newFakeTenant()
	provisioner, client := newTestStack(t, tenant, provision.Options{})

	_, err := provisioner.Run(context.Background(), sourceTable(t))
	require.NoError(t, err)

	appID := ""
	for _, app := range tenant.apps {
		appID = app.ID
	}
	users, err := client.ListApplicationUsers(context.Background(), appID)
	require.NoError(t, err)
	require.Len(t, users, 3)

	client.PurgeCache(context.Background())
	result, err := provisioner.Run(context.Background(), sourceTable(t))
	require.NoError(t, err)

	// No state store is wired here. The pass observes the assigned users
	// through the API; their profiles lack the entitlement columns, so the
	// rows re-apply as updates. The tenant must absorb that without
	// duplicating anything.
	require.True(t, result.Summary.Succeeded())
	assert.Equal(t, 0, result.Summary.Added)
	assert.Equal(t, 0, result.Summary.Removed)
	assert.Equal(t, 3, result.Summary.Updated)
	assert.Len(t, tenant.users, 3)
	assert.Len(t, tenant.assignments[appID], 3)
	assert.Len(t, tenant.entitlements, 1)

	alice := tenant.users["alice@corp.test"]
	assert.Len(t, tenant.grants[appID+"/"+alice["id"].(string)], 2)
}
