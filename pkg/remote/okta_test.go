package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, cache CacheConfig) *OktaClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOktaClient(ClientConfig{OrgURL: server.URL, Timeout: 5 * time.Second, Cache: cache}, nil)
	require.NoError(t, err)
	return client
}

func TestStatusClassification(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("case") {
		case "429":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"errorSummary": "rate limit exceeded"})
		case "401":
			w.WriteHeader(http.StatusUnauthorized)
		case "404":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"errorSummary": "bad request"})
		}
	})
	client := newTestClient(t, router, CacheConfig{})

	t.Run("429 is rate limited with Retry-After", func(t *testing.T) {
		err := client.do(context.Background(), "op", http.MethodGet, "/api/v1/users?case=429", nil, &struct{}{})
		require.Error(t, err)
		assert.True(t, IsRateLimited(err))
		assert.Equal(t, 3*time.Second, RetryAfterOf(err))
	})

	t.Run("401 is auth expired", func(t *testing.T) {
		err := client.do(context.Background(), "op", http.MethodGet, "/api/v1/users?case=401", nil, &struct{}{})
		assert.True(t, IsAuthExpired(err))
	})

	t.Run("404 is not found", func(t *testing.T) {
		err := client.do(context.Background(), "op", http.MethodGet, "/api/v1/users?case=404", nil, &struct{}{})
		assert.True(t, IsNotFound(err))
	})

	t.Run("400 is permanent with the API message", func(t *testing.T) {
		err := client.do(context.Background(), "op", http.MethodGet, "/api/v1/users?case=400", nil, &struct{}{})
		require.Error(t, err)
		assert.Equal(t, KindPermanent, KindOf(err))
		assert.Contains(t, err.Error(), "bad request")
	})
}

func TestFindApplicationByName(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{
			{"id": "app1", "name": "hrcsv_1", "label": "HR CSV", "status": "ACTIVE"},
			{"id": "app2", "name": "other", "label": "Other", "status": "ACTIVE"},
		})
	})
	client := newTestClient(t, router, CacheConfig{})

	t.Run("matches by label", func(t *testing.T) {
		app, err := client.FindApplicationByName(context.Background(), "HR CSV")
		require.NoError(t, err)
		require.NotNil(t, app)
		assert.Equal(t, "app1", app.ID)
	})

	t.Run("no exact match returns nil", func(t *testing.T) {
		app, err := client.FindApplicationByName(context.Background(), "HR")
		require.NoError(t, err)
		assert.Nil(t, app)
	})
}

func TestFindUser(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/users/{key}", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["key"] != "a@x.com" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "u1",
			"status": "ACTIVE",
			"profile": map[string]interface{}{
				"login":      "a@x.com",
				"department": "Eng",
				"age":        41,
				"manager":    nil,
			},
		})
	})
	client := newTestClient(t, router, CacheConfig{})

	t.Run("found user has a flattened string profile", func(t *testing.T) {
		user, err := client.FindUser(context.Background(), "a@x.com")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "u1", user.ID)
		assert.Equal(t, "Eng", user.Profile["department"])
		assert.Equal(t, "41", user.Profile["age"])
		assert.Equal(t, "", user.Profile["manager"])
	})

	t.Run("missing user is nil, not an error", func(t *testing.T) {
		user, err := client.FindUser(context.Background(), "ghost@x.com")
		require.NoError(t, err)
		assert.Nil(t, user)
	})
}

func TestListApplicationUsersPagination(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/apps/{id}/users", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{
					{"id": "u1", "profile": map[string]interface{}{"login": "a@x.com"}},
					{"id": "u2", "profile": map[string]interface{}{"login": "b@x.com"}},
				},
				"after": "cursor-2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "u3", "profile": map[string]interface{}{"login": "c@x.com"}},
			},
		})
	})
	client := newTestClient(t, router, CacheConfig{})

	users, err := client.ListApplicationUsers(context.Background(), "app1")
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "u3", users[2].ID)
}

func TestListEntitlementsStrategyFallback(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/governance/api/v1/entitlements", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("filter") != "" {
			// First-generation filter query is rejected on this tenant.
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"id": "e1", "name": "Role", "values": []map[string]string{{"id": "v1", "name": "Admin"}}},
			},
		})
	})
	client := newTestClient(t, router, CacheConfig{})

	ents, err := client.ListEntitlements(context.Background(), "res1", "app1")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "e1", ents[0].ID)
	require.Len(t, ents[0].Values, 1)
	assert.Equal(t, "Admin", ents[0].Values[0].Name)
}

func TestListEntitlementsAllEmpty(t *testing.T) {
	router := mux.NewRouter()
	router.PathPrefix("/governance/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	})
	client := newTestClient(t, router, CacheConfig{})

	ents, err := client.ListEntitlements(context.Background(), "res1", "app1")
	require.NoError(t, err)
	assert.Empty(t, ents)
}

func TestGetCaching(t *testing.T) {
	hits := 0
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/mappings", func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode([]map[string]interface{}{{"id": "m1"}})
	})
	client := newTestClient(t, router, CacheConfig{Enabled: true, Size: 8, TTL: time.Minute})

	for i := 0; i < 3; i++ {
		mapping, err := client.GetProfileMapping(context.Background(), "app1")
		require.NoError(t, err)
		require.NotNil(t, mapping)
		assert.Equal(t, "m1", mapping.ID)
	}
	assert.Equal(t, 1, hits)

	t.Run("purge forces a refetch", func(t *testing.T) {
		client.PurgeCache(context.Background())
		_, err := client.GetProfileMapping(context.Background(), "app1")
		require.NoError(t, err)
		assert.Equal(t, 2, hits)
	})
}

func TestCreateEntitlementAndValue(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/governance/api/v1/entitlements", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Role", body["name"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "e1", "name": "Role",
			"values": []map[string]string{{"id": "v1", "name": "Admin"}},
		})
	}).Methods(http.MethodPost)
	router.HandleFunc("/governance/api/v1/entitlements/{id}/values", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "v2", "name": "Dev"})
	}).Methods(http.MethodPost)
	client := newTestClient(t, router, CacheConfig{})

	ent, err := client.CreateEntitlement(context.Background(), "res1", EntitlementDefinition{
		Name: "Role", ExternalValue: "ent_Role", Values: []string{"Admin"},
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", ent.ID)

	value, err := client.AddEntitlementValue(context.Background(), "e1", "Dev")
	require.NoError(t, err)
	assert.Equal(t, "v2", value.ID)
}
