package weaviate_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	adapter "tubesearch/apps/backend/internal/adapter/weaviate"
	"tubesearch/apps/backend/internal/transcript"
)

func mockWeaviate(t *testing.T, handler http.HandlerFunc) (*weaviate.Client, *httptest.Server) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/meta" {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"version": "1.25.0"}`))
			return
		}
		handler(w, r)
	}))
	cfg := weaviate.Config{Host: ts.Listener.Addr().String(), Scheme: "http"}
	client, err := weaviate.NewClient(cfg)
	require.NoError(t, err)
	return client, ts
}

func graphQLReply(w http.ResponseWriter, op string, rows []interface{}) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]interface{}{
			op: map[string]interface{}{adapter.ClassName: rows},
		},
	})
}

func TestObjectID_Deterministic(t *testing.T) {
	assert.Equal(t, adapter.ObjectID("abc", 1), adapter.ObjectID("abc", 1))
	assert.NotEqual(t, adapter.ObjectID("abc", 1), adapter.ObjectID("abc", 2))
	assert.NotEqual(t, adapter.ObjectID("abc", 1), adapter.ObjectID("abd", 1))
}

func TestStore_Exists(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{"Found", http.StatusNoContent, true},
		{"Missing", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				assert.True(t, strings.HasSuffix(r.URL.Path, adapter.ObjectID("vid", 4)))
				w.WriteHeader(tt.status)
			})
			defer ts.Close()

			ok, err := adapter.NewStore(client).Exists(context.Background(), "vid", 4)
			assert.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestStore_Insert(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/objects", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, adapter.ClassName, body["class"])
		assert.Equal(t, adapter.ObjectID("vid", 0), body["id"])
		props := body["properties"].(map[string]interface{})
		assert.Equal(t, "a cat sat", props["content"])
		assert.Equal(t, "vid", props["sourceId"])

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": body["id"]})
	})
	defer ts.Close()

	err := adapter.NewStore(client).Insert(context.Background(), transcript.Record{
		SourceID: "vid", Index: 0, Text: "a cat sat", Vector: []float32{0.1, 0.2},
	})
	assert.NoError(t, err)
}

func TestStore_Insert_Conflict(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":[{"message":"id already exists"}]}`))
	})
	defer ts.Close()

	err := adapter.NewStore(client).Insert(context.Background(), transcript.Record{
		SourceID: "vid", Index: 0, Text: "a cat sat", Vector: []float32{0.1},
	})
	assert.ErrorIs(t, err, transcript.ErrStorage)
}

func TestStore_NearestNeighbor(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		query := body["query"].(string)
		assert.Contains(t, query, "nearVector")
		assert.Contains(t, query, "limit: 1")

		graphQLReply(w, "Get", []interface{}{
			map[string]interface{}{
				"sourceId":    "vid",
				"chunkIndex":  2.0,
				"content":     "A dog ran",
				"_additional": map[string]interface{}{"distance": 0.25},
			},
		})
	})
	defer ts.Close()

	res, err := adapter.NewStore(client).NearestNeighbor(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "vid", res[0].SourceID)
	assert.Equal(t, 2, res[0].Index)
	assert.Equal(t, "A dog ran", res[0].Text)
	assert.InDelta(t, 0.75, res[0].Score, 1e-9)
}

func TestStore_NearestNeighbor_Empty(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		graphQLReply(w, "Get", []interface{}{})
	})
	defer ts.Close()

	res, err := adapter.NewStore(client).NearestNeighbor(context.Background(), []float32{0, 1}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStore_NearestNeighbor_InvalidK(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})
	defer ts.Close()

	_, err := adapter.NewStore(client).NearestNeighbor(context.Background(), []float32{1}, 0)
	assert.ErrorIs(t, err, transcript.ErrInvalidArgument)
}

func TestStore_NearestNeighbor_GraphQLError(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"errors":[{"message":"class not found"}]}`))
	})
	defer ts.Close()

	_, err := adapter.NewStore(client).NearestNeighbor(context.Background(), []float32{1}, 1)
	assert.ErrorIs(t, err, transcript.ErrStorage)
}

func TestStore_HasSource(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Contains(t, body["query"].(string), "sourceId")
		graphQLReply(w, "Get", []interface{}{map[string]interface{}{"sourceId": "vid"}})
	})
	defer ts.Close()

	ok, err := adapter.NewStore(client).HasSource(context.Background(), "vid")
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_CountChunks(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		graphQLReply(w, "Aggregate", []interface{}{
			map[string]interface{}{"meta": map[string]interface{}{"count": 42.0}},
		})
	})
	defer ts.Close()

	count, err := adapter.NewStore(client).CountChunks(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 42, count)
}

func TestStore_CountSources(t *testing.T) {
	client, ts := mockWeaviate(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		assert.Contains(t, body["query"].(string), "groupBy")
		graphQLReply(w, "Aggregate", []interface{}{
			map[string]interface{}{"groupedBy": map[string]interface{}{"value": "a"}},
			map[string]interface{}{"groupedBy": map[string]interface{}{"value": "b"}},
		})
	})
	defer ts.Close()

	count, err := adapter.NewStore(client).CountSources(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}
