package weaviate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"tubesearch/apps/backend/internal/transcript"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// ObjectID derives the object UUID for a chunk, so lookups never need a query.
func ObjectID(sourceID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s#%d", sourceID, index))).String()
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	return EnsureSchema(ctx, NewSchemaClient(s.client))
}

func (s *Store) Exists(ctx context.Context, sourceID string, index int) (bool, error) {
	ok, err := s.client.Data().Checker().
		WithClassName(ClassName).
		WithID(ObjectID(sourceID, index)).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: exists check: %v", transcript.ErrStorage, err)
	}
	return ok, nil
}

func (s *Store) Insert(ctx context.Context, rec transcript.Record) error {
	storedAt := rec.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now().UTC()
	}

	_, err := s.client.Data().Creator().
		WithClassName(ClassName).
		WithID(ObjectID(rec.SourceID, rec.Index)).
		WithProperties(map[string]interface{}{
			"sourceId":   rec.SourceID,
			"chunkIndex": rec.Index,
			"content":    rec.Text,
			"storedAt":   storedAt.Format(time.RFC3339Nano),
		}).
		WithVector(rec.Vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("%w: insert %s/%d: %v", transcript.ErrStorage, rec.SourceID, rec.Index, err)
	}
	return nil
}

func (s *Store) NearestNeighbor(ctx context.Context, vector []float32, k int) ([]transcript.Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be at least 1, got %d", transcript.ErrInvalidArgument, k)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	fields := []graphql.Field{
		{Name: "sourceId"},
		{Name: "chunkIndex"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: near vector: %v", transcript.ErrStorage, err)
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("%w: graphql error: %v", transcript.ErrStorage, res.Errors[0].Message)
	}

	matches := []transcript.Match{}
	for _, props := range getObjects(res) {
		m := transcript.Match{}
		m.SourceID, _ = props["sourceId"].(string)
		m.Text, _ = props["content"].(string)
		if idx, ok := toFloat(props["chunkIndex"]); ok {
			m.Index = int(idx)
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if distance, ok := toFloat(additional["distance"]); ok {
				m.Score = 1 - distance
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (s *Store) HasSource(ctx context.Context, sourceID string) (bool, error) {
	where := filters.Where().
		WithPath([]string{"sourceId"}).
		WithOperator(filters.Equal).
		WithValueString(sourceID)

	res, err := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithWhere(where).
		WithLimit(1).
		WithFields(graphql.Field{Name: "sourceId"}).
		Do(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: source check: %v", transcript.ErrStorage, err)
	}
	if len(res.Errors) > 0 {
		return false, fmt.Errorf("%w: graphql error: %v", transcript.ErrStorage, res.Errors[0].Message)
	}
	return len(getObjects(res)) > 0, nil
}

func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	groups := aggregateGroups(res)
	if len(groups) == 0 {
		return 0, nil
	}
	if meta, ok := groups[0]["meta"].(map[string]interface{}); ok {
		if count, ok := toFloat(meta["count"]); ok {
			return int(count), nil
		}
	}
	return 0, nil
}

// CountSources groups by sourceId and counts the groups.
func (s *Store) CountSources(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(ClassName).
		WithGroupBy("sourceId").
		WithFields(graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}
	return len(aggregateGroups(res)), nil
}

func getObjects(res *models.GraphQLResponse) []map[string]interface{} {
	return classRows(res, "Get")
}

func aggregateGroups(res *models.GraphQLResponse) []map[string]interface{} {
	return classRows(res, "Aggregate")
}

func classRows(res *models.GraphQLResponse, op string) []map[string]interface{} {
	data, ok := res.Data[op].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data[ClassName].([]interface{})
	if !ok {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(raw))
	for _, r := range raw {
		if props, ok := r.(map[string]interface{}); ok {
			rows = append(rows, props)
		}
	}
	return rows
}

// Weaviate returns numeric _additional fields as numbers or strings
// depending on server version.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
