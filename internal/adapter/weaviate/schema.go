package weaviate

import (
	"context"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding one object per transcript chunk.
const ClassName = "TranscriptChunk"

// SchemaClient is the subset of the Weaviate schema API used at startup.
type SchemaClient interface {
	ClassExists(ctx context.Context, className string) (bool, error)
	CreateClass(ctx context.Context, class *models.Class) error
	GetClass(ctx context.Context, className string) (*models.Class, error)
	AddProperty(ctx context.Context, className string, property *models.Property) error
}

type schemaAdapter struct {
	client *weaviate.Client
}

// NewSchemaClient adapts a Weaviate client to SchemaClient.
func NewSchemaClient(client *weaviate.Client) SchemaClient {
	return &schemaAdapter{client: client}
}

func (a *schemaAdapter) ClassExists(ctx context.Context, className string) (bool, error) {
	return a.client.Schema().ClassExistenceChecker().WithClassName(className).Do(ctx)
}

func (a *schemaAdapter) CreateClass(ctx context.Context, class *models.Class) error {
	return a.client.Schema().ClassCreator().WithClass(class).Do(ctx)
}

func (a *schemaAdapter) GetClass(ctx context.Context, className string) (*models.Class, error) {
	return a.client.Schema().ClassGetter().WithClassName(className).Do(ctx)
}

func (a *schemaAdapter) AddProperty(ctx context.Context, className string, property *models.Property) error {
	return a.client.Schema().PropertyCreator().WithClassName(className).WithProperty(property).Do(ctx)
}

func chunkProperties() []*models.Property {
	return []*models.Property{
		{Name: "sourceId", DataType: []string{"string"}},
		{Name: "chunkIndex", DataType: []string{"int"}},
		{Name: "content", DataType: []string{"text"}},
		{Name: "storedAt", DataType: []string{"date"}},
	}
}

// EnsureSchema creates the TranscriptChunk class when missing and adds any
// property an older deployment lacks.
func EnsureSchema(ctx context.Context, client SchemaClient) error {
	exists, err := client.ClassExists(ctx, ClassName)
	if err != nil {
		return err
	}

	properties := chunkProperties()
	if !exists {
		return client.CreateClass(ctx, &models.Class{
			Class:             ClassName,
			Description:       "A segment of a video transcript",
			Vectorizer:        "none",
			VectorIndexConfig: map[string]interface{}{"distance": "cosine"},
			Properties:        properties,
		})
	}

	class, err := client.GetClass(ctx, ClassName)
	if err != nil {
		return err
	}

	existing := make(map[string]bool, len(class.Properties))
	for _, p := range class.Properties {
		existing[p.Name] = true
	}
	for _, p := range properties {
		if existing[p.Name] {
			continue
		}
		if err := client.AddProperty(ctx, ClassName, p); err != nil {
			return err
		}
	}
	return nil
}
