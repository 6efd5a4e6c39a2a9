package store

import (
	"context"
	"fmt"
	"itinerary-core/internal/domain/repository"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointNamespace seeds deterministic point ids so a key always maps to the
// same Qdrant point.
var pointNamespace = uuid.MustParse("6f1c2a9e-3b7d-4c1e-9a55-0d7e2f8b4c31")

// QdrantTripStore persists trip payloads as Qdrant points. Each point carries
// an embedding of its payload so saved trips can later be searched by content.
type QdrantTripStore struct {
	client         *qdrant.Client
	collectionName string
	embedder       repository.Embedder
	logger         *zap.Logger
}

func NewQdrantTripStore(client *qdrant.Client, collectionName string, embedder repository.Embedder, logger *zap.Logger) *QdrantTripStore {
	return &QdrantTripStore{
		client:         client,
		collectionName: collectionName,
		embedder:       embedder,
		logger:         logger,
	}
}

func (s *QdrantTripStore) InitCollection(ctx context.Context, dim uint64) error {
	_, err := s.client.GetCollectionInfo(ctx, s.collectionName)
	if err != nil {
		st, ok := status.FromError(err)
		if !ok || st.Code() != codes.NotFound {
			return err
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     dim,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collectionName,
		FieldName:      "key",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		s.logger.Warn("could not create key index, it may already exist", zap.Error(err))
	}
	return nil
}

func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func (s *QdrantTripStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collectionName,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(pointID(key))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	return []byte(points[0].Payload["payload"].GetStringValue()), true, nil
}

// Save upserts payload under key and returns the point id.
func (s *QdrantTripStore) Save(ctx context.Context, key string, payload []byte) (string, error) {
	vector, err := s.embedder.CreateEmbedding(ctx, string(payload))
	if err != nil {
		return "", fmt.Errorf("failed to embed %s: %w", key, err)
	}

	id := pointID(key)
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDUUID(id),
				Vectors: qdrant.NewVectors(vector...),
				Payload: qdrant.NewValueMap(map[string]any{
					"key":        key,
					"payload":    string(payload),
					"created_at": time.Now().Unix(),
				}),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", key, err)
	}
	return id, nil
}

func (s *QdrantTripStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collectionName,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointID(key))),
	})
	return err
}
