package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/rfi-assistant/server/internal/agent/model"
)

const (
	payloadID      = "doc_id"
	payloadContent = "content"

	qdrantMaxMessageSize = 32 << 20
)

// QdrantIndex queries a remote Qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantIndex(cfg model.RetrievalConfig) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantUseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(qdrantMaxMessageSize),
				grpc.MaxCallSendMsgSize(qdrantMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s:%d: %w", cfg.QdrantHost, cfg.QdrantPort, err)
	}
	return &QdrantIndex{client: client, collection: cfg.QdrantCollection}, nil
}

func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

func keywordFilter(key, value string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   key,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
				},
			},
		}},
	}
}

func (x *QdrantIndex) Query(ctx context.Context, vector []float32, topK int, namespace string) ([]Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if namespace != "" {
		req.Filter = keywordFilter(MetaNamespace, namespace)
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query qdrant %s: %w", x.collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		meta := make(map[string]string, len(p.Payload))
		for k, v := range p.Payload {
			if s, ok := v.GetKind().(*qdrant.Value_StringValue); ok {
				meta[k] = s.StringValue
			}
		}
		hit := Hit{
			ID:      meta[payloadID],
			Source:  meta[MetaSource],
			Snippet: meta[payloadContent],
			Score:   p.Score,
		}
		delete(meta, payloadContent)
		hit.Metadata = meta
		hits = append(hits, hit)
	}
	return hits, nil
}

func (x *QdrantIndex) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, d := range docs {
		payload := map[string]*qdrant.Value{
			payloadID:      qdrant.NewValueString(d.ID),
			payloadContent: qdrant.NewValueString(d.Content),
		}
		for k, v := range documentMetadata(d) {
			payload[k] = qdrant.NewValueString(v)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(d.Embedding...),
			Payload: payload,
		})
	}

	if _, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upsert qdrant %s: %w", x.collection, err)
	}
	return nil
}

func (x *QdrantIndex) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key: payloadID,
								Match: &qdrant.Match{
									MatchValue: &qdrant.Match_Keywords{
										Keywords: &qdrant.RepeatedStrings{Strings: ids},
									},
								},
							},
						},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete qdrant points: %w", err)
	}
	return nil
}

// pointID maps arbitrary document IDs to stable UUIDs, as Qdrant only accepts
// UUIDs or integers.
func pointID(docID string) string {
	if _, err := uuid.Parse(docID); err == nil {
		return docID
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID)).String()
}
