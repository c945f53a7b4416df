package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cortexflow/ragcore/pkg/models"
	"github.com/cortexflow/ragcore/pkg/observability"
)

// QdrantStore is a VectorStore backed by a Qdrant collection over gRPC.
// Tenant isolation is enforced with a mandatory tenant_id payload filter on
// every read and delete; results are additionally cross-checked against the
// returned payload before they surface.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	logger      observability.Logger
}

// point IDs are derived from the record key so re-storing a chunk overwrites
// its point instead of duplicating it
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// QdrantConfig configures the Qdrant connection
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

// NewQdrantStore connects to Qdrant over gRPC
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger observability.Logger) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger("storage.qdrant")
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		logger:      logger,
	}, nil
}

// EnsureCollection creates the backing collection with cosine distance if it
// does not exist yet.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return models.NewStorageError("qdrant", "ensure_collection", true, err)
	}
	for _, c := range list.Collections {
		if c.Name == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return models.NewStorageError("qdrant", "ensure_collection", true, err)
	}
	s.logger.Info("created qdrant collection", map[string]interface{}{
		"collection": s.collection,
		"dims":       dims,
	})
	return nil
}

// Store upserts records as points with deterministic IDs
func (s *QdrantStore) Store(ctx context.Context, records []models.VectorRecord) error {
	if err := validateBatch(records); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(records))
	for i, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		payload, err := recordPayload(rec, createdAt)
		if err != nil {
			return models.NewStorageError("qdrant", "store", false, err)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(rec.TenantID, rec.ModelName, rec.ChunkID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Vector}}},
			Payload: payload,
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return models.NewStorageError("qdrant", "store", true, err)
	}
	return nil
}

// Search runs an ANN query filtered to the (tenant, model) partition
func (s *QdrantStore) Search(ctx context.Context, query VectorQuery) ([]models.SearchResult, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	filter := s.scopeFilter(query.TenantID, query.ModelName)
	if len(query.DocumentFilter) > 0 {
		filter.Must = append(filter.Must, matchAnyKeyword("document_id", uuidStrings(query.DocumentFilter)))
	}
	if len(query.ExcludeDocuments) > 0 {
		filter.MustNot = append(filter.MustNot, matchAnyKeyword("document_id", uuidStrings(query.ExcludeDocuments)))
	}

	threshold := float32(query.Threshold)
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query.Vector,
		Limit:          uint64(query.TopK),
		Filter:         filter,
		ScoreThreshold: &threshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, models.NewStorageError("qdrant", "search", true, err)
	}

	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, pt := range resp.Result {
		payloadTenant := pt.Payload["tenant_id"].GetStringValue()
		if payloadTenant != query.TenantID.String() {
			return nil, &models.TenantIsolationError{
				Expected: query.TenantID.String(),
				Actual:   payloadTenant,
				Detail:   "filtered search returned foreign point",
			}
		}
		chunkID, err := uuid.Parse(pt.Payload["chunk_id"].GetStringValue())
		if err != nil {
			return nil, models.NewStorageError("qdrant", "search", false, fmt.Errorf("bad chunk_id payload: %w", err))
		}
		documentID, err := uuid.Parse(pt.Payload["document_id"].GetStringValue())
		if err != nil {
			return nil, models.NewStorageError("qdrant", "search", false, fmt.Errorf("bad document_id payload: %w", err))
		}
		metadata, err := payloadMetadata(pt.Payload)
		if err != nil {
			return nil, models.NewStorageError("qdrant", "search", false, err)
		}
		results = append(results, models.SearchResult{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Score:      float64(pt.Score),
			Content:    pt.Payload["content"].GetStringValue(),
			Metadata:   metadata,
		})
	}
	return results, nil
}

// GetByDocument scrolls all points of one document in insertion order
func (s *QdrantStore) GetByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) ([]models.VectorRecord, error) {
	filter := s.scopeFilter(tenantID, modelName)
	filter.Must = append(filter.Must, matchKeyword("document_id", documentID.String()))

	var records []models.VectorRecord
	limit := uint32(256)
	var offset *pb.PointId

	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			return nil, models.NewStorageError("qdrant", "get_by_document", true, err)
		}

		for _, pt := range resp.Result {
			chunkID, err := uuid.Parse(pt.Payload["chunk_id"].GetStringValue())
			if err != nil {
				return nil, models.NewStorageError("qdrant", "get_by_document", false, fmt.Errorf("bad chunk_id payload: %w", err))
			}
			metadata, err := payloadMetadata(pt.Payload)
			if err != nil {
				return nil, models.NewStorageError("qdrant", "get_by_document", false, err)
			}
			records = append(records, models.VectorRecord{
				TenantID:   tenantID,
				DocumentID: documentID,
				ChunkID:    chunkID,
				ModelName:  modelName,
				Vector:     pt.GetVectors().GetVector().GetData(),
				Content:    pt.Payload["content"].GetStringValue(),
				Metadata:   metadata,
				CreatedAt:  time.Unix(0, pt.Payload["seq"].GetIntegerValue()),
			})
		}

		if resp.NextPageOffset == nil {
			break
		}
		offset = resp.NextPageOffset
	}

	sortRecordsByCreatedAt(records)
	return records, nil
}

// DeleteByDocument removes all points of one document by filter
func (s *QdrantStore) DeleteByDocument(ctx context.Context, tenantID, documentID uuid.UUID, modelName string) error {
	filter := s.scopeFilter(tenantID, modelName)
	filter.Must = append(filter.Must, matchKeyword("document_id", documentID.String()))

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
		Wait: &wait,
	})
	if err != nil {
		return models.NewStorageError("qdrant", "delete_by_document", true, err)
	}
	return nil
}

// Stats counts points in the (tenant, model) partition. Memory usage lives
// on the Qdrant server and is reported as zero here.
func (s *QdrantStore) Stats(ctx context.Context, tenantID uuid.UUID, modelName string) (Stats, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         s.scopeFilter(tenantID, modelName),
		Exact:          &exact,
	})
	if err != nil {
		return Stats{}, models.NewStorageError("qdrant", "stats", true, err)
	}
	return Stats{Count: int64(resp.Result.Count)}, nil
}

// Close closes the gRPC connection
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func (s *QdrantStore) scopeFilter(tenantID uuid.UUID, modelName string) *pb.Filter {
	return &pb.Filter{
		Must: []*pb.Condition{
			matchKeyword("tenant_id", tenantID.String()),
			matchKeyword("model_name", modelName),
		},
	}
}

// recordPayload maps a record onto point payload fields. Metadata travels as
// one JSON string value; it only round-trips through this store and is never
// filtered on server-side.
func recordPayload(rec models.VectorRecord, createdAt time.Time) (map[string]*pb.Value, error) {
	payload := map[string]*pb.Value{
		"tenant_id":   {Kind: &pb.Value_StringValue{StringValue: rec.TenantID.String()}},
		"document_id": {Kind: &pb.Value_StringValue{StringValue: rec.DocumentID.String()}},
		"chunk_id":    {Kind: &pb.Value_StringValue{StringValue: rec.ChunkID.String()}},
		"model_name":  {Kind: &pb.Value_StringValue{StringValue: rec.ModelName}},
		"content":     {Kind: &pb.Value_StringValue{StringValue: rec.Content}},
		"seq":         {Kind: &pb.Value_IntegerValue{IntegerValue: createdAt.UnixNano()}},
	}
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		payload["metadata"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: string(data)}}
	}
	return payload, nil
}

func payloadMetadata(payload map[string]*pb.Value) (map[string]interface{}, error) {
	raw := payload["metadata"].GetStringValue()
	if raw == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("bad metadata payload: %w", err)
	}
	return m, nil
}

func pointID(tenantID uuid.UUID, modelName string, chunkID uuid.UUID) string {
	key := tenantID.String() + ":" + modelName + ":" + chunkID.String()
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func matchKeyword(field, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func matchAnyKeyword(field string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: values}}},
			},
		},
	}
}

func sortRecordsByCreatedAt(records []models.VectorRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
