package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/ragd/internal/document"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

var qdrantTracer = otel.Tracer("ragd.vectorstore.qdrant")

// Payload keys reserved by QdrantIndex.
const (
	payloadContent = "content"
	payloadChunkID = "chunk_id"
)

// QdrantConfig configures the Qdrant gRPC backend.
type QdrantConfig struct {
	// Host of the Qdrant server. Default "localhost".
	Host string
	// Port is the gRPC port (not the REST port). Default 6334.
	Port       int
	UseTLS     bool
	APIKey     string
	Collection string
	// Dimension sizes a new collection. When zero the first upsert decides.
	Dimension int
	// MaxMessageSize bounds gRPC messages. Default 50 MiB.
	MaxMessageSize int
	Breaker        BreakerConfig
}

// QdrantIndex is an Index backed by a Qdrant collection with cosine distance.
type QdrantIndex struct {
	client  *qdrant.Client
	config  QdrantConfig
	breaker *breaker
	logger  *zap.Logger

	// dimension is the collection's vector size once known.
	mu        sync.Mutex
	dimension int
	ready     bool
}

// NewQdrantIndex connects to Qdrant and verifies the server is healthy.
func NewQdrantIndex(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errdefs.Configuration("invalid qdrant port %d", cfg.Port)
	}
	if cfg.Collection == "" {
		cfg.Collection = "documents"
	}
	if err := ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 50 * 1024 * 1024
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC connection uses plaintext (TLS disabled)")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		APIKey: cfg.APIKey,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, errdefs.StoreUnavailable("qdrant connect", err)
	}

	idx := &QdrantIndex{
		client:    client,
		config:    cfg,
		breaker:   newBreaker("qdrant", cfg.Breaker, logger),
		logger:    logger,
		dimension: cfg.Dimension,
	}

	err = exec(idx.breaker, "health", func() error {
		_, err := client.HealthCheck(ctx)
		return err
	})
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant index connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
	)
	return idx, nil
}

// ensureCollection creates the collection on first use and checks the
// vector size of an existing one.
func (s *QdrantIndex) ensureCollection(ctx context.Context, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return checkDimensionSize(dimension, s.dimension)
	}

	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return err
	}

	if exists {
		info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
		if err != nil {
			return err
		}
		size := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
		if size > 0 {
			if s.dimension > 0 && s.dimension != size {
				return fmt.Errorf("%w: collection %s has size %d, configured %d",
					ErrDimensionMismatch, s.config.Collection, size, s.dimension)
			}
			s.dimension = size
		}
	} else {
		if s.dimension == 0 {
			s.dimension = dimension
		}
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return err
		}
		s.logger.Info("created qdrant collection",
			zap.String("collection", s.config.Collection),
			zap.Int("vector_size", s.dimension),
		)
	}

	s.ready = true
	return checkDimensionSize(dimension, s.dimension)
}

func checkDimensionSize(got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("%w: got %d, collection expects %d", ErrDimensionMismatch, got, want)
	}
	return nil
}

// Upsert stores chunks as points keyed by chunk ID.
func (s *QdrantIndex) Upsert(ctx context.Context, chunks []document.Chunk, embeddings [][]float32) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if len(chunks) == 0 && len(embeddings) == 0 {
		return nil
	}
	if err := validateUpsert(chunks, embeddings, s.config.Dimension); err != nil {
		span.RecordError(err)
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: toPayload(c),
		}
	}

	err := exec(s.breaker, "upsert", func() error {
		if err := s.ensureCollection(ctx, len(embeddings[0])); err != nil {
			return err
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Query returns the k nearest points. Qdrant reports cosine similarity,
// which is converted to distance.
func (s *QdrantIndex) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, errdefs.Configuration("k must be positive, got %d", k)
	}
	if err := checkDimension(embedding, s.config.Dimension); err != nil {
		return nil, err
	}

	points, err := run(s.breaker, "query", func() ([]*qdrant.ScoredPoint, error) {
		if err := s.ensureCollection(ctx, len(embedding)); err != nil {
			return nil, err
		}
		return s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(embedding...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches := make([]Match, len(points))
	for i, p := range points {
		matches[i] = Match{
			Chunk:    fromPayload(p.GetId().GetUuid(), p.GetPayload()),
			Distance: 1 - float64(p.GetScore()),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Count returns the exact number of points; a missing collection counts as empty.
func (s *QdrantIndex) Count(ctx context.Context) (int, error) {
	n, err := run(s.breaker, "count", func() (uint64, error) {
		n, err := s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		if isNotFound(err) {
			return 0, nil
		}
		return n, err
	})
	return int(n), err
}

// DeleteSource deletes the points whose source_path payload equals sourcePath.
func (s *QdrantIndex) DeleteSource(ctx context.Context, sourcePath string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.DeleteSource")
	defer span.End()
	span.SetAttributes(attribute.String("source_path", sourcePath))

	if sourcePath == "" {
		return errdefs.Configuration("source path is required")
	}

	err := exec(s.breaker, "delete_source", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: document.MetaSourcePath,
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keyword{Keyword: sourcePath},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		if isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Reset drops the collection. It is recreated by the next upsert.
func (s *QdrantIndex) Reset(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantIndex.Reset")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := exec(s.breaker, "reset", func() error {
		err := s.client.DeleteCollection(ctx, s.config.Collection)
		if isNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.ready = false
	s.dimension = s.config.Dimension
	s.logger.Info("qdrant collection reset", zap.String("collection", s.config.Collection))
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return err != nil && ok && st.Code() == grpccodes.NotFound
}

func toPayload(c document.Chunk) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		switch val := v.(type) {
		case string:
			payload[k] = qdrant.NewValueString(val)
		case int:
			payload[k] = qdrant.NewValueInt(int64(val))
		case int64:
			payload[k] = qdrant.NewValueInt(val)
		case float64:
			payload[k] = qdrant.NewValueDouble(val)
		case bool:
			payload[k] = qdrant.NewValueBool(val)
		default:
			payload[k] = qdrant.NewValueString(fmt.Sprint(val))
		}
	}
	payload[payloadContent] = qdrant.NewValueString(c.Content)
	payload[payloadChunkID] = qdrant.NewValueString(c.ID)
	return payload
}

func fromPayload(id string, payload map[string]*qdrant.Value) document.Chunk {
	c := document.Chunk{ID: id, Metadata: make(map[string]any, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadContent:
			c.Content = v.GetStringValue()
			continue
		case payloadChunkID:
			if s := v.GetStringValue(); s != "" {
				c.ID = s
			}
			continue
		}
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			c.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			c.Metadata[k] = int(val.IntegerValue)
		case *qdrant.Value_DoubleValue:
			c.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			c.Metadata[k] = val.BoolValue
		}
	}
	return c
}

var _ Index = (*QdrantIndex)(nil)
