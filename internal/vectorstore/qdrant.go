package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg QdrantConfig) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates the named collection if it does not already exist.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// pointNamespace seeds deterministic point ids. Qdrant point ids must be
// UUIDs or integers, so external slugs are mapped through uuid.NewSHA1
// and the original id travels in the payload.
var pointNamespace = uuid.MustParse("8a6e0804-2bd0-4672-b79d-d97027f9071a")

// PointID maps an external identifier onto a deterministic Qdrant point id.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

// Payload converts Go values into Qdrant payload values. Supported value
// kinds are string, bool, int, float64 and []string.
func Payload(fields map[string]interface{}) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(fields))
	for k, v := range fields {
		out[k] = payloadValue(v)
	}
	return out
}

func payloadValue(v interface{}) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case []string:
		vals := make([]*pb.Value, len(val))
		for i, s := range val {
			vals[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}

// Upsert inserts or updates a single point in the given collection.
func (c *Client) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error {
	fields := Payload(payload)
	fields["id"] = payloadValue(id)
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: fields,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// SetPayload overwrites the given payload fields on one point, leaving the
// vector and any other fields untouched.
func (c *Client) SetPayload(ctx context.Context, collection, id string, payload map[string]interface{}) error {
	_, err := c.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: collection,
		Payload:        Payload(payload),
		PointsSelector: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("set payload %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes a single point from the collection.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// GetVectors fetches the stored vectors for the given external ids.
// Missing points are silently absent from the result map.
func (c *Client) GetVectors(ctx context.Context, collection string, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}
	resp, err := c.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pointIDs,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("get vectors %s: %w", collection, err)
	}
	out := make(map[string][]float32, len(resp.Result))
	for _, r := range resp.Result {
		vec := r.GetVectors().GetVector().GetData()
		if len(vec) == 0 {
			continue
		}
		extID := payloadString(r.GetPayload(), "id")
		if extID == "" {
			continue
		}
		out[extID] = vec
	}
	return out, nil
}

// SearchSpec narrows a nearest-neighbor search.
type SearchSpec struct {
	Vector   []float32
	Limit    uint64
	MinScore float32
	// TagFilters restricts hits to points whose named keyword field
	// contains at least one of the given values (set membership).
	TagFilters map[string][]string
}

// SearchResult holds a single vector search hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Search performs a nearest-neighbor search and returns hits in descending
// score order.
func (c *Client) Search(ctx context.Context, collection string, spec SearchSpec) ([]*SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         spec.Vector,
		Limit:          spec.Limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if spec.MinScore > 0 {
		threshold := spec.MinScore
		req.ScoreThreshold = &threshold
	}
	if len(spec.TagFilters) > 0 {
		var conditions []*pb.Condition
		for field, values := range spec.TagFilters {
			if len(values) == 0 {
				continue
			}
			conditions = append(conditions, &pb.Condition{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key: field,
						Match: &pb.Match{
							MatchValue: &pb.Match_Keywords{
								Keywords: &pb.RepeatedStrings{Strings: values},
							},
						},
					},
				},
			})
		}
		if len(conditions) > 0 {
			req.Filter = &pb.Filter{Must: conditions}
		}
	}

	resp, err := c.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	results := make([]*SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := decodePayload(r.Payload)
		id := payloadString(r.Payload, "id")
		if id == "" {
			id = r.Id.GetUuid()
		}
		results = append(results, &SearchResult{
			ID:      id,
			Score:   r.Score,
			Payload: payload,
		})
	}
	return results, nil
}

func decodePayload(p map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = decodeValue(v)
	}
	return out
}

func decodeValue(v *pb.Value) interface{} {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_ListValue:
		items := make([]string, 0, len(kind.ListValue.Values))
		for _, item := range kind.ListValue.Values {
			if sv, ok := item.Kind.(*pb.Value_StringValue); ok {
				items = append(items, sv.StringValue)
			}
		}
		return items
	default:
		return nil
	}
}

func payloadString(p map[string]*pb.Value, key string) string {
	if v, ok := p[key]; ok {
		if sv, ok := v.Kind.(*pb.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
