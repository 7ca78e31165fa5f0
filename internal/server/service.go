package server

import (
	"MangoCache/internal/ingestion"
	"MangoCache/internal/query"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The cache service speaks google.protobuf.Struct on the wire: request and
// response bodies are the same JSON objects the HTTP routes use.
const cacheServiceName = "mangocache.v1.CacheService"

// CacheServiceServer is the server API for mangocache.v1.CacheService.
type CacheServiceServer interface {
	GetCache(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPrice(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRootBank(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPerpMarket(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckFreshness(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNativeBalances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitUpdate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TakeSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(CacheServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + cacheServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CacheServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CacheServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// CacheServiceDesc registers CacheServiceServer without generated code.
var CacheServiceDesc = grpc.ServiceDesc{
	ServiceName: cacheServiceName,
	HandlerType: (*CacheServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("GetCache", CacheServiceServer.GetCache),
		methodDesc("GetPrice", CacheServiceServer.GetPrice),
		methodDesc("GetRootBank", CacheServiceServer.GetRootBank),
		methodDesc("GetPerpMarket", CacheServiceServer.GetPerpMarket),
		methodDesc("CheckFreshness", CacheServiceServer.CheckFreshness),
		methodDesc("GetNativeBalances", CacheServiceServer.GetNativeBalances),
		methodDesc("SubmitUpdate", CacheServiceServer.SubmitUpdate),
		methodDesc("GetStatus", CacheServiceServer.GetStatus),
		methodDesc("TakeSnapshot", CacheServiceServer.TakeSnapshot),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mangocache/v1/cache.proto",
}

// StatusSource reports the engine position. *core.CacheEngine implements it.
type StatusSource interface {
	GetSequence() int64
	GetStateHash() [32]byte
}

// SnapshotFunc writes a snapshot now and returns its sequence.
type SnapshotFunc func(ctx context.Context) (int64, error)

// ============================================================================
// CacheService implementation
// ============================================================================

type cacheService struct {
	qs       *query.QueryService
	ingest   *ingestion.GRPCIngestService
	status   StatusSource
	snapshot SnapshotFunc
}

type slotRequest struct {
	Slot *int `json:"slot"`
}

func (r slotRequest) slot() (int, error) {
	if r.Slot == nil {
		return 0, fmt.Errorf("%w: slot is required", errInvalidRequest)
	}
	return *r.Slot, nil
}

type nativeBalancesRequest struct {
	TokenSlot *int   `json:"token_slot"`
	MaxAge    uint64 `json:"max_age"`
}

type submitUpdateRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type submitUpdateResponse struct {
	Accepted       bool   `json:"accepted"`
	IdempotencyKey string `json:"idempotency_key"`
}

type statusResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

type snapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

func (s *cacheService) GetCache(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.qs.GetCache(ctx)
	return reply(resp, err)
}

func (s *cacheService) GetPrice(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req slotRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	slot, err := req.slot()
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.qs.GetPrice(ctx, slot)
	return reply(resp, err)
}

func (s *cacheService) GetRootBank(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req slotRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	slot, err := req.slot()
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.qs.GetRootBank(ctx, slot)
	return reply(resp, err)
}

func (s *cacheService) GetPerpMarket(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req slotRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	slot, err := req.slot()
	if err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.qs.GetPerpMarket(ctx, slot)
	return reply(resp, err)
}

func (s *cacheService) CheckFreshness(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req query.FreshnessRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	resp, err := s.qs.CheckFreshness(ctx, req)
	return reply(resp, err)
}

func (s *cacheService) GetNativeBalances(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req nativeBalancesRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if req.TokenSlot == nil {
		return nil, toStatus(fmt.Errorf("%w: token_slot is required", errInvalidRequest))
	}
	resp, err := s.qs.NativeBalances(ctx, *req.TokenSlot, req.MaxAge)
	return reply(resp, err)
}

func (s *cacheService) SubmitUpdate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitUpdateRequest
	if err := decode(in, &req); err != nil {
		return nil, toStatus(err)
	}
	if req.EventType == "" || len(req.Payload) == 0 {
		return nil, toStatus(fmt.Errorf("%w: event_type and payload are required", errInvalidRequest))
	}
	key, err := s.ingest.SubmitUpdate(ctx, req.EventType, req.Payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(submitUpdateResponse{Accepted: true, IdempotencyKey: key}, nil)
}

func (s *cacheService) GetStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	hash := s.status.GetStateHash()
	return reply(statusResponse{
		Sequence:  s.status.GetSequence(),
		StateHash: hex.EncodeToString(hash[:]),
	}, nil)
}

func (s *cacheService) TakeSnapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.snapshot == nil {
		return nil, toStatus(fmt.Errorf("%w: snapshots are disabled", errInvalidRequest))
	}
	seq, err := s.snapshot(ctx)
	return reply(snapshotResponse{Sequence: seq}, err)
}

// ============================================================================
// Helpers
// ============================================================================

// decode copies a Struct into dst through JSON. Unknown fields are ignored.
func decode(in *structpb.Struct, dst interface{}) error {
	if in == nil {
		return nil
	}
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}

// encode turns a JSON-tagged value into a Struct.
func encode(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func reply(v interface{}, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encode(v)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}
