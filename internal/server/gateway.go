package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	maxBodyBytes = 1 << 20
	maxExactInt  = 1 << 53
)

// newGatewayMux binds the HTTP routes to the cache service. Each route
// builds the same Struct request the gRPC method takes, so both surfaces
// share validation and error mapping.
func newGatewayMux(svc CacheServiceServer) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/cache", handle(svc.GetCache, noParams)},
		{"GET", "/v1/prices/{slot}", handle(svc.GetPrice, slotParam("slot", "slot"))},
		{"GET", "/v1/root-banks/{slot}", handle(svc.GetRootBank, slotParam("slot", "slot"))},
		{"GET", "/v1/perp-markets/{slot}", handle(svc.GetPerpMarket, slotParam("slot", "slot"))},
		{"POST", "/v1/freshness", handle(svc.CheckFreshness, jsonBody)},
		{"GET", "/v1/tokens/{slot}/native", handle(svc.GetNativeBalances, nativeParams)},
		{"POST", "/v1/updates/{event_type}", handle(svc.SubmitUpdate, updateBody)},
		{"GET", "/v1/status", handle(svc.GetStatus, noParams)},
		{"POST", "/v1/snapshots", handle(svc.TakeSnapshot, noParams)},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return mux, nil
}

type requestBuilder func(r *http.Request, params map[string]string) (map[string]interface{}, error)

func handle(call func(context.Context, *structpb.Struct) (*structpb.Struct, error), build requestBuilder) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		fields, err := build(r, params)
		if err != nil {
			writeError(w, toStatus(err))
			return
		}
		in, err := structpb.NewStruct(fields)
		if err != nil {
			writeError(w, toStatus(fmt.Errorf("%w: %v", errInvalidRequest, err)))
			return
		}

		out, err := call(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out.AsMap())
	}
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

func noParams(*http.Request, map[string]string) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func slotParam(param, field string) requestBuilder {
	return func(r *http.Request, params map[string]string) (map[string]interface{}, error) {
		slot, err := strconv.Atoi(params[param])
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", errInvalidRequest, param)
		}
		return map[string]interface{}{field: slot}, nil
	}
}

func nativeParams(r *http.Request, params map[string]string) (map[string]interface{}, error) {
	fields, err := slotParam("slot", "token_slot")(r, params)
	if err != nil {
		return nil, err
	}
	if v := r.URL.Query().Get("max_age"); v != "" {
		maxAge, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: max_age must be a non-negative integer", errInvalidRequest)
		}
		fields["max_age"] = maxAge
	}
	return fields, nil
}

func readBody(r *http.Request) (map[string]interface{}, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", errInvalidRequest, err)
	}
	fields := map[string]interface{}{}
	if len(data) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", errInvalidRequest, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", errInvalidRequest)
	}
	exactNumbers(fields)
	return fields, nil
}

// exactNumbers rewrites numbers in place for structpb. Integers a float64
// holds exactly stay numbers; anything else keeps its decimal text, which
// the fixed-point fields accept, so values like 123456789012.345678901 are
// not rounded on the way to the parser.
func exactNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = exactNumbers(e)
		}
	case []interface{}:
		for i, e := range t {
			t[i] = exactNumbers(e)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil && n >= -maxExactInt && n <= maxExactInt {
			return float64(n)
		}
		return t.String()
	}
	return v
}

func jsonBody(r *http.Request, _ map[string]string) (map[string]interface{}, error) {
	return readBody(r)
}

// updateBody wraps the request body as the payload of the event type named
// in the path.
func updateBody(r *http.Request, params map[string]string) (map[string]interface{}, error) {
	payload, err := readBody(r)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"event_type": params["event_type"],
		"payload":    payload,
	}, nil
}
