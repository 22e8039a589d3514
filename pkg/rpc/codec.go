// Package rpc lets ConnectRPC handlers and clients exchange plain Go structs
// encoded as JSON, so services can expose procedures without generated stubs.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// CodecName replaces connect's built-in protobuf-only "json" codec.
const CodecName = "json"

type jsonCodec struct{}

var _ connect.Codec = jsonCodec{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return body, nil
}

func (jsonCodec) Unmarshal(body []byte, msg any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}

// WithJSON registers the struct JSON codec. The returned option is valid for
// both handlers and clients.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

// NewUnaryHandler wraps a plain function as a connect unary handler.
func NewUnaryHandler[Req, Res any](
	procedure string,
	fn func(context.Context, *connect.Request[Req]) (*connect.Response[Res], error),
	opts ...connect.HandlerOption,
) *connect.Handler {
	return connect.NewUnaryHandler(procedure, fn, append([]connect.HandlerOption{WithJSON()}, opts...)...)
}

// NewClient returns a unary client for procedure at baseURL.
func NewClient[Req, Res any](httpClient connect.HTTPClient, baseURL, procedure string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	opts = append([]connect.ClientOption{WithJSON()}, opts...)
	return connect.NewClient[Req, Res](httpClient, baseURL+procedure, opts...)
}
