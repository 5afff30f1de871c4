// Package grpc implements the gRPC transport for homenlu.
//
// The service is described by hand rather than generated from a .proto:
// requests and replies are the same JSON documents the HTTP transport uses,
// carried with the "json" content subtype (application/grpc+json). Any gRPC
// client can call it by registering a JSON codec.
//
//	service homenlu.v1.Interpreter { rpc Interpret(Message) returns (DispatchResult); }
//	service homenlu.v1.Receiver    { rpc Deliver(DispatchResult) returns (Ack); }   // targets
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"

	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/transport"
)

// Full method names.
const (
	InterpretMethod = "/homenlu.v1.Interpreter/Interpret"
	DeliverMethod   = "/homenlu.v1.Receiver/Deliver"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC payloads as JSON. Raw JSON passes through as is.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if raw, ok := v.(*json.RawMessage); ok {
		return *raw, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

// interpreterServer is the server side of homenlu.v1.Interpreter.
type interpreterServer interface {
	Interpret(ctx context.Context, msg *message.Message) (*message.DispatchResult, error)
}

var interpreterServiceDesc = grpc.ServiceDesc{
	ServiceName: "homenlu.v1.Interpreter",
	HandlerType: (*interpreterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Interpret", Handler: interpretHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "homenlu/v1/interpreter",
}

func interpretHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(interpreterServer).Interpret(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InterpretMethod}
	h := func(ctx context.Context, req any) (any, error) {
		return srv.(interpreterServer).Interpret(ctx, req.(*message.Message))
	}
	return interceptor(ctx, in, info, h)
}

// service adapts a transport.Handler to interpreterServer.
type service struct {
	handler transport.Handler
}

func (s *service) Interpret(ctx context.Context, msg *message.Message) (*message.DispatchResult, error) {
	if msg.Source == "" {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if v := md.Get("x-homenlu-source"); len(v) > 0 {
				msg.Source = v[0]
			}
		}
	}
	return s.handler(ctx, msg)
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port   int
	server *grpc.Server
}

// New creates a new gRPC transport on the given port.
func New(port int) *Transport {
	return &Transport{port: port}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Register attaches the Interpreter service backed by handler to srv.
func Register(srv *grpc.Server, handler transport.Handler) {
	srv.RegisterService(&interpreterServiceDesc, &service{handler: handler})
}

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	t.server = grpc.NewServer()
	Register(t.server, handler)

	slog.Info("grpc transport listening", "port", t.port)

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		t.server.GracefulStop()
	}()

	return t.server.Serve(lis)
}

// Interpret calls homenlu.v1.Interpreter/Interpret on conn.
func Interpret(ctx context.Context, conn grpc.ClientConnInterface, msg *message.Message) (*message.DispatchResult, error) {
	out := new(message.DispatchResult)
	if err := conn.Invoke(ctx, InterpretMethod, msg, out, grpc.CallContentSubtype("json")); err != nil {
		return nil, err
	}
	return out, nil
}

// Send delivers a payload to a gRPC target implementing homenlu.v1.Receiver.
func (t *Transport) Send(ctx context.Context, target message.Target, payload []byte) error {
	conn, err := grpc.NewClient(target.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}
	defer conn.Close()

	if target.Token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+target.Token)
	}

	req := json.RawMessage(payload)
	var ack json.RawMessage
	if err := conn.Invoke(ctx, DeliverMethod, &req, &ack, grpc.CallContentSubtype("json")); err != nil {
		return fmt.Errorf("grpc send: %w", err)
	}

	slog.Debug("grpc send success", "target", target.Endpoint, "bytes", len(payload))
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	if t.server != nil {
		t.server.GracefulStop()
	}
	return nil
}
