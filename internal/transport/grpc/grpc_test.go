package grpc

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"github.com/nadzzz/homenlu/internal/command"
	"github.com/nadzzz/homenlu/internal/message"
	"github.com/nadzzz/homenlu/internal/orchestrator"
)

func dial(t *testing.T, srv *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestInterpret(t *testing.T) {
	srv := grpc.NewServer()
	Register(srv, func(_ context.Context, msg *message.Message) (*message.DispatchResult, error) {
		return &message.DispatchResult{
			MessageID: msg.ID,
			Text:      msg.Text,
			Result: &orchestrator.Result{
				Command: command.ParsedCommand{Action: command.ActionTurnOn, DeviceType: "灯", DeviceID: "0", Parameter: "0"},
				Stage:   orchestrator.StageDirect,
			},
			Engines: message.Engines{Tagger: msg.Source},
		}, nil
	})
	conn := dial(t, srv)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-homenlu-source", "satellite-1")
	res, err := Interpret(ctx, conn, &message.Message{ID: "m-1", Text: "打开灯"})
	require.NoError(t, err)

	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, "打开灯", res.Text)
	assert.Equal(t, "satellite-1", res.Engines.Tagger)
	require.NotNil(t, res.Result)
	assert.Equal(t, command.ActionTurnOn, res.Result.Command.Action)
	assert.Equal(t, orchestrator.StageDirect, res.Result.Stage)
}

type receiver struct {
	got  chan json.RawMessage
	auth chan string
}

func (r *receiver) deliver(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	var in json.RawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	md, _ := metadata.FromIncomingContext(ctx)
	r.auth <- first(md.Get("authorization"))
	r.got <- in
	ack := json.RawMessage(`{"ok":true}`)
	return &ack, nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func TestSend(t *testing.T) {
	r := &receiver{got: make(chan json.RawMessage, 1), auth: make(chan string, 1)}
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "homenlu.v1.Receiver",
		HandlerType: (*any)(nil),
		Methods:     []grpc.MethodDesc{{MethodName: "Deliver", Handler: r.deliver}},
	}, struct{}{})

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	tr := New(0)
	err = tr.Send(context.Background(), message.Target{Endpoint: lis.Addr().String(), Token: "t0k"}, []byte(`{"message_id":"m-2"}`))
	require.NoError(t, err)

	assert.Equal(t, "Bearer t0k", <-r.auth)
	assert.JSONEq(t, `{"message_id":"m-2"}`, string(<-r.got))
}

func TestJSONCodec(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, "json", c.Name())

	raw := json.RawMessage(`{"a":1}`)
	b, err := c.Marshal(&raw)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(b))

	var out json.RawMessage
	require.NoError(t, c.Unmarshal([]byte(`[1,2]`), &out))
	assert.Equal(t, `[1,2]`, string(out))

	var msg message.Message
	require.NoError(t, c.Unmarshal([]byte(`{"text":"关灯"}`), &msg))
	assert.Equal(t, "关灯", msg.Text)
}
