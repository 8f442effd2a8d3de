package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
)

func newConnPair(t *testing.T, router *Router) (client *jsonrpc2.Conn, closeAll func()) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	ctx := context.Background()
	serverConn := Serve(ctx, serverSide, router)

	clientConn := jsonrpc2.NewConn(ctx, jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{}), noopHandler{})
	return clientConn, func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	}
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

func TestRouterEchoRoundTrip(t *testing.T) {
	log := zerolog.Nop()
	router := NewRouter(log)
	router.Register("echo", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		var m map[string]string
		if err := json.Unmarshal(params, &m); err != nil {
			return nil, err
		}
		return m, nil
	})

	client, closeAll := newConnPair(t, router)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result map[string]string
	if err := client.Call(ctx, "echo", map[string]string{"hello": "world"}, &result); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	if result["hello"] != "world" {
		t.Errorf("got %+v, want hello=world", result)
	}
}

func TestRouterMethodNotFound(t *testing.T) {
	log := zerolog.Nop()
	router := NewRouter(log)

	client, closeAll := newConnPair(t, router)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result interface{}
	err := client.Call(ctx, "nonexistent", nil, &result)
	if err == nil {
		t.Fatalf("expected an error for an unregistered method")
	}
}

func TestRouterRecoversFromPanic(t *testing.T) {
	log := zerolog.Nop()
	router := NewRouter(log)
	router.Register("boom", func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		panic("deliberate test panic")
	})

	client, closeAll := newConnPair(t, router)
	defer closeAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result interface{}
	err := client.Call(ctx, "boom", nil, &result)
	if err != nil {
		t.Fatalf("expected a null reply, not a transport error, got: %v", err)
	}
	if result != nil {
		t.Errorf("got %+v, want a null result after recovered panic", result)
	}
}
