package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/yvan-sraka/nixd/internal/transport"
)

func TestInitFrameRoundTrip(t *testing.T) {
	want := InitFrame{Path: "/tmp/x.nix", Contents: "1 + 1", Version: 3, WorkspaceVersion: 7, OptionsPath: "/etc/options.json"}
	encoded, err := EncodeInitFrame(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeInitFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestInitFrameLeavesTrailingBytesUntouched(t *testing.T) {
	f := InitFrame{Path: "/tmp/x.nix", Contents: "1", Version: 1}
	encoded, err := EncodeInitFrame(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	trailer := []byte("trailing-rpc-bytes")
	buf := bytes.NewReader(append(encoded, trailer...))

	if _, err := DecodeInitFrame(buf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	rest := make([]byte, len(trailer))
	if _, err := buf.Read(rest); err != nil {
		t.Fatalf("reading trailer: %v", err)
	}
	if string(rest) != string(trailer) {
		t.Errorf("got %q, want trailer %q untouched", rest, trailer)
	}
}

// fakeWorker wires a Worker's Conn to an in-process jsonrpc2 peer over
// net.Pipe, standing in for a real spawned child so Pool/AskWorkers
// logic can be exercised without executing a subprocess.
func fakeWorker(t *testing.T, version int, handler transport.HandlerFunc, method string) *Worker {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	router := transport.NewRouter(zerolog.Nop())
	if handler != nil {
		router.Register(method, handler)
	}
	_ = transport.Serve(context.Background(), serverSide, router)

	clientRouter := transport.NewRouter(zerolog.Nop())
	clientConn := transport.Serve(context.Background(), clientSide, clientRouter)

	w := &Worker{
		ID:      "test-worker",
		Kind:    KindEval,
		Version: version,
		Conn:    clientConn,
		done:    make(chan struct{}),
	}
	t.Cleanup(func() { _ = clientConn.Close() })
	return w
}

func TestAskWorkersOrdersOldestToNewestAndCollectsReplies(t *testing.T) {
	echo := func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return map[string]int{"ok": 1}, nil
	}

	pool := NewPool(KindEval, 4, "", zerolog.Nop())
	pool.workers = []*Worker{
		fakeWorker(t, 1, echo, "probe"),
		fakeWorker(t, 3, echo, "probe"),
		fakeWorker(t, 2, echo, "probe"),
	}

	replies := AskWorkers(context.Background(), pool, "probe", nil, 2*time.Second)
	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	for i := 1; i < len(replies); i++ {
		if replies[i-1].Worker.Version > replies[i].Worker.Version {
			t.Errorf("replies not ordered oldest-to-newest: %+v", replies)
		}
	}
}

func TestAskWorkersNoWorkersReturnsNil(t *testing.T) {
	pool := NewPool(KindEval, 4, "", zerolog.Nop())
	replies := AskWorkers(context.Background(), pool, "probe", nil, 100*time.Millisecond)
	if replies != nil {
		t.Errorf("got %+v, want nil for an empty pool", replies)
	}
}

func TestAskWorkersCollectsBothSuccessAndErrorReplies(t *testing.T) {
	fast := func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (interface{}, error) {
		return "fast", nil
	}

	pool := NewPool(KindEval, 4, "", zerolog.Nop())
	pool.workers = []*Worker{
		fakeWorker(t, 1, fast, "probe"),
		fakeWorker(t, 2, nil, "probe"), // no handler registered: replies with a method-not-found error
	}

	replies := AskWorkers(context.Background(), pool, "probe", nil, 2*time.Second)
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	foundFast, foundErr := false, false
	for _, r := range replies {
		if r.Err == nil {
			var s string
			if err := json.Unmarshal(r.Result.(json.RawMessage), &s); err == nil && s == "fast" {
				foundFast = true
			}
		} else {
			foundErr = true
		}
	}
	if !foundFast {
		t.Errorf("expected the fast worker's reply among %+v", replies)
	}
	if !foundErr {
		t.Errorf("expected the unregistered worker's reply to carry an error among %+v", replies)
	}
}

func TestLatestMatchOrPrefersNewest(t *testing.T) {
	replies := []Reply{
		{Worker: &Worker{Version: 1}, Result: "old"},
		{Worker: &Worker{Version: 2}, Result: "newer"},
		{Worker: &Worker{Version: 3}, Result: nil},
	}
	nonEmpty := func(r Reply) bool { return r.Result != nil }

	got := LatestMatchOr(replies, nonEmpty, Reply{Result: "default"})
	if got.Result != "newer" {
		t.Errorf("got %+v, want the newest non-nil reply (version 2)", got)
	}
}

func TestLatestMatchOrFallsBackToDefault(t *testing.T) {
	replies := []Reply{
		{Worker: &Worker{Version: 1}, Result: nil},
		{Worker: &Worker{Version: 2}, Result: nil},
	}
	never := func(Reply) bool { return false }

	got := LatestMatchOr(replies, never, Reply{Result: "default"})
	if got.Result != "default" {
		t.Errorf("got %+v, want the default", got)
	}
}

func TestPoolReserveSlotEvictsOldestWhenFull(t *testing.T) {
	pool := NewPool(KindEval, 2, "", zerolog.Nop())
	oldest := fakeWorker(t, 1, nil, "")
	middle := fakeWorker(t, 2, nil, "")
	pool.workers = []*Worker{oldest, middle}
	pool.slots.TryAcquire(2)

	pool.reserveSlot()

	if len(pool.workers) != 1 {
		t.Fatalf("got %d workers after eviction, want 1", len(pool.workers))
	}
	if pool.workers[0] != middle {
		t.Errorf("expected the oldest worker to be evicted, kept %+v", pool.workers[0])
	}
}

func TestPoolSnapshotAndLen(t *testing.T) {
	pool := NewPool(KindOption, 4, "", zerolog.Nop())
	pool.workers = []*Worker{fakeWorker(t, 1, nil, ""), fakeWorker(t, 2, nil, "")}

	if pool.Len() != 2 {
		t.Errorf("got Len() %d, want 2", pool.Len())
	}
	snap := pool.Snapshot()
	if len(snap) != 2 {
		t.Errorf("got snapshot length %d, want 2", len(snap))
	}
}
