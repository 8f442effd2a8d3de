// Package worker is the Go substitute for fork-based snapshot workers:
// the controller re-execs its own binary with a role flag, hands the
// child an explicit state-reconstruction frame over a pipe, and then
// talks to it as an ordinary LSP-framed JSON-RPC peer, sending requests
// on that same pipe and reading replies from a second one.
// This plays the role Controller.cpp's forkWorker/askWorkers/
// latestMatchOr play, restructured around the subprocess+pipe pattern
// from SteelMorgan-mcp-bsl-lsp-bridge's session manager (which manages
// one long-lived child; here the supervisor manages a bounded, aging
// pool of them).
package worker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/yvan-sraka/nixd/internal/transport"
)

// InitFrame is the explicit state-reconstruction snapshot a spawned
// worker reads once, before it starts serving JSON-RPC on the same
// pipe. A worker process starts with nothing: no copy-on-write
// inherited heap, no shared ASTCache, just the two pipe file
// descriptors it was spawned with — InitFrame is what gets it back to
// a usable starting state over that pipe instead. Eval workers parse
// Contents themselves (they never share the controller's ASTCache);
// option workers ignore everything but OptionsPath.
type InitFrame struct {
	Path            string `json:"path"`
	Contents        string `json:"contents"`
	Version         int    `json:"version"`
	WorkspaceVersion int   `json:"workspaceVersion"`
	OptionsPath     string `json:"optionsPath,omitempty"`
}

// EncodeInitFrame serializes f as a 4-byte big-endian length prefix
// followed by its JSON body, so the reading side can consume exactly
// the frame's bytes with io.ReadFull and hand the same pipe off to
// jsonrpc2 immediately afterward without risking a buffered read
// swallowing bytes that belong to the first real RPC message.
func EncodeInitFrame(f InitFrame) ([]byte, error) {
	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("worker: encoding init frame: %w", err)
	}
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[:4], uint32(len(body)))
	copy(out[4:], body)
	return out, nil
}

// DecodeInitFrame reads exactly one length-prefixed InitFrame from r,
// using io.ReadFull throughout so no bytes belonging to the JSON-RPC
// stream that follows are ever read ahead and discarded.
func DecodeInitFrame(r io.Reader) (InitFrame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return InitFrame{}, fmt.Errorf("worker: reading init frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return InitFrame{}, fmt.Errorf("worker: reading init frame body: %w", err)
	}
	var f InitFrame
	if err := json.Unmarshal(body, &f); err != nil {
		return InitFrame{}, fmt.Errorf("worker: decoding init frame: %w", err)
	}
	return f, nil
}

// Kind selects what a spawned child does after reconstructing its
// state: evaluate expressions, or serve the option index. Pool and its
// supervision logic are otherwise generic over Kind, so adding a third
// worker role would only mean a new Kind value and a new re-exec
// branch in cmd/nixd, not a second copy of Pool.
type Kind string

const (
	KindEval   Kind = "eval"
	KindOption Kind = "option"
)

// Worker is one spawned, running child process and its JSON-RPC
// connection. ID is a per-worker correlation tag for logging, not a
// protocol field.
type Worker struct {
	ID      string
	Kind    Kind
	Version int
	Conn    *jsonrpc2.Conn
	cmd     *exec.Cmd
	toChild *os.File
	done    chan struct{}
}

// Close terminates the child and releases its pipes. Safe to call more
// than once.
func (w *Worker) Close() {
	select {
	case <-w.done:
		return
	default:
		close(w.done)
	}
	_ = w.Conn.Close()
	_ = w.toChild.Close()
	if w.cmd != nil && w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
}

// Pool is the oldest-evicted-queue bounded set of live workers of one
// Kind, guarded by its own mutex. Eval and option pools are two
// separate Pool values precisely so that churn in one — spawning,
// evicting, broadcasting — never blocks on the other's lock.
type Pool struct {
	mu             sync.Mutex
	workers        []*Worker // oldest first
	slots          *semaphore.Weighted
	size           int
	kind           Kind
	binPath        string
	log            zerolog.Logger
	notifyHandlers map[string]transport.HandlerFunc
}

func NewPool(kind Kind, size int, binPath string, log zerolog.Logger) *Pool {
	return &Pool{kind: kind, size: size, binPath: binPath, log: log, slots: semaphore.NewWeighted(int64(size))}
}

// Handle registers fn to answer notifications named method arriving on
// any worker subsequently spawned by this pool — the controller's way of
// receiving nixd/ipc/diagnostic and nixd/ipc/finished from its children,
// which otherwise fall through the router's no-handler-registered path
// and are silently logged at Debug.
func (p *Pool) Handle(method string, fn transport.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.notifyHandlers == nil {
		p.notifyHandlers = make(map[string]transport.HandlerFunc)
	}
	p.notifyHandlers[method] = fn
}

// Spawn creates a new worker of the pool's Kind at the given workspace
// version, hands it initFrame as its reconstruction snapshot, and adds
// it to the pool, evicting the oldest worker first if the pool is
// already at capacity.
//
// Two OS pipes stand in for the parent/child shared memory a real
// fork(2) would give for free: one carries the initialization frame
// and subsequent requests from controller to child, the other carries
// the child's LSP-framed JSON-RPC replies and notifications back.
func (p *Pool) Spawn(ctx context.Context, version int, initFrame []byte) (*Worker, error) {
	p.reserveSlot()

	toChildR, toChildW, err := os.Pipe()
	if err != nil {
		p.slots.Release(1)
		return nil, fmt.Errorf("worker: creating controller-to-child pipe: %w", err)
	}
	fromChildR, fromChildW, err := os.Pipe()
	if err != nil {
		toChildR.Close()
		toChildW.Close()
		p.slots.Release(1)
		return nil, fmt.Errorf("worker: creating child-to-controller pipe: %w", err)
	}

	cmd := exec.Command(p.binPath, "-role="+string(p.kind))
	cmd.ExtraFiles = []*os.File{toChildR, fromChildW}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		toChildR.Close()
		toChildW.Close()
		fromChildR.Close()
		fromChildW.Close()
		p.slots.Release(1)
		return nil, fmt.Errorf("worker: starting child: %w", err)
	}

	// The parent's own ends of the child's fds are no longer needed
	// once the child has inherited them.
	_ = toChildR.Close()
	_ = fromChildW.Close()

	if _, err := toChildW.Write(initFrame); err != nil {
		toChildW.Close()
		fromChildR.Close()
		_ = cmd.Process.Kill()
		p.slots.Release(1)
		return nil, fmt.Errorf("worker: writing init frame: %w", err)
	}

	rwc := transport.Combine(fromChildR, toChildW)
	router := transport.NewRouter(p.log)
	p.mu.Lock()
	for method, fn := range p.notifyHandlers {
		router.Register(method, fn)
	}
	p.mu.Unlock()
	conn := transport.Serve(ctx, rwc, router)

	w := &Worker{
		ID:      uuid.NewString(),
		Kind:    p.kind,
		Version: version,
		Conn:    conn,
		cmd:     cmd,
		toChild: toChildW,
		done:    make(chan struct{}),
	}

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()
	p.log.Debug().Str("worker", w.ID).Int("version", version).Str("kind", string(p.kind)).Msg("spawned worker")
	return w, nil
}

// reserveSlot acquires one of the pool's size-bounded slots, evicting
// the oldest live worker first if the pool is already full. The
// weighted semaphore is sized to the pool's configured capacity
// (eval.workers for the eval pool; the controller gives the option pool
// a capacity of 1), so a pool never holds more live worker processes than that regardless
// of how fast requests arrive.
func (p *Pool) reserveSlot() {
	if p.size <= 0 {
		return
	}
	for !p.slots.TryAcquire(1) {
		p.mu.Lock()
		if len(p.workers) == 0 {
			p.mu.Unlock()
			// Pool size is 0 or a race freed a slot; retry the acquire.
			continue
		}
		evicted := p.workers[0]
		p.workers = p.workers[1:]
		p.mu.Unlock()
		go evicted.Close()
		p.slots.Release(1)
		p.log.Debug().Str("worker", evicted.ID).Msg("evicted oldest worker to make room")
	}
}

// Snapshot returns the current pool members, oldest first, without
// holding the pool lock for the caller's duration.
func (p *Pool) Snapshot() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Len reports the number of live workers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// CloseAll terminates every worker in the pool, for shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	workers := p.workers
	p.workers = nil
	p.mu.Unlock()
	for _, w := range workers {
		w.Close()
		p.slots.Release(1)
	}
}

// Reply pairs a worker's age-ordered identity with its answer (or
// error) to one broadcast request.
type Reply struct {
	Worker *Worker
	Result interface{}
	Err    error
}

// AskWorkers broadcasts method/params to every worker currently in the
// pool and collects replies until either all have answered or deadline
// elapses, whichever comes first. It uses an errgroup, bound to the
// pool's current size, to fan the broadcast out concurrently; a
// per-worker timeout (rather than g.Wait() itself failing fast) is
// what lets slower workers still contribute a late-but-useful reply
// right up to the deadline. The returned slice is always ordered
// oldest-to-newest regardless of reply arrival order, so callers can
// walk it backward to find the newest usable answer.
func AskWorkers(ctx context.Context, pool *Pool, method string, params interface{}, deadline time.Duration) []Reply {
	workers := pool.Snapshot()
	if len(workers) == 0 {
		return nil
	}

	askCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	replies := make([]Reply, len(workers))
	answered := make([]bool, len(workers))
	var mu sync.Mutex

	g, _ := errgroup.WithContext(askCtx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			var result json.RawMessage
			err := w.Conn.Call(askCtx, method, params, &result)
			mu.Lock()
			replies[i] = Reply{Worker: w, Result: result, Err: err}
			answered[i] = true
			mu.Unlock()
			return nil // a single worker's error is carried in Reply.Err, not the group's error
		})
	}
	_ = g.Wait()

	out := make([]Reply, 0, len(workers))
	for i, ok := range answered {
		if ok {
			out = append(out, replies[i])
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Worker.Version < out[b].Worker.Version })
	return out
}

// LatestMatchOr searches replies from newest to oldest and returns the
// first one satisfying pred; if none does, it returns def. The newest
// worker's snapshot reflects the most recent edit, so its answer wins
// whenever it has one; older workers are fallbacks for a newest worker
// that has not finished bootstrapping yet.
func LatestMatchOr(replies []Reply, pred func(Reply) bool, def Reply) Reply {
	for i := len(replies) - 1; i >= 0; i-- {
		if pred(replies[i]) {
			return replies[i]
		}
	}
	return def
}
