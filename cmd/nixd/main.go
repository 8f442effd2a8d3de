package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/yvan-sraka/nixd/internal/config"
	"github.com/yvan-sraka/nixd/internal/controller"
	"github.com/yvan-sraka/nixd/internal/logging"
	"github.com/yvan-sraka/nixd/internal/transport"
	"github.com/yvan-sraka/nixd/internal/worker"
	"github.com/yvan-sraka/nixd/internal/workerrole"
)

// Worker roles inherit fd 3 and 4 as their controller-facing pipe pair
// (Pool.Spawn's cmd.ExtraFiles), the Go substitute for the shared memory
// a forked child would get for free.
const (
	workerInFD  = 3
	workerOutFD = 4
)

func main() {
	role := flag.String("role", "controller", "process role: controller, eval, or option")
	flag.Parse()

	ctx := context.Background()

	switch *role {
	case string(worker.KindEval):
		runWorker(ctx, *role, workerrole.RunEval)
	case string(worker.KindOption):
		runWorker(ctx, *role, workerrole.RunOption)
	default:
		runController(ctx)
	}
}

// runWorker hands the worker body its inherited pipe pair: fd 3 is the
// controller-to-worker end (carrying the init frame, then requests), fd
// 4 is the worker-to-controller end. A failure here is fatal: a worker
// with no way to talk to its controller is useless.
func runWorker(ctx context.Context, role string, run func(context.Context, io.Reader, io.Writer, zerolog.Logger) error) {
	log := logging.New("info", role)
	in := os.NewFile(workerInFD, "worker-in")
	out := os.NewFile(workerOutFD, "worker-out")
	if err := run(ctx, in, out, log); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		os.Exit(1)
	}
}

func runController(ctx context.Context) {
	bootLog := logging.New("info", "controller")
	cfg := config.Load(bootLog)
	log := logging.New(cfg.LogLevel, "controller")

	binPath, err := os.Executable()
	if err != nil {
		log.Error().Err(err).Msg("could not determine own executable path, workers cannot be spawned")
		os.Exit(1)
	}

	ctrl := controller.New(cfg, binPath, log)

	rwc := transport.Combine(os.Stdin, os.Stdout)
	conn := transport.Serve(ctx, rwc, ctrl.Router())
	ctrl.SetClientConn(conn)

	select {
	case <-ctrl.Done:
	case <-conn.DisconnectNotify():
	}
}
