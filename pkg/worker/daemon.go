package worker

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// DaemonProcess is a long-running loop that stops when its context is
// canceled. The Processor and the queue reaper both satisfy it.
type DaemonProcess interface {
	Run(ctx context.Context)
}

// DaemonServer runs a set of processes until SIGINT or SIGTERM, then cancels
// them and waits briefly for a clean drain.
type DaemonServer struct {
	processes []DaemonProcess
	drainWait time.Duration
}

func NewDaemonServer(processes ...DaemonProcess) *DaemonServer {
	return &DaemonServer{
		processes: processes,
		drainWait: 30 * time.Second,
	}
}

func (ds *DaemonServer) Serve() {
	if len(ds.processes) == 0 {
		log.Error("no daemon processes configured, exiting")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := sync.WaitGroup{}

	for _, process := range ds.processes {
		wg.Add(1)
		p := process
		go func() {
			defer wg.Done()
			p.Run(ctx)
		}()
	}

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChannel

	log.Infof("received shutdown signal: %v", sig)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		log.Info("all daemon processes drained")
	case <-time.After(ds.drainWait):
		log.Warn("timed out waiting for daemon processes to drain")
	}
}
