package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/google/renameio/v2/maybe"

	"github.com/AdguardTeam/linkd/internal/agh"
)

// defaultTimeoutShutdown is how long shutdown waits for every service to
// stop before giving up on the remaining ones.
const defaultTimeoutShutdown = 5 * time.Second

// signalHandler processes incoming OS signals and shuts the daemon down.
// linkd has no reconfiguration support, unlike its ancestor: the only
// signals that matter are the shutdown ones.
type signalHandler struct {
	// logger is used for logging the operation of the signal handler.
	logger *slog.Logger

	// signal is the channel to which OS signals are sent.
	signal chan os.Signal

	// pidFile is the path to the file where to store the PID, if any.
	pidFile string

	// runCancel stops the registry's background Run goroutine. It is
	// called before any service is shut down, so no reply or event can
	// race a service's teardown.
	runCancel context.CancelFunc

	// services are shut down, in reverse order, on a shutdown signal.
	services []agh.Service
}

// newSignalHandler returns a new signalHandler that cancels runCancel and
// then shuts down svcs. logger must not be nil.
func newSignalHandler(
	logger *slog.Logger,
	pidFile string,
	runCancel context.CancelFunc,
	svcs []agh.Service,
) (h *signalHandler) {
	h = &signalHandler{
		logger:    logger,
		signal:    make(chan os.Signal, 1),
		pidFile:   pidFile,
		runCancel: runCancel,
		services:  svcs,
	}

	notifier := osutil.DefaultSignalNotifier{}
	osutil.NotifyShutdownSignal(notifier, h.signal)

	return h
}

// handle blocks until a shutdown signal is received, then stops the
// registry and every service. ctx is used for logging and serves as the
// base for the shutdown timeout.
func (h *signalHandler) handle(ctx context.Context) (status osutil.ExitCode) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	h.writePID(ctx)

	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received", "signal", sig)

		if osutil.IsShutdownSignal(sig) {
			status = h.shutdown(ctx)

			h.removePID(ctx)

			return status
		}
	}

	// Shouldn't happen, since h.signal is currently never closed.
	panic("unexpected close of h.signal")
}

// shutdown stops the registry's Run goroutine and then shuts every service
// down in reverse start order.
func (h *signalHandler) shutdown(ctx context.Context) (status osutil.ExitCode) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutShutdown)
	defer cancel()

	h.runCancel()

	status = osutil.ExitCodeSuccess

	h.logger.InfoContext(ctx, "shutting down")
	for i := len(h.services) - 1; i >= 0; i-- {
		err := h.services[i].Shutdown(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "shutting down service", "idx", i, slogutil.KeyError, err)
			status = osutil.ExitCodeFailure
		}
	}

	return status
}

// writePID writes the PID to the file, if needed. Any errors are reported
// to log.
func (h *signalHandler) writePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	pid := os.Getpid()
	data := strconv.AppendInt(nil, int64(pid), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(h.pidFile, data, 0o644)
	if err != nil {
		h.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	h.logger.DebugContext(ctx, "wrote pid", "file", h.pidFile, "pid", pid)
}

// removePID removes the PID file, if any.
func (h *signalHandler) removePID(ctx context.Context) {
	if h.pidFile == "" {
		return
	}

	err := os.Remove(h.pidFile)
	if err != nil {
		h.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	h.logger.DebugContext(ctx, "removed pidfile", "file", h.pidFile)
}
