// Command linkd matches kernel-discovered network links to declarative
// profiles, enslaves them to bridge/bond/VLAN/MACVLAN devices, brings them
// up, acquires IPv4 addresses, and installs routes, reacting to carrier and
// DHCP/IPv4LL events as they happen.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"

	"github.com/AdguardTeam/linkd/internal/agh"
	"github.com/AdguardTeam/linkd/internal/config"
	"github.com/AdguardTeam/linkd/internal/hostnamed"
	"github.com/AdguardTeam/linkd/internal/link"
	"github.com/AdguardTeam/linkd/internal/linkreg"
	"github.com/AdguardTeam/linkd/internal/netdev"
	"github.com/AdguardTeam/linkd/internal/resolvconf"
	"github.com/AdguardTeam/linkd/internal/rtdesc"
	"github.com/AdguardTeam/linkd/internal/statusfile"
	"github.com/AdguardTeam/linkd/internal/version"
)

func main() {
	ctx := context.Background()

	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:])
	exitCode, needExit := processOptions(opts, cmdName, err)
	if needExit {
		os.Exit(int(exitCode))
	}

	baseLogger, err := newBaseLogger(opts)
	errors.Check(err)

	baseLogger.InfoContext(
		ctx,
		"starting linkd",
		"version", version.Version(),
		"pid", os.Getpid(),
	)

	if opts.workDir != "" {
		baseLogger.InfoContext(ctx, "changing working directory", "dir", opts.workDir)

		err = os.Chdir(opts.workDir)
		errors.Check(err)
	}

	conf, err := config.Read(opts.confFile)
	errors.Check(err)

	svcs, registry, err := buildServices(baseLogger, conf)
	errors.Check(err)

	for i, svc := range svcs {
		err = svc.Start()
		if err != nil {
			baseLogger.ErrorContext(ctx, "starting service", "idx", i, slogutil.KeyError, err)
			os.Exit(int(osutil.ExitCodeFailure))
		}
	}

	err = registry.Bootstrap()
	errors.Check(err)

	runCtx, runCancel := context.WithCancel(ctx)
	go func() {
		runErr := registry.Run(runCtx)
		if runErr != nil {
			baseLogger.ErrorContext(ctx, "registry stopped", slogutil.KeyError, runErr)
		}
	}()

	sigHdlr := newSignalHandler(
		baseLogger.With(slogutil.KeyPrefix, "signal"),
		opts.pidFile,
		runCancel,
		svcs,
	)

	os.Exit(int(sigHdlr.handle(ctx)))
}

// buildServices wires every long-running component from conf and returns
// them in the order they must be started (and, in reverse, shut down),
// along with the registry itself for Bootstrap/Run.
func buildServices(
	baseLogger *slog.Logger,
	conf *config.Config,
) (svcs []agh.Service, registry *linkreg.Registry, err error) {
	rt, err := rtdesc.Dial()
	if err != nil {
		return nil, nil, fmt.Errorf("dialing rtnetlink: %w", err)
	}

	sink := statusfile.New(baseLogger, conf.LinksDir, conf.LeasesDir)
	hostnamed := hostnamed.New(baseLogger)
	matcher := config.NewMatcher(conf)
	attacher := netdev.New(rt)

	var resolv link.ResolvConfWriter
	if conf.ResolvConfPath != "" {
		resolv = resolvconf.New(baseLogger, conf.ResolvConfPath)
	}

	registry = linkreg.New(
		baseLogger,
		rt,
		attacher,
		matcher,
		config.NilUdev{},
		resolv,
		hostnamed,
		sink,
		sink,
	)

	return []agh.Service{sink, hostnamed, registry}, registry, nil
}
