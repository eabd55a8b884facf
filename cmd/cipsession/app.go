package main

// Shared wiring between subcommands: configuration, logging, registry,
// orchestrator, and facade construction.

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tturner/cipsession/internal/assembly"
	"github.com/tturner/cipsession/internal/cip"
	"github.com/tturner/cipsession/internal/cipfacade"
	"github.com/tturner/cipsession/internal/config"
	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
	"github.com/tturner/cipsession/internal/session"
	"github.com/tturner/cipsession/internal/telemetry"
)

type commonFlags struct {
	host       string
	port       int
	configPath string
	deviceXML  string
	logFile    string
	verbose    bool
	debug      bool
}

// app holds the one-process wiring of the core components.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	registry *assembly.Registry
	orch     *session.Orchestrator
	facade   *cipfacade.Facade
}

func newApp(flags *commonFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, cerr.WrapConfigError(err, flags.configPath)
	}
	if flags.host != "" {
		cfg.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Port = flags.port
	}
	cfg.ApplyWireOptions()

	level := logging.LogLevelInfo
	if flags.verbose {
		level = logging.LogLevelVerbose
	}
	if flags.debug {
		level = logging.LogLevelDebug
	}
	logger, err := logging.NewLogger(level, flags.logFile)
	if err != nil {
		return nil, err
	}
	logger.LogStartup(cfg.Host, cfg.Port, cfg.PoolSize, flags.configPath)

	metrics := telemetry.New()
	registry := assembly.NewRegistry(logger)
	if flags.deviceXML != "" {
		payload, err := os.ReadFile(flags.deviceXML)
		if err != nil {
			return nil, cerr.WrapConfigError(fmt.Errorf("read device configuration: %w", err), flags.deviceXML)
		}
		if err := registry.Load(payload); err != nil {
			return nil, cerr.WrapConfigError(err, flags.deviceXML)
		}
	}

	orch := session.New(cfg, logger, metrics)
	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		orch:     orch,
		facade:   cipfacade.New(orch, registry),
	}, nil
}

func (a *app) close() {
	a.orch.CloseAll(context.Background())
	a.logger.Close()
}

// withSession opens a session, runs fn, and closes the session again.
// Errors are wrapped into their user-friendly presentation form on the way
// out; operation names the command for the CIP-failure message.
func (a *app) withSession(ctx context.Context, operation string, fn func(sessionID string) error) error {
	diag, err := a.orch.Open(ctx, "", 0)
	if err != nil {
		return cerr.WrapNetworkError(err, a.cfg.Host, a.cfg.Port)
	}
	defer a.orch.Close(ctx, diag.SessionID)
	return a.presentError(operation, fn(diag.SessionID))
}

// presentError wraps a taxonomy error into the UserFriendlyError shape for
// terminal output. Transport-shaped kinds get the network wrapper with the
// endpoint; everything else gets the CIP wrapper naming the operation.
func (a *app) presentError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var e *cerr.Error
	if stderrors.As(err, &e) {
		switch e.Kind {
		case cerr.KindTransport, cerr.KindEnipProtocol, cerr.KindPoolTimeout, cerr.KindPoolClosed:
			return cerr.WrapNetworkError(err, a.cfg.Host, a.cfg.Port)
		}
	}
	return cerr.WrapCIPError(err, operation)
}

// serveMetrics exposes the app's prometheus registry on listen, for
// scraping while a long-running command holds sessions open.
func (a *app) serveMetrics(listen string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(listen, mux); err != nil {
			a.logger.Error("metrics endpoint: %v", err)
		}
	}()
	fmt.Printf("metrics on http://%s/metrics\n", listen)
}

// promptHostIfMissing interactively asks for the endpoint host when no
// --host flag was given and stdin is a terminal. The configuration file is
// not consulted; an empty answer keeps the configured host.
func promptHostIfMissing(flags *commonFlags) error {
	if flags.host != "" {
		return nil
	}
	if fi, err := os.Stdin.Stat(); err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		return nil
	}

	var host string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("PLC host").
			Description("IP or hostname of the EtherNet/IP endpoint (empty keeps the configured default)").
			Value(&host),
	))
	if err := form.Run(); err != nil {
		return err
	}
	flags.host = strings.TrimSpace(host)
	return nil
}

// parsePath parses "class/instance[/attribute]" with 0x-prefixed hex
// accepted per component.
func parsePath(raw string) (cip.CIPPath, error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return cip.CIPPath{}, fmt.Errorf("path must be class/instance or class/instance/attribute, got %q", raw)
	}
	values := make([]uint16, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 0, 16)
		if err != nil {
			return cip.CIPPath{}, fmt.Errorf("path component %q: %w", part, err)
		}
		values[i] = uint16(v)
	}
	if len(values) == 2 {
		return cip.ClassInstance(values[0], values[1]), nil
	}
	return cip.ClassInstanceAttribute(values[0], values[1], values[2]), nil
}
