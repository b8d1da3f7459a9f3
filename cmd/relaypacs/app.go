package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	// Packages
	kong "github.com/alecthomas/kong"
	client "github.com/mutablelogic/go-client"
	httpclient "github.com/mutablelogic/go-relaypacs/pkg/httpclient"
	logger "github.com/mutablelogic/go-server/pkg/logger"
	types "github.com/mutablelogic/go-server/pkg/types"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type Globals struct {
	Debug   bool   `name:"debug" help:"Enable debug logging"`
	Verbose bool   `name:"verbose" help:"Trace client requests"`
	JSON    bool   `name:"json" env:"RELAYPACS_LOG_JSON" help:"Log in JSON format"`
	URL     string `name:"url" env:"RELAYPACS_URL" help:"Gateway URL for client commands (default is derived from --http.addr and --http.prefix)"`

	HTTP struct {
		Addr    string        `name:"addr" env:"RELAYPACS_ADDR" default:"localhost:8080" help:"Server listen address"`
		Prefix  string        `name:"prefix" env:"RELAYPACS_PREFIX" default:"/api/relaypacs" help:"Path prefix for the API"`
		Origin  string        `name:"origin" env:"RELAYPACS_ORIGIN" default:"" help:"Allowed cross-origin requests, or * for any"`
		Timeout time.Duration `name:"timeout" env:"RELAYPACS_TIMEOUT" default:"30s" help:"Client request timeout"`
	} `embed:"" prefix:"http."`

	vars   kong.Vars `kong:"-"` // Variables for kong
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// printer adapts the structured logger to the Print and Printf methods
// used by the gateway components
type printer struct {
	*slog.Logger
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

func NewApp(app Globals, vars kong.Vars) (*Globals, error) {
	// Set the vars
	app.vars = vars

	// Create the logger
	var level slog.LevelVar
	if app.Debug {
		level.Set(logger.LevelDebug)
	}
	if app.JSON {
		app.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	} else {
		app.logger = slog.New(logger.NewTermHandler(os.Stderr, &level))
	}

	// Create the context
	// This context is cancelled when the process receives a SIGINT or SIGTERM
	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Return the app
	return &app, nil
}

func (app *Globals) Close() error {
	app.cancel()
	return nil
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Logger returns the logger passed to the gateway components
func (app *Globals) Logger() printer {
	return printer{app.logger}
}

func (p printer) Print(ctx context.Context, v ...any) {
	p.InfoContext(ctx, fmt.Sprint(v...))
}

func (p printer) Printf(ctx context.Context, format string, v ...any) {
	p.InfoContext(ctx, fmt.Sprintf(format, v...))
}

// Client builds a gateway HTTP client from the global flags.
func (app *Globals) Client() (*httpclient.Client, error) {
	endpoint, err := app.clientEndpoint()
	if err != nil {
		return nil, err
	}
	opts := []client.ClientOpt{}
	if app.Verbose {
		opts = append(opts, client.OptTrace(os.Stderr, app.Debug))
	}
	if app.HTTP.Timeout > 0 {
		opts = append(opts, client.OptTimeout(app.HTTP.Timeout))
	}
	return httpclient.New(endpoint, opts...)
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (app *Globals) clientEndpoint() (string, error) {
	if app.URL != "" {
		return strings.TrimSuffix(app.URL, "/"), nil
	}
	scheme := "http"
	host, port, err := net.SplitHostPort(app.HTTP.Addr)
	if err != nil {
		return "", err
	}
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	portn, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return "", err
	}
	if portn == 443 {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%v%s", scheme, host, portn, types.NormalisePath(app.HTTP.Prefix)), nil
}
