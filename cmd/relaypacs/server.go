package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	// Packages
	units "github.com/docker/go-units"
	client "github.com/mutablelogic/go-client"
	pg "github.com/mutablelogic/go-pg"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	aws "github.com/mutablelogic/go-relaypacs/pkg/aws"
	chunkstore "github.com/mutablelogic/go-relaypacs/pkg/chunkstore"
	dicom "github.com/mutablelogic/go-relaypacs/pkg/dicom"
	httphandler "github.com/mutablelogic/go-relaypacs/pkg/httphandler"
	manager "github.com/mutablelogic/go-relaypacs/pkg/manager"
	notify "github.com/mutablelogic/go-relaypacs/pkg/notify"
	pacs "github.com/mutablelogic/go-relaypacs/pkg/pacs"
	registry "github.com/mutablelogic/go-relaypacs/pkg/registry"
	session "github.com/mutablelogic/go-relaypacs/pkg/session"
	version "github.com/mutablelogic/go-relaypacs/pkg/version"
	httprouter "github.com/mutablelogic/go-server/pkg/httprouter"
	httpserver "github.com/mutablelogic/go-server/pkg/httpserver"
	otel "github.com/mutablelogic/go-server/pkg/otel"
	types "github.com/mutablelogic/go-server/pkg/types"
	errgroup "golang.org/x/sync/errgroup"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type ServerCommands struct {
	Server RunServerCommand `cmd:"" name:"server" help:"Run the ingestion gateway." group:"SERVER"`
}

type RunServerCommand struct {
	Store struct {
		Chunks   string `name:"chunks" env:"RELAYPACS_CHUNK_STORE" default:"file://${CHUNKDIR}" help:"Chunk store URL (file://, s3:// or mem://)"`
		Sessions string `name:"sessions" env:"RELAYPACS_SESSION_STORE" help:"Session store URL (default is the chunk store bucket)"`
		Scratch  string `name:"scratch" env:"RELAYPACS_SCRATCH_DIR" help:"Directory for merged files"`
	} `embed:"" prefix:"store."`

	S3 struct {
		Endpoint  string `name:"endpoint" env:"RELAYPACS_S3_ENDPOINT" help:"Endpoint for S3-compatible services"`
		Region    string `name:"region" env:"RELAYPACS_S3_REGION" help:"AWS region"`
		AccessKey string `name:"access-key" env:"RELAYPACS_S3_ACCESS_KEY" help:"AWS access key"`
		SecretKey string `name:"secret-key" env:"RELAYPACS_S3_SECRET_KEY" help:"AWS secret key"`
		Anonymous bool   `name:"anonymous" env:"RELAYPACS_S3_ANONYMOUS" help:"Use anonymous credentials"`
	} `embed:"" prefix:"s3."`

	Auth struct {
		Secret    string        `name:"secret" env:"RELAYPACS_SECRET" required:"" help:"Credential signing key, at least 32 characters"`
		Issuer    string        `name:"issuer" env:"RELAYPACS_ISSUER" default:"relaypacs" help:"Credential issuer"`
		AccessTTL time.Duration `name:"access-ttl" env:"RELAYPACS_ACCESS_TTL" default:"60m" help:"Lifetime of access credentials"`
		UploadTTL time.Duration `name:"upload-ttl" env:"RELAYPACS_UPLOAD_TTL" default:"30m" help:"Lifetime of upload sessions and their credentials"`
	} `embed:"" prefix:"auth."`

	Upload struct {
		MaxSize          string        `name:"max-size" env:"RELAYPACS_MAX_UPLOAD_SIZE" default:"2GiB" help:"Maximum declared size of an upload"`
		ChunkSize        string        `name:"chunk-size" env:"RELAYPACS_CHUNK_SIZE" default:"1MiB" help:"Chunk size recommended to clients"`
		MaxChunkSize     string        `name:"max-chunk-size" env:"RELAYPACS_MAX_CHUNK_SIZE" default:"16MiB" help:"Maximum size of a chunk"`
		DuplicateWindow  time.Duration `name:"duplicate-window" env:"RELAYPACS_DUPLICATE_WINDOW" default:"24h" help:"Window in which a repeated study is a duplicate"`
		MergeConcurrency int           `name:"merge-concurrency" env:"RELAYPACS_MERGE_CONCURRENCY" default:"4" help:"Files merged at the same time"`
		SweepInterval    time.Duration `name:"sweep-interval" env:"RELAYPACS_SWEEP_INTERVAL" default:"10m" help:"Interval between expired session sweeps"`
	} `embed:"" prefix:"upload."`

	PACS struct {
		Target   string `name:"target" env:"RELAYPACS_PACS_TARGET" enum:"dcm4chee,orthanc" default:"dcm4chee" help:"PACS kind"`
		URL      string `name:"url" env:"RELAYPACS_PACS_URL" required:"" help:"DICOMweb root URL"`
		Orthanc  string `name:"orthanc" env:"RELAYPACS_ORTHANC_URL" help:"Orthanc REST URL for the fallback upload"`
		Username string `name:"username" env:"RELAYPACS_PACS_USERNAME" help:"PACS username"`
		Password string `name:"password" env:"RELAYPACS_PACS_PASSWORD" help:"PACS password"`
		Attempts int    `name:"attempts" env:"RELAYPACS_PACS_ATTEMPTS" default:"3" help:"STOW-RS attempts per upload"`
	} `embed:"" prefix:"pacs."`

	PG struct {
		URL string `name:"url" env:"RELAYPACS_PG_URL" help:"PostgreSQL URL for the study registry (default is in memory)"`
	} `embed:"" prefix:"pg."`

	AMQP struct {
		URL   string `name:"url" env:"RELAYPACS_AMQP_URL" help:"AMQP URL for upload notifications"`
		Queue string `name:"queue" env:"RELAYPACS_AMQP_QUEUE" default:"relaypacs.events" help:"AMQP queue"`
	} `embed:"" prefix:"amqp."`
}

///////////////////////////////////////////////////////////////////////////////
// COMMANDS

func (cmd *RunServerCommand) Run(app *Globals) (result error) {
	ctx := app.ctx

	// Sizes
	maxSize, err := units.RAMInBytes(cmd.Upload.MaxSize)
	if err != nil {
		return fmt.Errorf("max-size: %w", err)
	}
	chunkSize, err := units.RAMInBytes(cmd.Upload.ChunkSize)
	if err != nil {
		return fmt.Errorf("chunk-size: %w", err)
	}
	maxChunkSize, err := units.RAMInBytes(cmd.Upload.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("max-chunk-size: %w", err)
	}

	// Chunk store
	chunks, err := cmd.chunkStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open chunk store: %w", err)
	}
	defer func() { result = errors.Join(result, chunks.Close()) }()

	// Session store
	var store *session.Store
	if cmd.Store.Sessions == "" {
		store = session.NewStore(chunks.Bucket(), session.DefaultPrefix)
	} else if store, err = session.OpenStore(ctx, cmd.Store.Sessions); err != nil {
		return err
	}
	defer func() { result = errors.Join(result, store.Close()) }()

	// Credentials and sessions
	authority, err := auth.New(cmd.Auth.Secret,
		auth.WithIssuer(cmd.Auth.Issuer),
		auth.WithAccessTTL(cmd.Auth.AccessTTL),
		auth.WithUploadTTL(cmd.Auth.UploadTTL),
	)
	if err != nil {
		return err
	}
	sessions, err := session.New(ctx,
		session.WithStore(store),
		session.WithAuthority(authority),
		session.WithChunkSize(chunkSize),
		session.WithTTL(cmd.Auth.UploadTTL),
		session.WithLogger(app.Logger()),
	)
	if err != nil {
		return fmt.Errorf("failed to recover sessions: %w", err)
	}

	// Study registry
	var studies relaypacs.Registry = registry.NewMemory()
	if cmd.PG.URL != "" {
		pool, err := pg.NewPool(ctx, pg.WithURL(cmd.PG.URL))
		if err != nil {
			return fmt.Errorf("failed to connect to postgres: %w", err)
		}
		defer pool.Close()
		if studies, err = registry.NewPostgres(ctx, pool); err != nil {
			return err
		}
	}

	// Notifications
	notifier := notify.Multi{notify.Log{Logger: app.Logger()}}
	if cmd.AMQP.URL != "" {
		queue, err := notify.NewAMQP(cmd.AMQP.URL, cmd.AMQP.Queue)
		if err != nil {
			return fmt.Errorf("failed to connect to amqp: %w", err)
		}
		defer func() { result = errors.Join(result, queue.Close()) }()
		notifier = append(notifier, queue)
	}

	// Validator and forwarder
	validator, err := dicom.New()
	if err != nil {
		return err
	}
	forwarder, err := cmd.forwarder(app)
	if err != nil {
		return err
	}

	// Create the manager
	mgr, err := manager.New(ctx,
		manager.WithLogger(app.Logger()),
		manager.WithChunkStore(chunks),
		manager.WithSessions(sessions),
		manager.WithValidator(validator),
		manager.WithForwarder(forwarder),
		manager.WithRegistry(studies, cmd.Upload.DuplicateWindow),
		manager.WithNotifier(notifier),
		manager.WithMaxUploadSize(maxSize),
		manager.WithMaxChunkSize(maxChunkSize),
		manager.WithMergeConcurrency(cmd.Upload.MergeConcurrency),
	)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() { result = errors.Join(result, mgr.Close()) }()

	// Run the sweeper and the server until the context is done
	g, child := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(child, cmd.Upload.SweepInterval)
	})
	g.Go(func() error {
		return serve(child, app, mgr, authority)
	})
	return g.Wait()
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// chunkStore opens the chunk store, configuring AWS for s3:// URLs
func (cmd *RunServerCommand) chunkStore(ctx context.Context) (*chunkstore.Store, error) {
	u, err := url.Parse(cmd.Store.Chunks)
	if err != nil {
		return nil, err
	}
	opts := []chunkstore.Opt{chunkstore.WithScratchDir(cmd.Store.Scratch)}
	switch u.Scheme {
	case "file":
		opts = append(opts, chunkstore.WithCreateDir())
	case "s3":
		cfg, err := aws.NewConfig(ctx,
			aws.WithRegion(cmd.S3.Region),
			aws.WithCredentials(cmd.S3.AccessKey, cmd.S3.SecretKey, ""),
			aws.WithAnonymous(cmd.S3.Anonymous),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chunkstore.WithAWSConfig(cfg), chunkstore.WithEndpoint(cmd.S3.Endpoint))
	}
	return chunkstore.New(ctx, cmd.Store.Chunks, opts...)
}

// forwarder creates the PACS client
func (cmd *RunServerCommand) forwarder(app *Globals) (*pacs.Client, error) {
	target, err := pacs.ParseTarget(cmd.PACS.Target)
	if err != nil {
		return nil, err
	}
	opts := []pacs.Opt{
		pacs.WithTarget(target),
		pacs.WithOrthanc(cmd.PACS.Orthanc),
		pacs.WithRetry(cmd.PACS.Attempts, time.Second),
		pacs.WithLogger(app.Logger()),
	}
	if cmd.PACS.Username != "" {
		opts = append(opts, pacs.WithBasicAuth(cmd.PACS.Username, cmd.PACS.Password))
	}
	if app.Verbose {
		opts = append(opts, pacs.WithClientOpts(client.OptTrace(os.Stderr, app.Debug)))
	}
	return pacs.New(cmd.PACS.URL, opts...)
}

// serve registers HTTP handlers and runs the server until context is done.
func serve(ctx context.Context, app *Globals, mgr *manager.Manager, authority *auth.Authority) error {
	// Create the HTTP server
	srv, err := httpserver.New(app.HTTP.Addr, nil)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	} else if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	// Create the router, with request logging
	middleware := []httprouter.HTTPMiddlewareFunc{
		otel.HTTPHandlerFunc(srv.URL().Host, app.logger),
	}
	router, err := httprouter.NewRouter(ctx, srv.Router(), app.HTTP.Prefix, app.HTTP.Origin, "relaypacs", version.Version(), middleware...)
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	srv.SetHandler(router)

	// Register HTTP handlers
	if err := httphandler.RegisterHandlers(mgr, authority, router); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	} else if err := router.RegisterCatchAll(app.HTTP.Prefix, false); err != nil {
		return fmt.Errorf("failed to register handlers: %w", err)
	}

	// Run until the context is cancelled
	app.logger.InfoContext(ctx, "httpserver started", "version", version.Version(), "addr", srv.Addr(), "prefix", types.NormalisePath(app.HTTP.Prefix))
	if err := srv.Run(ctx); err != nil {
		return err
	}
	app.logger.InfoContext(context.Background(), "httpserver stopped")
	return nil
}
