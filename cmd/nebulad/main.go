// Command nebulad is the server binary: it loads configuration, wires the Database Registry, the backend
// connection pool, the binary wire Protocol Engine, the HTTP adapter, and (optionally) cross-process
// invalidation broadcast into one running process, and serves connections until signaled to stop.
package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebuladb/nebula-core/auth"
	"github.com/nebuladb/nebula-core/backend"
	"github.com/nebuladb/nebula-core/broadcast"
	"github.com/nebuladb/nebula-core/catalog"
	"github.com/nebuladb/nebula-core/config"
	"github.com/nebuladb/nebula-core/database"
	"github.com/nebuladb/nebula-core/httpapi"
	"github.com/nebuladb/nebula-core/logging"
	"github.com/nebuladb/nebula-core/protocol"
	redisclient "github.com/nebuladb/nebula-core/redis"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "/etc/nebula/nebulad.yml"

// cliFlags is nebulad's command-line flags, satisfying config.Flags so config.Load can find the YAML
// config file before anything else is parsed.
type cliFlags struct {
	Config string `short:"c" long:"config" description:"Path to config file"`
}

func (f cliFlags) GetConfigPath() string {
	if f.Config == "" {
		return defaultConfigPath
	}

	return f.Config
}

func (f cliFlags) IsExplicitConfigPath() bool { return f.Config != "" }

// serverConfig is nebulad's top-level configuration: the listen addresses plus one nested Config per
// SPEC_FULL.md component, each validated the way its own package already validates itself.
type serverConfig struct {
	// Listen is the binary wire protocol's listen address.
	Listen string `yaml:"listen" env:"LISTEN" default:":5656"`

	// HTTPListen is the HTTP adapter's listen address.
	HTTPListen string `yaml:"http_listen" env:"HTTP_LISTEN" default:":5657"`

	MinProtocolMajor uint16 `yaml:"min_protocol_major" env:"MIN_PROTOCOL_MAJOR" default:"0"`
	MinProtocolMinor uint16 `yaml:"min_protocol_minor" env:"MIN_PROTOCOL_MINOR" default:"9"`
	MaxProtocolMajor uint16 `yaml:"max_protocol_major" env:"MAX_PROTOCOL_MAJOR" default:"1"`
	MaxProtocolMinor uint16 `yaml:"max_protocol_minor" env:"MAX_PROTOCOL_MINOR" default:"0"`

	// SystemDatabases names databases clients may never connect to directly.
	SystemDatabases []string `yaml:"system_databases" default:"[\"system\"]"`

	// QueryCacheEnabled controls whether new connections' compiled-query cache lookups are active.
	QueryCacheEnabled bool `yaml:"query_cache_enabled" default:"true"`

	// AuthMethod selects the auth.Method new connections authenticate against: "trust", "scram-sha-256",
	// or "jwt". The latter two fail closed until a real Verify callback is wired in, matching the
	// documented extension points in package auth.
	AuthMethod string `yaml:"auth_method" env:"AUTH_METHOD" default:"trust"`

	Backend backend.Config `yaml:"backend"`
	Logging logging.Config `yaml:"logging"`

	// Redis, when set, enables cross-process dbver invalidation broadcast over Redis pub/sub.
	Redis *redisclient.Config `yaml:"redis"`
}

func (c *serverConfig) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errors.Wrapf(err, "invalid listen address %q", c.Listen)
	}

	if _, _, err := net.SplitHostPort(c.HTTPListen); err != nil {
		return errors.Wrapf(err, "invalid http_listen address %q", c.HTTPListen)
	}

	switch c.AuthMethod {
	case "trust", "scram-sha-256", "jwt":
	default:
		return errors.Errorf("unknown auth_method %q", c.AuthMethod)
	}

	if err := c.Logging.Validate(); err != nil {
		return errors.WithStack(err)
	}

	if c.Redis != nil {
		if err := c.Redis.Validate(); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

func authMethodFromConfig(name string) auth.Method {
	switch name {
	case "scram-sha-256":
		return auth.SCRAM{}
	case "jwt":
		return auth.JWT{}
	default:
		return auth.Trust{}
	}
}

// stubCompiler stands in for the out-of-scope EdgeQL/GraphQL-equivalent compiler pool: it fails every
// compile request with a clear message rather than pretending to plan SQL it was never built to plan.
// A real deployment supplies its own protocol.Compiler implementation in its place.
type stubCompiler struct{}

func (stubCompiler) Compile(context.Context, protocol.CompileRequest) (*catalog.QueryUnitGroup, error) {
	return nil, errors.New("no query compiler configured")
}

func main() {
	var flags cliFlags
	if err := config.ParseFlags(&flags); err != nil {
		os.Exit(2)
	}

	var cfg serverConfig
	if err := config.Load(&cfg, config.LoadOptions{Flags: flags}); err != nil {
		zap.S().Fatalf("can't load configuration: %v", err)
	}

	logs, err := logging.NewLoggingFromConfig("nebulad", cfg.Logging)
	if err != nil {
		zap.S().Fatalf("can't set up logging: %v", err)
	}
	logger := logs.GetChildLogger("main")

	database.Register(logs.GetChildLogger("database"))

	registry := catalog.NewRegistry()

	pool, err := backend.NewPool(cfg.Backend, logs.GetChildLogger("backend"), database.RetryConnectorCallbacks{})
	if err != nil {
		logger.Fatalw("can't open backend connection pool", "error", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var publisher *broadcast.Publisher
	if cfg.Redis != nil {
		redisClient, err := redisclient.NewClientFromConfig(cfg.Redis, logs.GetChildLogger("redis"))
		if err != nil {
			logger.Fatalw("can't connect to redis", "error", err)
		}
		defer redisClient.Close()

		publisher = broadcast.NewPublisher(redisClient, logs.GetChildLogger("broadcast"))

		subscriber := broadcast.NewSubscriber(redisClient, registry, logs.GetChildLogger("broadcast"))
		go func() {
			if err := subscriber.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Errorw("dbver invalidation subscriber stopped", "error", err)
			}
		}()
	}

	engineCfg := protocol.Config{
		MinProtocol:         protocol.ProtocolVersion{Major: cfg.MinProtocolMajor, Minor: cfg.MinProtocolMinor},
		MaxProtocol:         protocol.ProtocolVersion{Major: cfg.MaxProtocolMajor, Minor: cfg.MaxProtocolMinor},
		SystemDatabases:     cfg.SystemDatabases,
		DefaultCapabilities: ^catalog.Capability(0),
		QueryCacheEnabled:   cfg.QueryCacheEnabled,
	}

	engine := protocol.NewEngine(engineCfg, registry, stubCompiler{}, pool, authMethodFromConfig(cfg.AuthMethod), logs.GetChildLogger("protocol"))
	engine.SetPublisher(publisher)
	// No DumpRestorer configured: Dump and Restore frames fail closed with UnsupportedFeatureError.

	httpHandler := httpapi.NewHandler(registry, pool, logs.GetChildLogger("httpapi"))
	httpServer := &http.Server{Addr: cfg.HTTPListen, Handler: httpHandler.Router()}

	listener, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatalw("can't listen", "address", cfg.Listen, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("Listening for binary protocol connections", "address", cfg.Listen)
		return serveProtocol(gctx, listener, engine, logger)
	})

	g.Go(func() error {
		logger.Infow("Listening for HTTP requests", "address", cfg.HTTPListen)

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "HTTP adapter stopped")
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		_ = listener.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)

		return engine.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatalw("nebulad exited with error", "error", err)
	}
}

// serveProtocol accepts connections on listener and hands each to engine.Serve on its own goroutine,
// until ctx is canceled or the listener is closed.
func serveProtocol(ctx context.Context, listener net.Listener, engine *protocol.Engine, logger *logging.Logger) error {
	for {
		netConn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return errors.Wrap(err, "can't accept connection")
		}

		go func() {
			if err := engine.Serve(ctx, netConn); err != nil {
				logger.Debugw("connection closed", "remote", netConn.RemoteAddr(), "error", err)
			}
		}()
	}
}
