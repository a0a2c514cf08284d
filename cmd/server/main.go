// Package main is the entry point for the Lean Docker MCP server.
//
// The server executes untrusted Lean 4 code in isolated Docker containers
// and exposes the capability over a Content-Length framed JSON-RPC
// protocol on stdin/stdout. Both one-shot transient executions and
// persistent named sessions are supported.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/misanthropic-ai/lean-docker-mcp/config"
	"github.com/misanthropic-ai/lean-docker-mcp/logger"
	"github.com/misanthropic-ai/lean-docker-mcp/rpcserver"
	"github.com/misanthropic-ai/lean-docker-mcp/sandbox"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Container runtime based on config
			sandbox.NewRuntime,

			// Session manager over the runtime
			func(log *zap.Logger, cfg *config.Config, rt sandbox.Runtime) (*sandbox.Manager, error) {
				return sandbox.NewManager(log, cfg, rt)
			},

			// JSON-RPC dispatcher and transport
			func(log *zap.Logger, manager *sandbox.Manager) *rpcserver.Dispatcher {
				return rpcserver.NewDispatcher(log, manager)
			},
			rpcserver.NewServer,
		),

		// Serve stdin/stdout and stop the app when the stream closes
		fx.Invoke(
			func(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, server *rpcserver.Server, manager *sandbox.Manager) {
				serveCtx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStart: func(context.Context) error {
						go func() {
							if err := server.Serve(serveCtx, os.Stdin, os.Stdout); err != nil {
								log.Error("server stopped with error", zap.Error(err))
							}
							if err := shutdowner.Shutdown(); err != nil {
								log.Error("shutdown failed", zap.Error(err))
							}
						}()
						return nil
					},
					OnStop: func(ctx context.Context) error {
						cancel()
						manager.Close(ctx)
						return nil
					},
				})
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
