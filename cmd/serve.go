package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/connection"
	"github.com/DarsheeeGamer/NetConduit/internal/env"
	"github.com/DarsheeeGamer/NetConduit/internal/observability"
	"github.com/DarsheeeGamer/NetConduit/router"
	"github.com/DarsheeeGamer/NetConduit/server"
	"github.com/DarsheeeGamer/NetConduit/storage"
)

var (
	// The host to listen on
	serveHost string

	// The port to listen for admin http requests on
	httpPort string

	// The port to listen for tcp clients on
	servePort int

	// Optional TOML config file overlaying the environment
	configFile string
)

func init() {
	flags := ServeCmd.PersistentFlags()

	flags.IntVarP(&servePort, "port", "p", 7363, "The port to listen for client connections on")
	flags.StringVar(&httpPort, "http-port", "7362", "The port to listen to admin HTTP requests on")
	flags.StringVarP(&serveHost, "host", "a", "0.0.0.0", "The host to listen on")
	flags.StringVarP(&configFile, "config", "c", "", "Path to a TOML config file")
}

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start up the Conduit messaging service",
	Long: `Start up the Conduit messaging service

Usage
	conduit serve

`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		if configFile != "" {
			if err := env.LoadFile(conf, configFile); err != nil {
				return err
			}
		}

		if cmd.Flags().Changed("host") || conf.Host == "" {
			conf.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			conf.Port = servePort
		}

		if err := conf.Validate(); err != nil {
			return err
		}

		log, err := env.MakeLogger(conf.Debug)
		if err != nil {
			return err
		}

		fileLimit, err := setFileLimit()
		if err != nil {
			return err
		}

		log.Info("Set file limit", zap.Uint64("fileLimit", fileLimit))

		observability.RegisterMetrics()

		store := storage.NewInmemoryStore()
		defer store.Close()

		srv := server.New(server.Options{
			Host:               conf.Host,
			Port:               conf.Port,
			IPv6:               conf.IPv6,
			Password:           conf.Password,
			Name:               conf.Name,
			Version:            conf.Version,
			MaxConnections:     conf.MaxConnections,
			BufferSize:         conf.BufferSize,
			MaxFrameSize:       uint32(conf.MaxFrameSize),
			ConnectionTimeout:  conf.ConnectionTimeout.STD(),
			AuthTimeout:        conf.AuthTimeout.STD(),
			HeartbeatInterval:  conf.HeartbeatInterval.STD(),
			HeartbeatTimeout:   conf.HeartbeatTimeout.STD(),
			SendQueueSize:      conf.SendQueueSize,
			ReceiveQueueSize:   conf.ReceiveQueueSize,
			EnableCompression:  conf.EnableCompression,
			EnableBackpressure: conf.EnableBackpressure,
			HighWatermark:      conf.HighWatermark,
			LowWatermark:       conf.LowWatermark,
			Store:              store,
			Log:                log,
		})

		registerBuiltins(srv, conf)

		adminRouter := setupRouter(conf.Debug, log)

		// Ping test
		adminRouter.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		adminRouter.GET("/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, srv.Stats())
		})

		adminRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

		s := &http.Server{
			Addr:    net.JoinHostPort(conf.Host, httpPort),
			Handler: adminRouter,
		}

		// Initializing the admin server in a goroutine so that it won't
		// block the graceful shutdown handling below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Admin http server errored", zap.Error(err))
			}
		}()

		if err := srv.Start(ctx); err != nil {
			return err
		}

		log.Info("Listening",
			zap.String("host", conf.Host),
			zap.Int("port", conf.Port),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context is used to inform the admin server it has 5 seconds
		// to finish the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Admin http server forced to shutdown", zap.Error(err))
		}

		if err := srv.Close(); err != nil {
			log.Error("TCP server forced to shutdown", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// registerBuiltins wires the stock RPC methods every Conduit server
// carries alongside user registrations.
func registerBuiltins(srv *server.Server, conf *env.Config) {
	srv.Router().RegisterRPC("get_server_info",
		func(ctx context.Context, conn *connection.Connection, params map[string]any) (any, error) {
			stats := srv.Stats()

			return map[string]any{
				"name":                 conf.Name,
				"version":              conf.Version,
				"uptime":               stats.Uptime.Seconds(),
				"active_connections":   stats.ActiveConnections,
				"max_connections":      conf.MaxConnections,
				"total_bytes_sent":     stats.BytesSent,
				"total_bytes_received": stats.BytesReceived,
			}, nil
		}, router.Schema{}, "Get server information and statistics")

	srv.Router().RegisterRPC("list_clients",
		func(ctx context.Context, conn *connection.Connection, params map[string]any) (any, error) {
			clients := make([]map[string]any, 0)

			for _, pooled := range srv.Connections() {
				health := pooled.Health()

				clients = append(clients, map[string]any{
					"id":             pooled.ID(),
					"address":        pooled.RemoteAddr(),
					"connected_at":   health.ConnectedAt.Unix(),
					"bytes_sent":     health.BytesSent,
					"bytes_received": health.BytesReceived,
				})
			}

			return map[string]any{"clients": clients}, nil
		}, router.Schema{}, "Get the list of connected clients")

	srv.Router().RegisterRPC("echo",
		func(ctx context.Context, conn *connection.Connection, params map[string]any) (any, error) {
			return map[string]any{"echo": params["message"]}, nil
		}, router.Schema{
			Params: []router.Param{
				{Name: "message", Type: router.TypeAny, Required: true},
			},
		}, "Echo the message parameter back to the caller")
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func setFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit

	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	rLimit.Cur = rLimit.Max
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}

	return rLimit.Cur, nil
}
