// Command tssd runs the threshold signature daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/taurusgroup/tssd/internal/admin"
	"github.com/taurusgroup/tssd/internal/config"
	"github.com/taurusgroup/tssd/internal/kv"
	"github.com/taurusgroup/tssd/internal/metrics"
	"github.com/taurusgroup/tssd/internal/recovery"
	"github.com/taurusgroup/tssd/internal/transport"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/service"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path of the TOML configuration file.",
	EnvVars: []string{"TSSD_CONFIG"},
}

var dirFlag = &cli.StringFlag{
	Name:  "dir",
	Usage: "Directory of the key database and recovery seed, overrides the configuration file.",
}

var listenFlag = &cli.StringFlag{
	Name:  "listen",
	Usage: "Address the client connects to, overrides the configuration file.",
}

var adminFlag = &cli.StringFlag{
	Name:  "admin",
	Usage: "Address of the admin HTTP server (\"none\" to disable), overrides the configuration file.",
}

var logLevelFlag = &cli.StringFlag{
	Name:  "log-level",
	Usage: "One of debug, info, warn, error.",
}

var logJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "Log in JSON instead of plain text.",
}

var behaviourFlag = &cli.StringFlag{
	Name:     "behaviour",
	Usage:    "Name of the malicious behaviour. Unknown names run honestly.",
	Required: true,
}

// using string flags since index lists are easier to type as "1,2,3"
var victimsFlag = &cli.StringFlag{
	Name:  "victims",
	Usage: "Comma separated share indices targeted by the behaviour.",
}

var faultyFlag = &cli.StringFlag{
	Name:  "faulty",
	Usage: "Comma separated share indices that misbehave.",
}

var keyFlag = &cli.StringFlag{
	Name:     "key",
	Usage:    "UID of the key.",
	Required: true,
}

var daemonFlags = []cli.Flag{configFlag, dirFlag, listenFlag, adminFlag, logLevelFlag, logJSONFlag}

func main() {
	app := &cli.App{
		Name:   "tssd",
		Usage:  "threshold signature daemon",
		Flags:  daemonFlags,
		Action: func(c *cli.Context) error { return runDaemon(c, malicious.Behaviour{}) },
		Commands: []*cli.Command{
			{
				Name:  "malicious",
				Usage: "Run the daemon with a malicious behaviour, for testing only.",
				Flags: append([]cli.Flag{behaviourFlag, victimsFlag, faultyFlag}, daemonFlags...),
				Action: func(c *cli.Context) error {
					behaviour, err := parseBehaviour(c)
					if err != nil {
						return err
					}
					return runDaemon(c, behaviour)
				},
			},
			{
				Name:   "key-presence",
				Usage:  "Ask a running daemon whether a key is stored.",
				Flags:  []cli.Flag{configFlag, listenFlag, keyFlag},
				Action: keyPresenceCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseBehaviour(c *cli.Context) (malicious.Behaviour, error) {
	victims, err := malicious.ParseIndexList(c.String(victimsFlag.Name))
	if err != nil {
		return malicious.Behaviour{}, fmt.Errorf("--%s: %w", victimsFlag.Name, err)
	}
	faulty, err := malicious.ParseIndexList(c.String(faultyFlag.Name))
	if err != nil {
		return malicious.Behaviour{}, fmt.Errorf("--%s: %w", faultyFlag.Name, err)
	}
	return malicious.Parse(c.String(behaviourFlag.Name), victims, faulty), nil
}

// loadConfig reads the configuration file if one is given, then applies the flags on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet(dirFlag.Name) {
		cfg.Dir = c.String(dirFlag.Name)
	}
	if c.IsSet(listenFlag.Name) {
		cfg.ListenAddr = c.String(listenFlag.Name)
	}
	if c.IsSet(adminFlag.Name) {
		cfg.AdminAddr = c.String(adminFlag.Name)
	}
	if c.IsSet(logLevelFlag.Name) {
		cfg.LogLevel = c.String(logLevelFlag.Name)
	}
	if c.IsSet(logJSONFlag.Name) {
		cfg.LogJSON = c.Bool(logJSONFlag.Name)
	}
	return cfg, cfg.Validate()
}

func runDaemon(c *cli.Context, behaviour malicious.Behaviour) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	l := cfg.Logger()
	defer func() { _ = l.Sync() }()

	seed, err := recovery.LoadOrCreateSeed(cfg.SeedPath())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := kv.Open(ctx, cfg.DBPath(), l)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Errorw("failed to close the key database", "err", err)
		}
	}()

	m := metrics.New()
	svc := service.New(service.Config{
		RecoverySeed: seed,
		Behaviour:    behaviour,
		Metrics:      m,
	}, store, service.ExampleEngines{}, l)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return transport.NewServer(svc, l).Serve(gctx, ln)
	})

	if cfg.AdminEnabled() {
		srv := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           admin.NewRouter(svc, m.Handler(), l),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			l.Infow("admin server listening", "addr", cfg.AdminAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	l.Infow("tssd started", "dir", cfg.Dir, "behaviour", behaviour.String())
	err = g.Wait()
	l.Infow("tssd stopped")
	return err
}

func keyPresenceCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, 10*time.Second)
	defer cancel()

	client, err := transport.Dial(ctx, cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err = client.Start(&transport.Request{KeyPresence: c.String(keyFlag.Name)}); err != nil {
		return err
	}
	reply, err := client.Reply()
	if err != nil {
		return err
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}
	fmt.Println(reply.Presence)
	return nil
}
