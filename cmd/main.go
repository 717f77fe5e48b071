package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calebmoore/vmlab/internal/config"
	"github.com/calebmoore/vmlab/internal/keys"
	"github.com/calebmoore/vmlab/internal/launcher"
	"github.com/calebmoore/vmlab/internal/report"
	"github.com/calebmoore/vmlab/internal/topology"
	"github.com/calebmoore/vmlab/pkg/executor"
	"github.com/calebmoore/vmlab/pkg/executor/vagrant"
	"github.com/calebmoore/vmlab/pkg/logger"
	"github.com/calebmoore/vmlab/pkg/telemetry"
	"github.com/calebmoore/vmlab/pkg/templator"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	var tel *telemetry.Telemetry
	if cfg.TelemetryEnabled {
		var err error
		tel, err = telemetry.Initialize("vmlab")
		if err != nil {
			log.Error("failed to initialize telemetry", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				log.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	countFlag := &cli.IntFlag{
		Name:    "count",
		Aliases: []string{"n"},
		Usage:   "Number of machines (overrides config)",
		Value:   -1,
	}
	boxFlag := &cli.StringFlag{
		Name:    "box",
		Aliases: []string{"b"},
		Usage:   "Base image identifier (overrides config)",
	}

	app := &cli.App{
		Name:                 "vmlab",
		Usage:                "Provision a local multi-VM lab through Vagrant",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "up",
				Usage: "Ensure keypair, render the topology, launch and poll all machines",
				Flags: []cli.Flag{
					countFlag,
					boxFlag,
					&cli.BoolFlag{
						Name:  "check-all",
						Usage: "Poll every machine and report all failures instead of stopping at the first",
					},
					&cli.BoolFlag{
						Name:  "verify-ssh",
						Usage: "Dial each running machine with the lab key after polling",
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runUp(ctx, applyOverrides(cfg, cliCtx), log, cliCtx.Bool("check-all"), cliCtx.Bool("verify-ssh"))
				},
			},
			{
				Name:  "render",
				Usage: "Write the Vagrantfile without launching anything",
				Flags: []cli.Flag{countFlag, boxFlag},
				Action: func(cliCtx *cli.Context) error {
					return runRender(applyOverrides(cfg, cliCtx), log)
				},
			},
			{
				Name:  "keygen",
				Usage: "Ensure the lab keypair exists",
				Action: func(cliCtx *cli.Context) error {
					return runKeygen(cfg, log)
				},
			},
			{
				Name:  "status",
				Usage: "Poll machine status for an already-rendered topology",
				Flags: []cli.Flag{
					countFlag,
					boxFlag,
					&cli.BoolFlag{
						Name:  "check-all",
						Usage: "Poll every machine and report all failures instead of stopping at the first",
					},
				},
				Action: func(cliCtx *cli.Context) error {
					return runStatus(ctx, applyOverrides(cfg, cliCtx), log, cliCtx.Bool("check-all"))
				},
			},
			{
				Name:  "destroy",
				Usage: "Tear down every machine in the working directory",
				Action: func(cliCtx *cli.Context) error {
					return runDestroy(ctx, cfg, log)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// applyOverrides folds command-line flags into a copy of the loaded config.
func applyOverrides(cfg *config.Config, cliCtx *cli.Context) *config.Config {
	out := *cfg
	if cliCtx.IsSet("count") {
		out.MachineCount = cliCtx.Int("count")
	}
	if cliCtx.IsSet("box") {
		out.Box = cliCtx.String("box")
	}
	return &out
}

// buildRenderer wires the template engine with either the embedded
// Vagrantfile template or the configured override.
func buildRenderer(cfg *config.Config, log *slog.Logger) (*topology.Renderer, error) {
	engine := templator.NewEngine()

	if cfg.VagrantfileTemplate != "" {
		if err := engine.LoadFile(topology.TemplateName, cfg.VagrantfileTemplate); err != nil {
			return nil, err
		}
	} else {
		if err := engine.LoadString(topology.TemplateName, topology.DefaultTemplate); err != nil {
			return nil, err
		}
	}

	return topology.NewRenderer(engine, log), nil
}

// prepare runs the first two pipeline stages: keypair, then topology plus
// Vagrantfile on disk.
func prepare(cfg *config.Config, log *slog.Logger) (keys.Keypair, *topology.Topology, error) {
	prov := keys.NewProvisioner(log)

	kp, err := prov.EnsureKeypair(cfg.KeyDir, cfg.KeyName)
	if err != nil {
		return keys.Keypair{}, nil, err
	}

	pubKey, err := prov.PublicKey(kp)
	if err != nil {
		return keys.Keypair{}, nil, err
	}

	renderer, err := buildRenderer(cfg, log)
	if err != nil {
		return keys.Keypair{}, nil, err
	}

	topo, err := renderer.Render(topology.Params{
		Count:      cfg.MachineCount,
		BaseImage:  cfg.Box,
		Subnet:     cfg.Subnet,
		MemoryMB:   cfg.MemoryMB,
		CPUCount:   cfg.CPUCount,
		AdminUser:  cfg.AdminUser,
		UserPrefix: cfg.UserPrefix,
		PublicKey:  pubKey,
	})
	if err != nil {
		return keys.Keypair{}, nil, err
	}

	if _, err := renderer.WriteVagrantfile(topo, cfg.Workdir); err != nil {
		return keys.Keypair{}, nil, err
	}

	return kp, topo, nil
}

func engineExecutor(cfg *config.Config, log *slog.Logger) executor.Executor {
	return executor.NewLocal(log, executor.WithEnv(vagrant.Env(cfg.Workdir)...))
}

func launcherOptions(cfg *config.Config, kp keys.Keypair, checkAll, verifySSH bool) launcher.Options {
	return launcher.Options{
		CheckAll:     cfg.CheckAll || checkAll,
		PollAttempts: cfg.PollAttempts,
		PollInterval: cfg.PollInterval,
		VerifySSH:    cfg.VerifySSH || verifySSH,
		SSHKeyPath:   kp.PrivateKeyPath,
	}
}

func runUp(ctx context.Context, cfg *config.Config, log *slog.Logger, checkAll, verifySSH bool) error {
	kp, topo, err := prepare(cfg, log)
	if err != nil {
		return err
	}

	l := launcher.New(engineExecutor(cfg, log), log, launcherOptions(cfg, kp, checkAll, verifySSH))

	results, err := l.Launch(ctx, topo)
	if err != nil {
		return err
	}

	report.New(os.Stdout).Print(topo, results, kp.PrivateKeyPath)
	return nil
}

func runRender(cfg *config.Config, log *slog.Logger) error {
	_, topo, err := prepare(cfg, log)
	if err != nil {
		return err
	}

	fmt.Printf("rendered %d machine(s) into %s/%s\n", len(topo.Machines), cfg.Workdir, topology.VagrantfileName)
	return nil
}

func runKeygen(cfg *config.Config, log *slog.Logger) error {
	prov := keys.NewProvisioner(log)

	kp, err := prov.EnsureKeypair(cfg.KeyDir, cfg.KeyName)
	if err != nil {
		return err
	}

	fmt.Printf("private key: %s\npublic key:  %s\n", kp.PrivateKeyPath, kp.PublicKeyPath)
	return nil
}

func runStatus(ctx context.Context, cfg *config.Config, log *slog.Logger, checkAll bool) error {
	kp, topo, err := prepare(cfg, log)
	if err != nil {
		return err
	}

	l := launcher.New(engineExecutor(cfg, log), log, launcherOptions(cfg, kp, checkAll, false))

	results, err := l.Poll(ctx, topo)
	if err != nil {
		return err
	}

	report.New(os.Stdout).Print(topo, results, kp.PrivateKeyPath)
	return nil
}

func runDestroy(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("destroying cluster", slog.String("workdir", cfg.Workdir))

	if err := vagrant.Destroy(ctx, engineExecutor(cfg, log)); err != nil {
		return err
	}

	log.Info("cluster destroyed")
	return nil
}
