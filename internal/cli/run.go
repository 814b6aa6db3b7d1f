package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/adhoc-collector/internal/adhoc"
	"github.com/GabrielNunesIT/adhoc-collector/internal/checkpoint"
	"github.com/GabrielNunesIT/adhoc-collector/internal/config"
	"github.com/GabrielNunesIT/adhoc-collector/internal/monitor"
	"github.com/GabrielNunesIT/adhoc-collector/internal/pipeline"
	"github.com/GabrielNunesIT/adhoc-collector/internal/processor"
	"github.com/GabrielNunesIT/go-libs/logger"
)

// NewRunCmd creates the run command.
func NewRunCmd(cfgFile, logLevel *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the adhoc collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollector(cmd, cfgFile, logLevel)
		},
	}

	// Command line job
	cmd.Flags().String("job", "", "name of a job to run in addition to the configured ones")
	cmd.Flags().StringSlice("file", nil, "files or glob patterns read by --job")
	cmd.Flags().String("destination", "", "queue key for --job (default: the job name)")

	// Emitter flags
	cmd.Flags().Bool("stdout", false, "enable stdout emitter")
	cmd.Flags().String("stdout-format", "", "stdout output format (json, text)")

	cmd.Flags().Bool("once", false, "exit once every job has been read")
	cmd.Flags().Bool("hot-reload", true, "enable hot-reload of config file")

	return cmd
}

// collector wires the components of a running agent.
type collector struct {
	cmd      *cobra.Command
	cfgFile  string
	logger   logger.ILogger
	registry *config.JobRegistry
	pipeline *pipeline.Pipeline
	inputs   *adhoc.InputSet
}

func runCollector(cmd *cobra.Command, cfgFile, logLevel *string) error {
	cfg, err := loadConfig(cmd, *cfgFile)
	if err != nil {
		return err
	}

	level := *logLevel
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	log := SetupLogging(level)

	mon := monitor.New(log)
	store := checkpoint.NewStore(cfg.Checkpoint, mon, log)
	store.LoadAll()

	registry := config.NewJobRegistry(cfg.Jobs)
	chain := processor.NewChain(processor.NewJobEnricher(registry))

	p, err := pipeline.New(cfg, chain, log)
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	engine := adhoc.New(*cfg, store, registry, p, mon, log, adhoc.WithMetrics(mon))

	c := &collector{
		cmd:      cmd,
		cfgFile:  *cfgFile,
		logger:   log,
		registry: registry,
		pipeline: p,
		inputs:   adhoc.NewInputSet(engine, log),
	}

	log.Infof("starting adhoc collector: jobs=%d, emitters=%d, checkpoint_dir=%s",
		len(cfg.Jobs), p.EmitterCount(), cfg.Checkpoint.Dir)

	sigCtx, stop := context.WithCancel(context.Background())
	defer stop()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return store.Run(gCtx)
	})
	g.Go(func() error {
		return p.Run(gCtx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return mon.Serve(gCtx, cfg.Metrics.Address)
		})
	}

	// The engine stops first so that its last checkpoint updates land
	// before the store's final dump and the pipeline's drain.
	g.Go(func() error {
		select {
		case <-sigCtx.Done():
		case <-gCtx.Done():
		}
		engine.Close()
		stopRun()
		return nil
	})

	if err := c.inputs.Apply(cfg.Jobs); err != nil {
		log.Errorf("some jobs failed to start: %v", err)
	}
	if dropped := c.inputs.DropOrphans(store.Jobs()); len(dropped) > 0 {
		log.Warningf("dropped unconfigured jobs: %v", dropped)
	}

	if once, _ := cmd.Flags().GetBool("once"); once {
		g.Go(func() error {
			engine.Wait()
			log.Info("all jobs read, shutting down")
			stop()
			return nil
		})
	}

	hotReloadEnabled, _ := cmd.Flags().GetBool("hot-reload")
	if *cfgFile != "" && hotReloadEnabled {
		c.startConfigWatcher(sigCtx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	go c.handleSignals(sigCtx, stop, sigChan)

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warningf("failed to notify systemd: %v", err)
	} else if ok {
		log.Debug("notified systemd: ready")
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil && err != context.Canceled {
		return fmt.Errorf("collector error: %w", err)
	}

	log.Info("adhoc collector stopped")
	return nil
}

func (c *collector) startConfigWatcher(ctx context.Context) {
	watcher := config.NewConfigWatcher(c.cfgFile, c.logger)
	if err := watcher.Start(ctx); err != nil {
		c.logger.Warningf("failed to start config watcher: %v", err)
		return
	}

	c.logger.Infof("hot-reload enabled: config=%s", c.cfgFile)

	go func() {
		for {
			select {
			case newCfg := <-watcher.Changes():
				c.apply(newCfg)
			case err := <-watcher.Errors():
				c.logger.Errorf("config watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (c *collector) handleSignals(ctx context.Context, cancel context.CancelFunc, sigChan <-chan os.Signal) {
	for {
		select {
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				c.logger.Info("received SIGHUP, reloading config")
				newCfg, err := loadConfig(c.cmd, c.cfgFile)
				if err != nil {
					c.logger.Errorf("failed to reload config: %v", err)
					continue
				}
				c.apply(newCfg)
			case syscall.SIGINT, syscall.SIGTERM:
				c.logger.Infof("received shutdown signal: %v", sig)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// apply swaps in a reloaded config: the registry first so new jobs resolve,
// then the job inputs and the emitters.
func (c *collector) apply(newCfg *config.Config) {
	if err := applyCLIOverrides(c.cmd, newCfg); err != nil {
		c.logger.Errorf("reloaded config rejected: %v", err)
		return
	}

	c.registry.Replace(newCfg.Jobs)
	if err := c.inputs.Apply(newCfg.Jobs); err != nil {
		c.logger.Errorf("some jobs failed to start: %v", err)
	}
	if err := c.pipeline.Reconfigure(newCfg); err != nil {
		c.logger.Errorf("reconfigure failed: %v", err)
	}
}

// loadConfig loads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := applyCLIOverrides(cmd, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyCLIOverrides merges run flags into cfg. The --job flag appends a job
// to the configured ones and is validated with them.
func applyCLIOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if v, _ := cmd.Flags().GetBool("stdout"); v {
		cfg.Emitters.Stdout.Enabled = true
	}
	if format, _ := cmd.Flags().GetString("stdout-format"); format != "" {
		cfg.Emitters.Stdout.Format = format
	}

	name, _ := cmd.Flags().GetString("job")
	files, _ := cmd.Flags().GetStringSlice("file")
	if name == "" && len(files) > 0 {
		return fmt.Errorf("--file requires --job")
	}
	if name != "" {
		destination, _ := cmd.Flags().GetString("destination")
		cfg.Jobs = append(cfg.Jobs, config.JobConfig{
			Name:        name,
			Files:       files,
			Destination: destination,
		})
	}

	return cfg.Validate()
}
