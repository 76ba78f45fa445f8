package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kwextract/internal/config"
	"kwextract/internal/engine"
	"kwextract/internal/extract"
	"kwextract/internal/httpapi"
	"kwextract/internal/launcher"
	"kwextract/internal/records"
)

// buildRootCmd constructs the command tree. Persistent flags feed a shared
// Config that individual commands merge with their own flags; explicit flags
// always win over config file values.
func buildRootCmd(log *zerolog.Logger) *cobra.Command {
	var (
		cfgPath  string
		logLevel string
	)
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:           "kwextract",
		Short:         "Keyword extraction over solver transcripts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (.yaml/.yml/.json/.toml)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cfgPath != "" {
			path, err := config.ExpandHome(cfgPath)
			if err != nil {
				return err
			}
			c, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			*cfg = c
		}
		if cfg.LogLevel != "" && !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if lvl, err := zerolog.ParseLevel(logLevel); err == nil {
			*log = log.Level(lvl)
		}
		return nil
	}

	root.AddCommand(buildLaunchCmd(cfg, log))
	root.AddCommand(buildLaunchDepCmd(cfg, log))
	root.AddCommand(buildRunCmd(cfg, log))
	root.AddCommand(buildConvertCmd(log))
	root.AddCommand(buildDisplayCmd())

	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(os.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(os.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenPowerShellCompletionWithDesc(os.Stdout) }})
	root.AddCommand(completionCmd)

	return root
}

// buildLaunchCmd wraps the external extractor: export the device pin, forward
// the flags, stream output, and let the child's exit status pass through.
func buildLaunchCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var iv launcher.Invocation
	cmd := &cobra.Command{
		Use:     "launch",
		Short:   "Run the external extractor pinned to one accelerator",
		Example: "  kwextract launch --device 0\n  kwextract launch --device 1 -- --seed 42",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfigToInvocation(cmd, cfg, &iv)
			iv.ExtraArgs = args
			log.Info().Int("device", iv.Device).Str("program", iv.Program).
				Strs("args", iv.Args()).Msg("launching extractor")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return launcher.Launch(ctx, iv)
		},
	}
	f := cmd.Flags()
	f.StringVar(&iv.Program, "program", "python3", "Interpreter or binary to execute")
	f.StringVar(&iv.Script, "script", "keywords.py", "Extractor script passed as first argument")
	f.IntVar(&iv.Device, "device", 0, "Accelerator index exported as "+launcher.VisibleDevicesEnv)
	f.StringVar(&iv.Input, "input", "results/results.jsonl", "Input JSONL path")
	f.StringVar(&iv.Output, "output", "results/results_with_keywords.jsonl", "Output JSONL path")
	f.StringVar(&iv.ModelDir, "model", "models/Qwen3-4B", "Model directory")
	f.Float64Var(&iv.GPUMemUtil, "gpu_mem_util", 0.25, "Fraction of accelerator memory to reserve")
	f.Float64Var(&iv.Temperature, "temperature", 0.0, "Sampling temperature")
	f.Float64Var(&iv.TopP, "top_p", 1.0, "Nucleus sampling probability mass")
	f.IntVar(&iv.K, "k", 10, "Approximate keywords per record")
	f.IntVar(&iv.BatchSize, "batch_size", 0, "Extractor batch size (0 omits the flag)")
	f.IntVar(&iv.MaxTokens, "max_tokens", 0, "Completion token cap (0 omits the flag)")
	f.IntVar(&iv.MaxModelLen, "max_model_len", 0, "Engine context length (0 omits the flag)")
	f.BoolVar(&iv.KeepRaw, "keep_raw", false, "Forward --keep_raw to the extractor")
	f.StringVar(&iv.Dir, "dir", "", "Working directory for the child process")
	return cmd
}

// applyConfigToInvocation fills invocation fields from the config file for
// flags the user did not set explicitly.
func applyConfigToInvocation(cmd *cobra.Command, cfg *config.Config, iv *launcher.Invocation) {
	changed := cmd.Flags().Changed
	if !changed("device") && cfg.Device != 0 {
		iv.Device = cfg.Device
	}
	if !changed("input") && cfg.Input != "" {
		iv.Input = cfg.Input
	}
	if !changed("output") && cfg.Output != "" {
		iv.Output = cfg.Output
	}
	if !changed("model") && cfg.ModelDir != "" {
		iv.ModelDir = cfg.ModelDir
	}
	if !changed("gpu_mem_util") && cfg.GPUMemUtil != 0 {
		iv.GPUMemUtil = cfg.GPUMemUtil
	}
	if !changed("temperature") && cfg.Temperature != 0 {
		iv.Temperature = cfg.Temperature
	}
	if !changed("top_p") && cfg.TopP != 0 {
		iv.TopP = cfg.TopP
	}
	if !changed("k") && cfg.K != 0 {
		iv.K = cfg.K
	}
	if !changed("batch_size") && cfg.BatchSize != 0 {
		iv.BatchSize = cfg.BatchSize
	}
	if !changed("max_tokens") && cfg.MaxTokens != 0 {
		iv.MaxTokens = cfg.MaxTokens
	}
	if !changed("max_model_len") && cfg.MaxModelLen != 0 {
		iv.MaxModelLen = cfg.MaxModelLen
	}
	if !changed("keep_raw") && cfg.KeepRaw {
		iv.KeepRaw = true
	}
}

// buildLaunchDepCmd wraps the dependency-parse extractor, which tags word
// classes instead of prompting a model. Same device pin and passthrough
// contract as launch, smaller flag surface.
func buildLaunchDepCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var iv launcher.DepInvocation
	cmd := &cobra.Command{
		Use:     "launch-dep",
		Short:   "Run the external dependency-parse extractor pinned to one accelerator",
		Example: "  kwextract launch-dep --device 0 --prefer-lang-field\n  kwextract launch-dep --output results/dep_results.jsonl",
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := cmd.Flags().Changed
			if !changed("device") && cfg.Device != 0 {
				iv.Device = cfg.Device
			}
			if !changed("input") && cfg.Input != "" {
				iv.Input = cfg.Input
			}
			if !changed("output") && cfg.Output != "" {
				iv.Output = cfg.Output
			}
			iv.ExtraArgs = args
			log.Info().Int("device", iv.Device).Str("program", iv.Program).
				Strs("args", iv.Args()).Msg("launching dependency extractor")
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return launcher.LaunchDep(ctx, iv)
		},
	}
	f := cmd.Flags()
	f.StringVar(&iv.Program, "program", "python3", "Interpreter or binary to execute")
	f.StringVar(&iv.Script, "script", "dep_extract.py", "Extractor script passed as first argument")
	f.IntVar(&iv.Device, "device", 0, "Accelerator index exported as "+launcher.VisibleDevicesEnv)
	f.StringVar(&iv.Input, "input", "results/results.jsonl", "Input JSONL path")
	f.StringVar(&iv.Output, "output", "results/dep_results.jsonl", "Output JSONL path")
	f.BoolVar(&iv.PreferLangField, "prefer-lang-field", false, "Honor each row's lang field instead of the default")
	f.StringVar(&iv.DefaultLang, "default-lang", "", "Language applied when rows carry none (zh|en)")
	f.StringVar(&iv.Dir, "dir", "", "Working directory for the child process")
	return cmd
}

// buildRunCmd drives the native pipeline against an OpenAI-compatible engine,
// either spawned per run or attached via --engine-url.
func buildRunCmd(cfg *config.Config, log *zerolog.Logger) *cobra.Command {
	var (
		rc   extract.RunConfig
		addr string

		device      int
		engineBin   string
		engineURL   string
		engineHost  string
		portStart   int
		portEnd     int
		gpuMemUtil  float64
		maxModelLen int
	)
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the native extraction pipeline",
		Example: "  kwextract run --device 0\n  kwextract run --engine-url http://127.0.0.1:8000 --addr :8080",
		RunE: func(cmd *cobra.Command, args []string) error {
			changed := cmd.Flags().Changed
			if !changed("addr") && cfg.Addr != "" {
				addr = cfg.Addr
			}
			if !changed("device") && cfg.Device != 0 {
				device = cfg.Device
			}
			if !changed("input") && cfg.Input != "" {
				rc.Input = cfg.Input
			}
			if !changed("output") && cfg.Output != "" {
				rc.Output = cfg.Output
			}
			if !changed("model") && cfg.ModelDir != "" {
				rc.ModelDir = cfg.ModelDir
			}
			if !changed("gpu_mem_util") && cfg.GPUMemUtil != 0 {
				gpuMemUtil = cfg.GPUMemUtil
			}
			if !changed("temperature") && cfg.Temperature != 0 {
				rc.Temperature = cfg.Temperature
			}
			if !changed("top_p") && cfg.TopP != 0 {
				rc.TopP = cfg.TopP
			}
			if !changed("k") && cfg.K != 0 {
				rc.K = cfg.K
			}
			if !changed("batch_size") && cfg.BatchSize != 0 {
				rc.BatchSize = cfg.BatchSize
			}
			if !changed("max_tokens") && cfg.MaxTokens != 0 {
				rc.MaxTokens = cfg.MaxTokens
			}
			if !changed("max_model_len") && cfg.MaxModelLen != 0 {
				maxModelLen = cfg.MaxModelLen
			}
			if !changed("keep_raw") && cfg.KeepRaw {
				rc.KeepRaw = true
			}
			if !changed("engine-bin") && cfg.EngineBin != "" {
				engineBin = cfg.EngineBin
			}
			if !changed("engine-url") && cfg.EngineURL != "" {
				engineURL = cfg.EngineURL
			}
			if !changed("engine-host") && cfg.EngineHost != "" {
				engineHost = cfg.EngineHost
			}
			if !changed("engine-port-start") && cfg.EnginePortStart != 0 {
				portStart = cfg.EnginePortStart
			}
			if !changed("engine-port-end") && cfg.EnginePortEnd != 0 {
				portEnd = cfg.EnginePortEnd
			}

			var adapter engine.Adapter
			if engineURL != "" {
				adapter = engine.NewServerAdapter(engineURL, os.Getenv("KWEXTRACT_API_KEY"), 0, 5*time.Second)
			} else {
				adapter = engine.NewSpawnAdapter(engine.SpawnConfig{
					Bin:         engineBin,
					Host:        engineHost,
					PortStart:   portStart,
					PortEnd:     portEnd,
					Device:      device,
					GPUMemUtil:  gpuMemUtil,
					MaxModelLen: maxModelLen,
				})
			}

			runner := extract.NewRunner(adapter, rc, *log)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var srv *http.Server
			if addr != "" {
				httpapi.SetLogger(*log)
				srv = &http.Server{Addr: addr, Handler: httpapi.NewMux(newStatusService(runner, adapter, rc))}
				go func() {
					log.Info().Str("addr", addr).Msg("status server listening")
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Error().Err(err).Msg("status server error")
					}
				}()
			}

			err := runner.Run(ctx)

			if s, ok := adapter.(interface{ StopAll() }); ok {
				s.StopAll()
			}
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}
			return err
		},
	}

	defaultAddr := ""
	if v := os.Getenv("KWEXTRACT_ADDR"); v != "" {
		defaultAddr = v
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", defaultAddr, "Status server listen address, e.g. :8080 (empty disables)")
	f.IntVar(&device, "device", 0, "Accelerator index exported as "+launcher.VisibleDevicesEnv)
	f.StringVar(&rc.Input, "input", "results/results.jsonl", "Input JSONL path")
	f.StringVar(&rc.Output, "output", "results/results_with_keywords.jsonl", "Output JSONL path")
	f.StringVar(&rc.ModelDir, "model", "models/Qwen3-4B", "Model directory served by the engine")
	f.Float64Var(&gpuMemUtil, "gpu_mem_util", 0.25, "Fraction of accelerator memory to reserve")
	f.Float64Var(&rc.Temperature, "temperature", 0.0, "Sampling temperature")
	f.Float64Var(&rc.TopP, "top_p", 1.0, "Nucleus sampling probability mass")
	f.IntVar(&rc.K, "k", 10, "Approximate keywords per record")
	f.IntVar(&rc.BatchSize, "batch_size", 16, "Rows completed concurrently per batch")
	f.IntVar(&rc.MaxTokens, "max_tokens", 128, "Completion token cap")
	f.IntVar(&maxModelLen, "max_model_len", 0, "Engine context length (0 uses the engine default)")
	f.BoolVar(&rc.KeepRaw, "keep_raw", false, "Keep the raw engine output on each record")
	f.StringVar(&engineBin, "engine-bin", "vllm", "Engine binary to spawn")
	f.StringVar(&engineURL, "engine-url", "", "Attach to a running engine instead of spawning one")
	f.StringVar(&engineHost, "engine-host", "", "Bind host for the spawned engine (default 127.0.0.1)")
	f.IntVar(&portStart, "engine-port-start", 0, "Start of the engine port range (0 picks a free port)")
	f.IntVar(&portEnd, "engine-port-end", 0, "End of the engine port range")
	return cmd
}

func buildConvertCmd(log *zerolog.Logger) *cobra.Command {
	var keepEmpty bool
	cmd := &cobra.Command{
		Use:     "convert <results.json> <results.jsonl>",
		Short:   "Flatten a nested results file into one JSONL row per attempt",
		Example: "  kwextract convert results/results.json results/results.jsonl",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := records.ConvertFile(args[0], args[1], records.ConvertOptions{KeepEmpty: keepEmpty})
			if err != nil {
				return err
			}
			log.Info().Int("written", stats.Written).Int("skipped", stats.Skipped).Msg("convert done")
			return nil
		},
	}
	cmd.Flags().BoolVar(&keepEmpty, "keep-empty", false, "Keep rows whose answers are empty")
	return cmd
}

func buildDisplayCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:     "display <results_with_keywords.jsonl>",
		Short:   "Project keyword lists out of an extraction output",
		Example: "  kwextract display results/results_with_keywords.jsonl",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out != "" {
				_, err := records.ProjectKeywordsFile(args[0], out)
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = records.ProjectKeywords(f, os.Stdout)
			return err
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}
