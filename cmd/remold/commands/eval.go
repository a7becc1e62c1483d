package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/remold/remold/pkg/engine"
	"github.com/remold/remold/pkg/specfile"
	"github.com/remold/remold/pkg/telemetry"
)

func newEvalCommand() *cobra.Command {
	var (
		specPath   string
		targetPath string
		defaultRaw string
		outFormat  string
		debug      bool
		watch      bool
		fnTimeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a restructuring spec against a target document",
		Long: `Evaluate a CUE spec document against a JSON or YAML target and print
the restructured output.

The spec document needs a "spec" field; its body compiles into the
engine's spec grammar (paths, mappings, sequence templates, pipelines,
fallback chains, Starlark expressions). The target is decoded from
JSON or YAML by file extension.`,
		Example: `  # Restructure a JSON document
  remold eval --spec spec.cue --target data.json

  # Fall back to a default when the evaluation fails
  remold eval --spec spec.cue --target data.json --default '{}'

  # Print a target-spec trace when evaluation fails
  remold eval --spec spec.cue --target data.json --debug

  # Re-evaluate whenever either file changes
  remold eval --spec spec.cue --target data.yaml --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := setupTelemetry()
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()

			runner := &evalRunner{
				loader: specfile.NewLoader(specfile.WithFnTimeout(fnTimeout)),
				evaluator: engine.New(
					engine.WithLogger(tel.Logger.Zerolog()),
					engine.WithStepHook(tel.Metrics.RecordStep),
				),
				tel:        tel,
				specPath:   specPath,
				targetPath: targetPath,
				outFormat:  outFormat,
				debug:      debug,
				out:        cmd.OutOrStdout(),
			}
			if cmd.Flags().Changed("default") {
				var def any
				if err := yaml.Unmarshal([]byte(defaultRaw), &def); err != nil {
					return fmt.Errorf("failed to parse --default value: %w", err)
				}
				runner.defaultValue = def
				runner.hasDefault = true
			}

			ctx := tel.WithContext(cmd.Context())
			if watch {
				return runner.watch(ctx)
			}
			return runner.runOnce(ctx)
		},
	}

	cmd.Flags().StringVarP(&specPath, "spec", "s", "", "spec document (CUE file or package directory)")
	cmd.Flags().StringVarP(&targetPath, "target", "t", "", "target document (JSON or YAML file, - for stdin)")
	cmd.Flags().StringVar(&defaultRaw, "default", "", "value returned instead of an evaluation error (YAML/JSON)")
	cmd.Flags().StringVarP(&outFormat, "out", "o", "json", "output format (json, yaml)")
	cmd.Flags().BoolVar(&debug, "debug", false, "print a target-spec trace when evaluation fails")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-evaluate when the spec or target file changes")
	cmd.Flags().DurationVar(&fnTimeout, "fn-timeout", 0, "execution limit for $fn expressions")
	_ = cmd.MarkFlagRequired("spec")
	_ = cmd.MarkFlagRequired("target")

	return cmd
}

// evalRunner holds everything one eval invocation needs, so watch mode
// can re-run it on file changes.
type evalRunner struct {
	loader     *specfile.Loader
	evaluator  *engine.Evaluator
	tel        *telemetry.Telemetry
	specPath   string
	targetPath string
	outFormat  string
	debug      bool
	out        io.Writer

	defaultValue any
	hasDefault   bool
}

func (r *evalRunner) runOnce(ctx context.Context) error {
	evaluationID := uuid.New().String()
	ctx = telemetry.WithEvaluationContext(ctx, evaluationID, r.specPath)

	var doc *specfile.Document
	err := telemetry.RecordDocumentLoad(ctx, r.specPath, "cue", func() error {
		var loadErr error
		doc, loadErr = r.loader.Load(r.specPath)
		if loadErr != nil {
			return loadErr
		}
		if !doc.Valid() {
			return fmt.Errorf("%d error(s) in spec document", len(doc.Errors))
		}
		return nil
	})
	if err != nil {
		if doc != nil {
			for _, le := range doc.Errors {
				log.Error().Str("document", r.specPath).Msg(le.Error())
			}
		}
		telemetry.EndEvaluationContext(ctx, evaluationID, "document", err)
		return err
	}

	target, err := r.loadTarget(ctx)
	if err != nil {
		telemetry.EndEvaluationContext(ctx, evaluationID, "document", err)
		return err
	}

	var opts []engine.EvalOption
	if r.hasDefault {
		opts = append(opts, engine.WithDefault(r.defaultValue))
	}

	result, err := r.evaluator.Evaluate(target, doc.Spec, opts...)
	r.recordFallbacks(evaluationID, err)
	telemetry.EndEvaluationContext(ctx, evaluationID, errorKind(err), err)
	if err != nil {
		if r.debug {
			var ee engine.EngineError
			if errors.As(err, &ee) && ee.Trace() != nil {
				fmt.Fprintln(os.Stderr, engine.ShortTrace(ee.Trace(), 0))
			}
		}
		return err
	}

	return r.print(result)
}

// recordFallbacks turns an exhausted fallback chain into metrics and
// an event: one skip per ignored alternative, labelled by whether a
// value or an error was skipped.
func (r *evalRunner) recordFallbacks(evaluationID string, err error) {
	var exhausted *engine.ExhaustedError
	if !errors.As(err, &exhausted) {
		return
	}
	for _, cause := range exhausted.Skipped {
		if cause.Err != nil {
			r.tel.Metrics.RecordFallbackSkip("error")
		} else {
			r.tel.Metrics.RecordFallbackSkip("value")
		}
	}
	r.tel.Metrics.RecordFallbackExhausted()
	_ = r.tel.Events.PublishFallbackExhausted(evaluationID, len(exhausted.Skipped))
}

// loadTarget decodes the target document. YAML is a superset of JSON,
// so one decoder covers both; the extension only labels metrics.
func (r *evalRunner) loadTarget(ctx context.Context) (any, error) {
	format := "yaml"
	switch strings.ToLower(filepath.Ext(r.targetPath)) {
	case ".json":
		format = "json"
	}

	var target any
	err := telemetry.RecordDocumentLoad(ctx, r.targetPath, format, func() error {
		var content []byte
		var readErr error
		if r.targetPath == "-" {
			content, readErr = io.ReadAll(os.Stdin)
		} else {
			content, readErr = os.ReadFile(r.targetPath)
		}
		if readErr != nil {
			return fmt.Errorf("failed to read target: %w", readErr)
		}
		if err := yaml.Unmarshal(content, &target); err != nil {
			return fmt.Errorf("failed to decode target: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

func (r *evalRunner) print(result any) error {
	switch r.outFormat {
	case "yaml":
		encoded, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = r.out.Write(encoded)
		return err
	case "json":
		encoded, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		_, err = fmt.Fprintln(r.out, string(encoded))
		return err
	default:
		return fmt.Errorf("unknown output format %q", r.outFormat)
	}
}

// watch evaluates once, then re-evaluates whenever the spec or target
// file changes, until the context is cancelled.
func (r *evalRunner) watch(ctx context.Context) error {
	if err := r.runOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Evaluation failed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	paths := []string{r.specPath}
	if r.targetPath != "-" {
		paths = append(paths, r.targetPath)
	}
	for _, path := range paths {
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	r.tel.Metrics.SetWatchedFiles(float64(len(paths)))

	log.Info().
		Str("spec", r.specPath).
		Str("target", r.targetPath).
		Msg("Watching for changes")

	// Debounce reloads: editors fire several events per save.
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			r.tel.Metrics.SetWatchedFiles(0)
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Watched file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			changed := event.Name
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				status := "ok"
				if err := r.runOnce(ctx); err != nil {
					status = "failed"
					log.Error().Err(err).Msg("Evaluation failed")
				}
				r.tel.Metrics.RecordWatchReload(status)
				_ = r.tel.Events.PublishWatchReload(changed, status)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// errorKind labels an evaluation error for metrics.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var accessErr *engine.AccessError
	var unregErr *engine.UnregisteredOpError
	var exhaustedErr *engine.ExhaustedError
	var specTypeErr *engine.SpecTypeError
	switch {
	case errors.As(err, &accessErr):
		return "access"
	case errors.As(err, &unregErr):
		return "unregistered_op"
	case errors.As(err, &exhaustedErr):
		return "exhausted"
	case errors.As(err, &specTypeErr):
		return "spec_type"
	case errors.Is(err, engine.ErrNotBound):
		return "unbound"
	default:
		return "other"
	}
}

// setupTelemetry builds the process telemetry from the global flags.
func setupTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if jsonOutput {
		cfg.Logging.Format = "json"
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return tel, nil
}
