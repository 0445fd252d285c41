package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dbspelunker/internal/db"
	_ "dbspelunker/internal/db/extractors"
	"dbspelunker/internal/llm"
	"dbspelunker/internal/logger"
	"dbspelunker/internal/orchestrator"
	"dbspelunker/internal/report"
	"dbspelunker/pkg/config"
)

var (
	cfgPath    string
	driverFlag string
	dsnFlag    string
	format     string
	outputFile string
	schemas    []string
)

var rootCmd = &cobra.Command{
	Use:           "dbspelunker",
	Short:         "Document a relational database with the help of a language model",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full analysis and write the documentation report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), true, func(ctx context.Context, s *session) error {
			rep, err := s.orch.RunFullAnalysis(ctx)
			if err != nil {
				return err
			}
			return write(rep)
		})
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <name>",
	Short: "Explore and describe one schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), true, func(ctx context.Context, s *session) error {
			sch, err := s.orch.RunSchemaAnalysis(ctx, args[0])
			if err != nil {
				return err
			}
			return write(sch)
		})
	},
}

var tableCmd = &cobra.Command{
	Use:   "table [schema] <table>",
	Short: "Introspect one table",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, table := "", args[0]
		if len(args) == 2 {
			schema, table = args[0], args[1]
		}
		return withSession(cmd.Context(), false, func(ctx context.Context, s *session) error {
			t, err := s.orch.RunTableAnalysis(ctx, schema, table)
			if err != nil {
				return err
			}
			return write(t)
		})
	},
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Print the database overview without calling the model",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), false, func(ctx context.Context, s *session) error {
			o, err := s.conn.Overview(ctx)
			if err != nil {
				return err
			}
			return write(o.FilterSchemas(s.cfg.Analysis.Schemas))
		})
	},
}

var dialectsCmd = &cobra.Command{
	Use:   "dialects",
	Short: "List the registered database dialects",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, d := range db.RegisteredDialects() {
			fmt.Fprintln(cmd.OutOrStdout(), d)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "dbspelunker.yaml", "path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&driverFlag, "driver", "", "db driver override (postgres,pgx,mysql,sqlite,sqlserver,godror)")
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "dsn override")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "json", "output format: json, yaml or markdown (markdown is for analyze only)")
	rootCmd.PersistentFlags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	rootCmd.PersistentFlags().StringSliceVarP(&schemas, "schemas", "s", nil, "only analyse these schemas (overrides config)")
	rootCmd.AddCommand(analyzeCmd, schemaCmd, tableCmd, overviewCmd, dialectsCmd)
}

// session is what a command needs: the loaded config, an open connection
// and an orchestrator over it.
type session struct {
	cfg  config.AppConfig
	conn *db.Connection
	orch *orchestrator.Orchestrator
}

func loadConfig() (config.AppConfig, error) {
	cfg := config.Defaults()
	if cfgPath != "" {
		logger.Info("config file %s", cfgPath)
		c, err := config.LoadFile(cfgPath)
		switch {
		case err == nil:
			cfg = c
		case errors.Is(err, os.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config"):
			logger.Debug("no config file at %s, using defaults", cfgPath)
		default:
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
	}

	// allow CLI overrides
	if driverFlag != "" && dsnFlag != "" {
		cfg.Database = config.DBConfig{Type: driverFlag, DSN: dsnFlag}
	}
	if len(schemas) > 0 {
		cfg.Analysis.Schemas = schemas
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return cfg, cfg.Validate()
}

func withSession(ctx context.Context, needsModel bool, fn func(context.Context, *session) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if needsModel && cfg.Model.APIKey == "" {
		return errors.New("no API key: set model.api_key or ANTHROPIC_API_KEY")
	}

	driver, dsn, err := config.BuildDriverAndDSN(cfg.Database)
	if err != nil {
		return err
	}
	conn, err := db.Connect(ctx, driver, dsn, db.Options{
		ConnectTimeout: cfg.Analysis.ConnectTimeout(),
		QueryTimeout:   cfg.Analysis.QueryTimeout(),
		MaxRows:        cfg.Analysis.MaxRows,
		MaxOpenConns:   cfg.Analysis.Concurrency * 2,
	})
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected to %s database with driver %s", conn.Engine(), conn.Driver())

	inv := llm.NewInvoker(llm.NewAnthropicBackend(cfg.Model.APIKey),
		llm.WithMaxRetries(cfg.Model.MaxRetries),
		llm.WithRateLimit(cfg.Model.RequestsPerSecond, cfg.Analysis.Concurrency),
	)
	orch := orchestrator.New(conn, inv, orchestrator.Options{
		Model: cfg.Model.Model,
		Settings: llm.Settings{
			Model:           cfg.Model.Model,
			Temperature:     cfg.Model.Temperature,
			TopP:            cfg.Model.TopP,
			MaxOutputTokens: cfg.Model.MaxOutputTokens,
			ThinkingBudget:  cfg.Model.ThinkingBudget,
			Seed:            cfg.Model.Seed,
		},
		MaxToolCalls: cfg.Model.MaximumRemoteCalls,
		Concurrency:  cfg.Analysis.Concurrency,
		Schemas:      cfg.Analysis.Schemas,
		CacheEntries: cfg.Analysis.CacheEntries,
	})
	return fn(ctx, &session{cfg: cfg, conn: conn, orch: orch})
}

// write encodes v in the requested format to the output file or stdout.
func write(v any) (err error) {
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, cerr := os.Create(outputFile)
		if cerr != nil {
			return fmt.Errorf("failed to create output file: %w", cerr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return encode(w, format, v)
}

func encode(w io.Writer, format string, v any) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		// go through JSON so that keys keep their json tag names
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	case "markdown", "md":
		rep, ok := v.(report.Report)
		if !ok {
			return fmt.Errorf("markdown output is only available for the analyze command")
		}
		return report.WriteMarkdown(w, rep)
	default:
		return fmt.Errorf("invalid format: %s (must be 'json', 'yaml' or 'markdown')", format)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		logger.Fatal("%v", err)
	}
}
