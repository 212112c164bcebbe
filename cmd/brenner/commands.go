package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/nikolaef43/brenner-bot-sub002/internal/config"
	"github.com/nikolaef43/brenner-bot-sub002/internal/core"
	"github.com/nikolaef43/brenner-bot-sub002/internal/delta"
	"github.com/nikolaef43/brenner-bot-sub002/internal/ledger"
	"github.com/nikolaef43/brenner-bot-sub002/internal/registry"
	"github.com/nikolaef43/brenner-bot-sub002/internal/store"
	"github.com/nikolaef43/brenner-bot-sub002/internal/tools"
	"github.com/nikolaef43/brenner-bot-sub002/pkg/utils"
)

// app 一次命令执行所需的依赖，由根命令的 PersistentPreRunE 组装
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	ledger   *ledger.Ledger
	registry *registry.Registry
}

func newApp(root, configPath string) (*app, error) {
	if root == "" {
		root = core.DetectProjectRoot()
	} else {
		root = utils.URIToPath(root)
	}
	if root == "" {
		return nil, fmt.Errorf("cannot determine project root; pass --root or set %s", core.ProjectRootEnv)
	}

	cfg, err := config.Load(root, configPath)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger()
	researchDir := cfg.ResolvedResearchDir()
	writes := store.NewSerializer()

	return &app{
		cfg:    cfg,
		logger: logger,
		ledger: ledger.New(ledger.Options{
			ResearchDir: researchDir,
			AutoIndex:   cfg.AutoIndex(),
			Serializer:  writes,
			Logger:      logger,
		}),
		registry: registry.New(registry.Options{
			ResearchDir: researchDir,
			AutoIndex:   cfg.AutoIndex(),
			Serializer:  writes,
			Logger:      logger,
		}),
	}, nil
}

func (a *app) openArchive() (*core.MessageArchive, error) {
	return core.OpenArchive(a.cfg.ResolvedArchivePath(), a.logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput 读取文件参数，"-" 或缺省时读 stdin
func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(args[0])
}

func newRootCmd() *cobra.Command {
	var (
		rootFlag   string
		configFlag string
		a          *app
	)

	rootCmd := &cobra.Command{
		Use:           "brenner",
		Short:         "Delta extraction and research-protocol storage for multi-agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["standalone"] == "true" {
				return nil
			}
			var err error
			a, err = newApp(rootFlag, configFlag)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "project root (defaults to $"+core.ProjectRootEnv+" or the working directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "explicit config file (yaml, yml or json)")

	standalone := map[string]string{"standalone": "true"}

	// --- MCP server ---
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := a.openArchive()
			if err != nil {
				return fmt.Errorf("opening message archive: %w", err)
			}
			defer archive.Close()

			s := tools.NewServer(&tools.Toolset{
				Ledger:   a.ledger,
				Registry: a.registry,
				Messages: archive,
				Logger:   a.logger,
			}, Version)
			a.logger.Info("Serving MCP over stdio", "root", a.cfg.ProjectRoot, "research_dir", a.cfg.ResolvedResearchDir())
			return server.ServeStdio(s)
		},
	}

	// --- Delta ---
	var validOnly bool
	parseCmd := &cobra.Command{
		Use:         "parse [file|-]",
		Short:       "Extract and validate delta blocks from a message body",
		Args:        cobra.MaximumNArgs(1),
		Annotations: standalone,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			results := delta.Parse(string(data))
			if validOnly {
				return printJSON(cmd.OutOrStdout(), delta.ValidDeltas(results))
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"summary": delta.Summarize(results),
				"results": results,
			})
		},
	}
	parseCmd.Flags().BoolVar(&validOnly, "valid-only", false, "print only the valid deltas")

	nextIDCmd := &cobra.Command{
		Use:         "next-id <section> [ids...]",
		Short:       "Compute the next target id for a section",
		Args:        cobra.MinimumNArgs(1),
		Annotations: standalone,
		RunE: func(cmd *cobra.Command, args []string) error {
			section, ok := delta.ParseSection(args[0])
			if !ok {
				return fmt.Errorf("%w: %q", delta.ErrUnknownSection, args[0])
			}
			id, err := delta.NextTargetID(section, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	// --- Index ---
	indexCmd := &cobra.Command{Use: "index", Short: "Maintain derived indexes"}
	indexCmd.AddCommand(&cobra.Command{
		Use:       "rebuild [interventions|programs|all]",
		Short:     "Rebuild indexes from the authoritative files",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"interventions", "programs", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			reports, err := tools.RebuildIndexes(cmd.Context(), a.ledger, a.registry, target)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reports)
		},
	})

	// --- Interventions ---
	interventionsCmd := &cobra.Command{Use: "interventions", Short: "Query the intervention ledger"}
	interventionsCmd.AddCommand(&cobra.Command{
		Use:   "summary <session>",
		Short: "Summarize the interventions of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := a.ledger.SessionSummary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}, &cobra.Command{
		Use:   "stats",
		Short: "Global intervention statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.ledger.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	})

	// --- Programs ---
	var statusFlag string
	programsCmd := &cobra.Command{Use: "programs", Short: "Query the program registry"}
	listProgramsCmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				list []registry.Program
				err  error
			)
			if statusFlag != "" {
				status := registry.Status(strings.ToLower(statusFlag))
				if !status.Valid() {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				list, err = a.registry.ListByStatus(cmd.Context(), status)
			} else {
				list, err = a.registry.List(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), list)
		},
	}
	listProgramsCmd.Flags().StringVar(&statusFlag, "status", "", "filter by status (active, paused, completed, abandoned)")
	programsCmd.AddCommand(listProgramsCmd, &cobra.Command{
		Use:   "stats",
		Short: "Program statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.registry.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}, &cobra.Command{
		Use:   "set-status <id> <status>",
		Short: "Change the status of a program",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.registry.SetStatus(cmd.Context(), args[0], registry.Status(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	})

	// --- Message archive ---
	archiveCmd := &cobra.Command{Use: "archive", Short: "Local mirror of Agent Mail messages"}
	archiveCmd.AddCommand(&cobra.Command{
		Use:   "import [file|-]",
		Short: "Import an Agent Mail JSONL export",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()

			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			res, err := archive.ImportJSONL(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}, &cobra.Command{
		Use:   "threads",
		Short: "List archived threads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()
			threads, err := archive.Threads(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), threads)
		},
	}, &cobra.Command{
		Use:   "deltas <thread>",
		Short: "Parse every delta block in an archived thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := a.openArchive()
			if err != nil {
				return err
			}
			defer archive.Close()
			msgs, err := core.ExtractThreadDeltas(cmd.Context(), archive, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), msgs)
		},
	})

	rootCmd.AddCommand(serveCmd, parseCmd, nextIDCmd, indexCmd, interventionsCmd, programsCmd, archiveCmd)
	return rootCmd
}
