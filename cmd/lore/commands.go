package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "lore.yaml"

type runOptions struct {
	configPath string
	provider   string
	model      string
	root       string
	skillOnly  bool
	debug      bool
	jsonOutput bool
	record     string
	replay     string
	strict     bool
}

// buildRunCmd creates the "run" command that drives one agent session.
func buildRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run an exploration session",
		Long: `Run one agent session against the project root.

The agent explores with read_file, search_code and list_files, submits
knowledge with submit_knowledge, and finishes with a summary. The session
transcript is stored when transcripts.path is configured.`,
		Example: `  # Explore with the configured default provider
  lore run "How are provider errors classified?"

  # Override the provider and model
  lore run --provider openai --model gpt-4o-mini "Describe the CLI"

  # Record a session, then rerun it offline
  lore run --record session.tape.json "Describe the CLI"
  lore run --replay session.tape.json "Describe the CLI"

  # Replay and report requests that drifted from the recording
  lore run --replay session.tape.json --replay-strict "Describe the CLI"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			task := strings.TrimSpace(strings.Join(args, " "))
			if task == "" {
				return errors.New("a task is required")
			}
			if opts.strict && opts.replay == "" {
				return errors.New("--replay-strict requires --replay")
			}
			opts.configPath = resolveConfigPath(opts.configPath)
			return runSession(cmd.Context(), cmd.OutOrStdout(), opts, task)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file (default lore.yaml or $LORE_CONFIG)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "Provider to use (anthropic, gemini, openai)")
	cmd.Flags().StringVar(&opts.model, "model", "", "Model override for the selected provider")
	cmd.Flags().StringVar(&opts.root, "root", "", "Project root the file tools are scoped to")
	cmd.Flags().BoolVar(&opts.skillOnly, "skill-only", false, "Skip the produce phase")
	cmd.Flags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the session result as JSON")
	cmd.Flags().StringVar(&opts.record, "record", "", "Write every provider turn to this tape file")
	cmd.Flags().StringVar(&opts.replay, "replay", "", "Answer from a recorded tape instead of calling the provider")
	cmd.Flags().BoolVar(&opts.strict, "replay-strict", false, "Report requests that differ from the recorded ones")
	cmd.MarkFlagsMutuallyExclusive("record", "replay")
	return cmd
}

// buildToolsCmd creates the "tools" command that prints the tool catalog.
func buildToolsCmd() *cobra.Command {
	var (
		root       string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered to the agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printTools(cmd.OutOrStdout(), root, jsonOutput)
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Project root the file tools are scoped to")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print full parameter schemas as JSON")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printConfigSchema(cmd.OutOrStdout())
		},
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return validateConfig(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}

// buildTranscriptsCmd creates the "transcripts" command group.
func buildTranscriptsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "transcripts",
		Short: "Browse stored session transcripts",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listTranscripts(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), limit)
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum sessions to list")

	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the steps of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showTranscript(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), args[0])
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete one stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return deleteTranscript(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), args[0])
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}

// buildEmbedCmd creates the "embed" command, a smoke test for the embedding endpoint.
func buildEmbedCmd() *cobra.Command {
	var (
		configPath string
		provider   string
	)
	cmd := &cobra.Command{
		Use:   "embed <text>...",
		Short: "Embed text with the configured provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return embedText(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), provider, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider to use (gemini, openai)")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "lore "+versionString())
		},
	}
}
