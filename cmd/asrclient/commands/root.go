package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appconfig "github.com/saker-ai/asr-sdk-go/internal/config"
	applogger "github.com/saker-ai/asr-sdk-go/internal/logger"
	"github.com/saker-ai/asr-sdk-go/pkg/asr"
)

// globalOptions are the persistent flags shared by all subcommands.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool

	serverURL  string
	user       string
	password   string
	models     []string
	grammars   []string
	modelFile  string
	historyDir string
}

// NewRootCommand builds the asrclient command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "asrclient",
		Short: "Command line client for the ASR websocket server",
		Long: `asrclient - recognize audio files against an ASR server.

Configuration is read from conf.yaml in the working directory (or ASR_ROOT_DIR),
then ASR_* environment variables, then flags.

Examples:
  # Recognize a file with the phone grammar
  asrclient recognize --server ws://127.0.0.1:8025/asr-server/asr \
      --lm builtin:grammar/samples/phone audio/phone.wav

  # Inline grammar from a file
  asrclient recognize --grammar yesno=grammars/yesno.gram audio/yes.wav

  # Run 20 concurrent sessions, 5 recognitions each
  asrclient bench --sessions 20 --rounds 5 audio/phone.wav`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default: conf.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging and listener events")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")
	flags.StringVar(&opts.serverURL, "server", "", "server websocket url")
	flags.StringVar(&opts.user, "user", "", "basic auth user")
	flags.StringVar(&opts.password, "password", "", "basic auth password")
	flags.StringArrayVar(&opts.models, "lm", nil, "language model uri, repeatable")
	flags.StringArrayVar(&opts.grammars, "grammar", nil, "inline grammar as alias=path, repeatable")
	flags.StringVar(&opts.modelFile, "lm-file", "", "language model manifest (yaml)")
	flags.StringVar(&opts.historyDir, "history-dir", "", "opt-in transcript history directory, off when empty")

	root.AddCommand(newRecognizeCommand(opts))
	root.AddCommand(newBenchCommand(opts))
	root.AddCommand(newHistoryCommand(opts))
	return root
}

// load reads the configuration and applies flag overrides.
func (o *globalOptions) load(cmd *cobra.Command) (appconfig.Config, *zap.Logger, error) {
	cfg, err := appconfig.LoadConfig(o.configPath)
	if err != nil {
		return appconfig.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Client.ServerURL = o.serverURL
	}
	if flags.Changed("user") {
		cfg.Client.User = o.user
	}
	if flags.Changed("password") {
		cfg.Client.Password = o.password
	}
	if flags.Changed("history-dir") {
		cfg.Client.HistoryDir = o.historyDir
	}
	if o.verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return cfg, logger, nil
}

// languageModels builds the model list from --lm/--grammar, or from the
// manifest and config when neither is given.
func (o *globalOptions) languageModels(client appconfig.ClientConfig) (asr.LanguageModelList, error) {
	if o.modelFile != "" {
		return appconfig.ReadLanguageModels(o.modelFile)
	}
	if len(o.models) == 0 && len(o.grammars) == 0 {
		return client.LanguageModelList()
	}

	models := make([]asr.LanguageModel, 0, len(o.models)+len(o.grammars))
	for _, uri := range o.models {
		models = append(models, asr.URI(uri))
	}
	for _, g := range o.grammars {
		alias, path, ok := strings.Cut(g, "=")
		if !ok || alias == "" || path == "" {
			return asr.LanguageModelList{}, fmt.Errorf("invalid --grammar %q, want alias=path", g)
		}
		lm, err := asr.GrammarFromFile(alias, path)
		if err != nil {
			return asr.LanguageModelList{}, err
		}
		models = append(models, lm)
	}
	return asr.NewLanguageModelList(models...)
}
