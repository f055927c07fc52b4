package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kisanmitra.ai/assistant/internal/core"
	"kisanmitra.ai/assistant/internal/language"
	"kisanmitra.ai/assistant/internal/store"
)

const defaultAdvisoryFile = "advisories.md"

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Replace the government advisories from a markdown table",
	Long: `Reads a markdown table with the columns | title | posted | content | and
replaces the advisories shown on the Government Connect view.
Defaults to ` + defaultAdvisoryFile + `.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		path := defaultAdvisoryFile
		if len(args) == 1 {
			path = args[0]
		}
		dbStore, err := store.NewSQLiteStore(cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer func() {
			if cerr := dbStore.Close(); cerr != nil {
				err = multierror.Append(err, cerr)
			}
		}()

		logger.Info("Starting advisory ingestion", zap.String("file", path))
		n, err := dbStore.IngestAdvisoriesFromFile(cmd.Context(), path)
		if err != nil {
			return fmt.Errorf("advisory ingestion failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d advisories from %s\n", n, path)
		return nil
	},
}

var (
	askLanguage string
	askSearch   bool
	askImage    string
	askRaw      bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask Kisan Mitra a single question from the terminal",
	Example: `  kisan-mitra ask "Best time to sow wheat in Punjab?"
  kisan-mitra ask --lang hi-IN --search "Onion prices in Nashik today"
  kisan-mitra ask --image leaf.jpg "What is wrong with this leaf?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askLanguage, "lang", "l", language.Default().Code, "language code for the reply")
	askCmd.Flags().BoolVar(&askSearch, "search", false, "ground the reply with Google Search")
	askCmd.Flags().StringVar(&askImage, "image", "", "path of an image to attach")
	askCmd.Flags().BoolVar(&askRaw, "raw", false, "print markdown without terminal rendering")
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := cfg.RequireGemini(); err != nil {
		return err
	}
	lang, ok := language.Lookup(askLanguage)
	if !ok {
		return fmt.Errorf("unknown language %q", askLanguage)
	}
	image, err := loadImage(askImage)
	if err != nil {
		return err
	}

	llmService, err := core.NewLLMService(cmd.Context(), cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	if err != nil {
		return err
	}
	conv := core.NewConversation(llmService, core.ConversationOptions{
		View:        "cli",
		UseSearch:   askSearch,
		AllowImages: true,
	}, logger)
	defer conv.Close()

	reply, err := conv.Send(cmd.Context(), core.SendRequest{
		Prompt:   strings.Join(args, " "),
		Image:    image,
		Language: lang,
	}, nil)
	if err != nil && reply.Role == "" {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderMarkdown(reply.Text()))
	for i, src := range reply.Sources() {
		if i == 0 {
			fmt.Fprintln(out, "\nSources:")
		}
		fmt.Fprintf(out, "  %d. %s <%s>\n", i+1, src.DisplayTitle(), src.URI)
	}
	return err
}

func loadImage(path string) (*core.Attachment, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, errors.New("attachment must be an image, got " + mimeType)
	}
	return &core.Attachment{Name: filepath.Base(path), MIMEType: mimeType, Data: data}, nil
}

func renderMarkdown(content string) string {
	if askRaw {
		return content + "\n"
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return content + "\n"
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content + "\n"
	}
	return rendered
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List the supported languages",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, l := range language.All() {
			fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s\n", l.Code, l.Label())
		}
	},
}
