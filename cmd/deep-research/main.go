package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/mikeboe/deep-research/pkg/completion"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/prompt"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/ui"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	model     string
	provider  string
	apiKeys   map[string]string
	direct    bool
	verbose   bool
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "deep-research [idea]",
		Short: "Stream a market analysis for an app idea",
		Long:  `deep-research sends an app idea to a language model and renders the market analysis live as it streams in.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
			slog.SetDefault(logger)

			idea := strings.TrimSpace(strings.Join(args, " "))
			if idea == "" {
				fmt.Fprint(os.Stderr, "Describe your app idea: ")
				input, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				idea = strings.TrimSpace(input)
			}

			var svc completion.Service
			if direct {
				svc = promptedService{completion.NewLLMService(cfg.ProviderKeys, cfg.BaseURLs(), logger)}
			} else {
				svc = completion.NewHTTPClient(serverURL)
			}

			var credentials map[string]string
			if cmd.Flags().Changed("api-key") {
				credentials = apiKeys
			}

			controller := research.NewController(svc, research.WithLogger(logger))
			display := ui.NewDisplay(os.Stdout, ui.WithSpinner(os.Stderr, "Researching..."))
			display.Start(idea)

			done := controller.Start(cmd.Context(), idea, display.Set, model, completion.ProviderInfo{Name: provider}, credentials)
			<-done

			display.Finish(statusLine(idea, display.Value()))
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&serverURL, "server", "s", cfg.ServerURL, "Deep research server URL")
	rootCmd.Flags().StringVarP(&model, "model", "m", cfg.DefaultModel, "Model name")
	rootCmd.Flags().StringVarP(&provider, "provider", "p", cfg.DefaultProvider, "Provider name")
	rootCmd.Flags().StringToStringVar(&apiKeys, "api-key", nil, "API keys by provider, e.g. --api-key OpenAI=sk-...")
	rootCmd.Flags().BoolVar(&direct, "direct", false, "Call the provider in-process instead of going through a server")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stderr")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

// statusLine describes how a session ended. The controller only logs
// failures, so a stream cut short looks the same as a finished one.
func statusLine(idea, shown string) string {
	if shown == idea || shown == "" {
		return color.New(color.FgRed).Sprint("✗ no analysis received, see logs with --verbose")
	}
	return color.New(color.FgHiBlack).Sprint("research finished, run with --verbose to see errors")
}

// promptedService wraps the idea in the market analysis prompt, as the server
// does, before calling the provider directly.
type promptedService struct {
	inner completion.Service
}

func (p promptedService) Complete(ctx context.Context, req completion.Request) (io.ReadCloser, error) {
	req.Text = prompt.MarketAnalysis(req.Model, req.Provider.Name, req.Text)
	return p.inner.Complete(ctx, req)
}
