package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/genchat/backend/internal/config"
	"github.com/zhouzirui/genchat/backend/internal/logging"
	"github.com/zhouzirui/genchat/backend/internal/service/ai"
	"github.com/zhouzirui/genchat/backend/internal/service/extract"
)

type options struct {
	text     string
	file     string
	context  string
	fields   []string
	retries  int
	timeout  time.Duration
	logLevel string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "extractor --field name=description [--field ...] [--text TEXT | --file PATH]",
		Short: "Extract structured fields from free text with the configured model",
		Long: `Runs the self-correcting extraction loop against the Ark model configured
through ARK_* environment variables and prints the result as JSON.
Text is read from --text, --file, or stdin.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExtract(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.text, "text", "", "input text")
	flags.StringVar(&opts.file, "file", "", "read input text from file")
	flags.StringVar(&opts.context, "context", "", "what the text is about")
	flags.StringArrayVarP(&opts.fields, "field", "f", nil, "field as name=description, repeatable and ordered")
	flags.IntVar(&opts.retries, "retries", 0, "total model calls (default EXTRACT_RETRY_LIMIT)")
	flags.DurationVar(&opts.timeout, "timeout", 60*time.Second, "overall timeout")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func runExtract(cmd *cobra.Command, opts *options) error {
	format, err := parseFields(opts.fields)
	if err != nil {
		return err
	}

	text, err := readInput(opts, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}
	logger, err := logging.New(opts.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	aiService, err := ai.NewService(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}

	retries := cfg.Chat.ExtractRetryLimit
	if opts.retries > 0 {
		retries = opts.retries
	}
	extractor := extract.NewExtractor(aiService, extract.WithRetryLimit(retries), extract.WithLogger(logger))

	result, err := extractor.Extract(ctx, text, opts.context, format)
	if err != nil {
		logger.Debug("extraction failed", zap.Error(err))
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(ordered(format, result))
}

// parseFields turns name=description pairs into a format, keeping flag order.
func parseFields(raw []string) (extract.Format, error) {
	format := make(extract.Format, 0, len(raw))
	for _, item := range raw {
		name, desc, _ := strings.Cut(item, "=")
		format = append(format, extract.Field{Name: strings.TrimSpace(name), Description: strings.TrimSpace(desc)})
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return format, nil
}

func readInput(opts *options, stdin io.Reader) (string, error) {
	var text string
	switch {
	case opts.text != "" && opts.file != "":
		return "", fmt.Errorf("use either --text or --file, not both")
	case opts.text != "":
		text = opts.text
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return "", err
		}
		text = string(data)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("input text is empty")
	}
	return text, nil
}

// ordered renders result as a JSON object in format order.
func ordered(format extract.Format, result map[string]string) json.RawMessage {
	var b strings.Builder
	b.WriteByte('{')
	for i, field := range format {
		if i > 0 {
			b.WriteByte(',')
		}
		k, _ := json.Marshal(field.Name)
		v, _ := json.Marshal(result[field.Name])
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return json.RawMessage(b.String())
}
