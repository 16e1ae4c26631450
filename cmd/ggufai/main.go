// Command ggufai runs one generation against a local GGUF model.
// The prompt comes from the command line arguments, or from stdin when no
// arguments are given; the completion is printed to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ggufai "github.com/ggufai/ggufai"
	"github.com/ggufai/ggufai/generate"
)

func main() {
	configPath := flag.String("config", "", "config file (default: "+ggufai.ConfigPath()+")")
	modelPath := flag.String("model", "", "path to the .gguf model file (overrides config)")
	maxTokens := flag.Int("n", 0, "per-call generation cap (0 = use configured max_tokens)")
	stop := flag.String("stop", "", "stop generation at this string")
	verbose := flag.Bool("verbose", false, "log budgeting and backend details to stderr")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("ggufai", ggufai.Version)
		os.Exit(0)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := ggufai.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}

	prompt, err := readPrompt(flag.Args())
	if err != nil {
		slog.Error("failed to read prompt", "error", err)
		os.Exit(1)
	}

	engine, err := generate.NewEngine(cfg)
	if err != nil {
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []generate.Option
	if *maxTokens > 0 {
		opts = append(opts, generate.WithMaxTokens(*maxTokens))
	}
	if *stop != "" {
		opts = append(opts, generate.WithStop(*stop))
	}

	out, err := engine.Infer(ctx, prompt, opts...)
	if err != nil {
		slog.Error("generation failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(out)
}

// readPrompt joins argv, or reads all of stdin when no args are given.
func readPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
