package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
	"github.com/groundtruth-ai/restaurant-chat/internal/export"
	"github.com/groundtruth-ai/restaurant-chat/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Conversation dump (JSON array or JSON lines); reads PostgreSQL when empty")
		outputFile = flag.String("output", "", "Output file (.jsonl, .json or .parquet)")
		status     = flag.String("status", "", "Only export conversations with this status")
		from       = flag.String("from", "", "Only export conversations started at or after this RFC 3339 time")
		to         = flag.String("to", "", "Only export conversations started at or before this RFC 3339 time")
		batchSize  = flag.Int("batch-size", 500, "Conversations re-masked per batch")
		noRemask   = flag.Bool("no-remask", false, "Write stored content without masking it again")
	)
	flag.Parse()

	if *outputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -output training.jsonl -status resolved\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -input conversations.json -output training.parquet\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	filter, err := parseFilter(*status, *from, *to)
	if err != nil {
		log.Fatal("Invalid filter", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling export...")
		cancel()
	}()

	convs, err := loadConversations(ctx, cfg, *inputFile, filter, log)
	if err != nil {
		log.Fatal("Failed to load conversations", zap.Error(err))
	}

	exportConfig := export.DefaultConfig()
	exportConfig.Filter = filter
	exportConfig.BatchSize = *batchSize
	exportConfig.Remask = !*noRemask

	pipeline := export.NewPipeline(exportConfig, log.Logger)
	result, err := pipeline.ExportFile(ctx, convs, *outputFile)
	if err != nil {
		log.Fatal("Export failed", zap.Error(err))
	}

	if result.Remasked > 0 {
		log.Warn("Stored messages contained unmasked PII", zap.Int64("messages", result.Remasked))
	}

	log.Info("Training data written",
		zap.String("output", *outputFile),
		zap.String("format", string(result.Format)),
		zap.Int64("conversations", result.Conversations),
		zap.Int64("messages", result.Messages),
		zap.Duration("duration", result.Duration))
}

func parseFilter(status, from, to string) (chatlog.Filter, error) {
	filter := chatlog.Filter{Status: chatlog.Status(status)}

	var err error
	if from != "" {
		if filter.From, err = time.Parse(time.RFC3339, from); err != nil {
			return filter, fmt.Errorf("invalid -from: %w", err)
		}
	}
	if to != "" {
		if filter.To, err = time.Parse(time.RFC3339, to); err != nil {
			return filter, fmt.Errorf("invalid -to: %w", err)
		}
	}
	return filter, nil
}

// loadConversations reads the dump file when given, otherwise queries the
// configured database
func loadConversations(ctx context.Context, cfg *config.Config, inputFile string, filter chatlog.Filter, log *logger.Logger) ([]chatlog.Conversation, error) {
	if inputFile != "" {
		file, err := os.Open(inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()

		log.Info("Reading conversation dump", zap.String("file", inputFile))
		return export.LoadConversations(file)
	}

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no -input given and no database URL configured")
	}

	store, err := chatlog.NewPostgresStore(cfg.Database, log.Logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.List(ctx, filter)
}
