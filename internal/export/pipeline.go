package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// Pipeline turns stored conversations into training data files.
// Content is stored masked already; with Remask set every message is run
// through all masking rules once more before it is written.
type Pipeline struct {
	config Config
	logger *zap.Logger
}

// NewPipeline creates a new export pipeline
func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.ProgressReport <= 0 {
		config.ProgressReport = DefaultConfig().ProgressReport
	}
	return &Pipeline{config: config, logger: logger}
}

// LoadConversations reads a conversation dump: either a JSON array, as served
// by the conversations API, or one JSON object per line.
func LoadConversations(r io.Reader) ([]chatlog.Conversation, error) {
	br := bufio.NewReader(r)

	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(br)
	if first == '[' {
		var convs []chatlog.Conversation
		if err := decoder.Decode(&convs); err != nil {
			return nil, fmt.Errorf("failed to decode conversation array: %w", err)
		}
		return convs, nil
	}

	var convs []chatlog.Conversation
	for line := 1; ; line++ {
		var c chatlog.Conversation
		err := decoder.Decode(&c)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode conversation %d: %w", line, err)
		}
		convs = append(convs, c)
	}
	return convs, nil
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// ExportFile writes convs to path in the format its extension names
func (p *Pipeline) ExportFile(ctx context.Context, convs []chatlog.Conversation, path string) (*Result, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}

	result, err := p.Export(ctx, convs, file, DetectFormat(path))
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close output file: %w", closeErr)
	}
	return result, err
}

// Export filters, re-masks and writes convs to w
func (p *Pipeline) Export(ctx context.Context, convs []chatlog.Conversation, w io.Writer, format Format) (*Result, error) {
	start := time.Now()
	result := &Result{Format: format}

	p.logger.Info("Starting export",
		zap.Int("conversations", len(convs)),
		zap.String("format", string(format)),
		zap.Bool("remask", p.config.Remask))

	selected := make([]chatlog.Conversation, 0, len(convs))
	for _, c := range convs {
		if !p.config.Filter.Matches(c) {
			result.Skipped++
			continue
		}
		selected = append(selected, c)
	}

	var err error
	switch format {
	case FormatJSONL, FormatJSON:
		err = p.writeRecords(ctx, selected, w, format == FormatJSONL, result)
	case FormatParquet:
		err = p.writeParquet(ctx, selected, w, result)
	default:
		err = fmt.Errorf("unsupported export format: %s", format)
	}
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	p.logger.Info("Export completed",
		zap.Int64("conversations", result.Conversations),
		zap.Int64("skipped", result.Skipped),
		zap.Int64("messages", result.Messages),
		zap.Int64("remasked", result.Remasked),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// writeRecords writes training records as JSON lines or as a single JSON array
func (p *Pipeline) writeRecords(ctx context.Context, convs []chatlog.Conversation, w io.Writer, lines bool, result *Result) error {
	records := make([]chatlog.TrainingRecord, 0, len(convs))

	err := p.processBatches(ctx, convs, result, func(batch []chatlog.Conversation) error {
		records = append(records, chatlog.ExportForTraining(batch)...)
		return nil
	})
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	if !lines {
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to write record %s: %w", record.ConversationID, err)
		}
	}
	return nil
}

// writeParquet writes one MessageRow per message
func (p *Pipeline) writeParquet(ctx context.Context, convs []chatlog.Conversation, w io.Writer, result *Result) error {
	writer := parquet.NewWriter(w, parquet.SchemaOf(new(MessageRow)))

	err := p.processBatches(ctx, convs, result, func(batch []chatlog.Conversation) error {
		for _, row := range flatten(batch) {
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("failed to write parquet row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		writer.Close()
		return err
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return nil
}

// processBatches re-masks convs batch by batch and hands each batch to write
func (p *Pipeline) processBatches(ctx context.Context, convs []chatlog.Conversation, result *Result, write func([]chatlog.Conversation) error) error {
	for start := 0; start < len(convs); start += p.config.BatchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		end := min(start+p.config.BatchSize, len(convs))
		batch := make([]chatlog.Conversation, 0, end-start)
		for _, c := range convs[start:end] {
			batch = append(batch, p.remask(c, result))
		}

		if err := write(batch); err != nil {
			return err
		}

		before := result.Conversations
		result.Conversations += int64(len(batch))
		if result.Conversations/int64(p.config.ProgressReport) != before/int64(p.config.ProgressReport) {
			p.logger.Info("Export progress",
				zap.Int64("conversations", result.Conversations),
				zap.Int64("messages", result.Messages))
		}
	}
	return nil
}

// remask returns a copy of c with every message passed through all rules
func (p *Pipeline) remask(c chatlog.Conversation, result *Result) chatlog.Conversation {
	messages := make([]chatlog.Message, len(c.Messages))
	for i, m := range c.Messages {
		result.Messages++
		if p.config.Remask {
			masked := privacy.Mask(m.Content, privacy.DefaultMaskingConfig())
			if masked.HasPII {
				result.Remasked++
				p.logger.Warn("Unmasked PII found in stored message",
					zap.String("conversation_id", c.ID),
					zap.String("message_id", m.ID),
					zap.Int("detections", len(masked.Detections)))
			}
			m.Content = masked.MaskedText
		}
		messages[i] = m
	}
	c.Messages = messages
	return c
}

// flatten converts conversations into per-message rows
func flatten(convs []chatlog.Conversation) []MessageRow {
	var rows []MessageRow
	for idx, record := range chatlog.ExportForTraining(convs) {
		conv := convs[idx]
		for i, m := range record.Messages {
			row := MessageRow{
				ConversationID: record.ConversationID,
				CustomerID:     conv.CustomerID,
				Outlet:         conv.Outlet,
				Outcome:        string(record.Metadata.Outcome),
				Satisfaction:   int32(record.Metadata.Satisfaction),
				Turn:           int32(i),
				Role:           m.Role,
				Content:        m.Content,
				TimestampMs:    m.Timestamp.UnixMilli(),
				PIICount:       int32(record.Metadata.PIICount),
				MessageID:      conv.Messages[i].ID,
				Rating:         conv.Messages[i].Rating,
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// ReadParquet reads rows written by Export
func ReadParquet(r io.ReaderAt) ([]MessageRow, error) {
	reader := parquet.NewReader(r)
	defer reader.Close()

	var rows []MessageRow
	for {
		var row MessageRow
		err := reader.Read(&row)
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("failed to read parquet row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
