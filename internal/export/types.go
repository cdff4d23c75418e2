package export

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/groundtruth-ai/restaurant-chat/internal/chatlog"
)

// Format is an output file format
type Format string

const (
	FormatJSONL   Format = "jsonl"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// DetectFormat picks the output format from a file extension, defaulting to JSONL
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json":
		return FormatJSON
	default:
		return FormatJSONL
	}
}

// MessageRow is one flattened message, the row type of Parquet exports
type MessageRow struct {
	ConversationID string `parquet:"conversation_id" json:"conversation_id"`
	CustomerID     string `parquet:"customer_id" json:"customer_id"`
	Outlet         string `parquet:"outlet" json:"outlet"`
	Outcome        string `parquet:"outcome" json:"outcome"`
	Satisfaction   int32  `parquet:"satisfaction" json:"satisfaction"`
	Turn           int32  `parquet:"turn" json:"turn"`
	MessageID      string `parquet:"message_id" json:"message_id"`
	Role           string `parquet:"role" json:"role"`
	Content        string `parquet:"content" json:"content"`
	Rating         string `parquet:"rating" json:"rating"`
	TimestampMs    int64  `parquet:"timestamp_ms" json:"timestamp_ms"`
	PIICount       int32  `parquet:"pii_count" json:"pii_count"`
}

// Config contains export pipeline configuration
type Config struct {
	Filter         chatlog.Filter
	Remask         bool `yaml:"remask" mapstructure:"remask"`                   // true
	BatchSize      int  `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	ProgressReport int  `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// DefaultConfig returns the export defaults
func DefaultConfig() Config {
	return Config{
		Remask:         true,
		BatchSize:      500,
		ProgressReport: 1000,
	}
}

// Result summarises one export run
type Result struct {
	Conversations int64         `json:"conversations"`
	Skipped       int64         `json:"skipped"`
	Messages      int64         `json:"messages"`
	Remasked      int64         `json:"remasked"`
	Format        Format        `json:"format"`
	Duration      time.Duration `json:"duration"`
}
