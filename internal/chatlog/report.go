package chatlog

import (
	"math"
	"time"

	"github.com/groundtruth-ai/restaurant-chat/internal/privacy"
)

// Statistics summarizes the conversation log for the admin dashboard
type Statistics struct {
	TotalChats        int     `json:"totalChats"`
	ActiveChats       int     `json:"activeChats"`
	DailyInteractions int     `json:"dailyInteractions"`
	PIIMaskingRate    float64 `json:"piiMaskingRate"`
	EscalationRate    int     `json:"escalationRate"`
	SatisfactionScore int     `json:"satisfactionScore"`
}

// MaskingMetrics reports how much traffic was scanned and masked.
// MaskingEffectiveness, FalsePositives and DetectionAccuracy are fixed display
// values, not measurements; Placeholder marks them as such.
type MaskingMetrics struct {
	TotalScanned         int                      `json:"totalScanned"`
	PIIDetected          int                      `json:"piiDetected"`
	DetectionsByType     map[privacy.Category]int `json:"detectionsByType"`
	MaskingEffectiveness int                      `json:"maskingEffectiveness"`
	FalsePositives       int                      `json:"falsePositives"`
	DetectionAccuracy    int                      `json:"detectionAccuracy"`
	Placeholder          bool                     `json:"placeholder"`
}

// TrainingRecord is one exported conversation
type TrainingRecord struct {
	ConversationID string            `json:"conversationId"`
	Messages       []TrainingMessage `json:"messages"`
	Metadata       TrainingMetadata  `json:"metadata"`
}

// TrainingMessage is a message in chat-completion role form
type TrainingMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// TrainingMetadata describes the outcome of an exported conversation
type TrainingMetadata struct {
	Outcome      Status   `json:"outcome"`
	Satisfaction int      `json:"satisfaction,omitempty"`
	Topics       []string `json:"topics,omitempty"`
	PIICount     int      `json:"piiCount"`
}

func countMessages(convs []Conversation) (messages, detections int) {
	for _, c := range convs {
		messages += len(c.Messages)
		detections += len(c.PIIDetections)
	}
	return messages, detections
}

// ComputeStatistics derives dashboard statistics at time now
func ComputeStatistics(convs []Conversation, now time.Time) Statistics {
	stats := Statistics{TotalChats: len(convs)}
	dayAgo := now.Add(-24 * time.Hour)

	var escalated, resolved, satisfaction int
	for _, c := range convs {
		switch c.Status {
		case StatusActive:
			stats.ActiveChats++
		case StatusEscalated:
			escalated++
		case StatusResolved:
			resolved++
			satisfaction += c.SatisfactionRating
		}
		if !c.StartTime.Before(dayAgo) {
			stats.DailyInteractions++
		}
	}

	messages, detections := countMessages(convs)
	if messages > 0 {
		stats.PIIMaskingRate = float64(detections) / float64(messages) * 100
	}
	if len(convs) > 0 {
		stats.EscalationRate = int(math.Round(float64(escalated) / float64(len(convs)) * 100))
	}
	if resolved > 0 {
		stats.SatisfactionScore = int(math.Round(float64(satisfaction) / float64(resolved) * 20))
	}

	return stats
}

// ComputeMaskingMetrics counts scanned messages and recorded detections
func ComputeMaskingMetrics(convs []Conversation) MaskingMetrics {
	messages, detections := countMessages(convs)

	byType := make(map[privacy.Category]int)
	for _, c := range convs {
		for _, record := range c.PIIDetections {
			for _, d := range record.Detections {
				byType[d.Type]++
			}
		}
	}

	return MaskingMetrics{
		TotalScanned:         messages,
		PIIDetected:          detections,
		DetectionsByType:     byType,
		MaskingEffectiveness: 100,
		FalsePositives:       0,
		DetectionAccuracy:    98,
		Placeholder:          true,
	}
}

// ExportForTraining converts conversations into training records.
// Content is exported as stored, which is already masked.
func ExportForTraining(convs []Conversation) []TrainingRecord {
	records := make([]TrainingRecord, 0, len(convs))
	for _, c := range convs {
		messages := make([]TrainingMessage, 0, len(c.Messages))
		for _, m := range c.Messages {
			role := "assistant"
			if m.Sender == SenderUser {
				role = "user"
			}
			messages = append(messages, TrainingMessage{
				Role:      role,
				Content:   m.Content,
				Timestamp: m.Timestamp,
			})
		}

		records = append(records, TrainingRecord{
			ConversationID: c.ID,
			Messages:       messages,
			Metadata: TrainingMetadata{
				Outcome:      c.Status,
				Satisfaction: c.SatisfactionRating,
				Topics:       c.Tags,
				PIICount:     len(c.PIIDetections),
			},
		})
	}
	return records
}
