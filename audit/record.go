package audit

import (
	"time"

	"go.uber.org/zap"
)

// Record is the decision trace of one turn.
type Record struct {
	ConversationID string            `json:"conversation_id"`
	Caller         string            `json:"caller"`
	Turn           int               `json:"turn"`
	Transcript     string            `json:"transcript"`
	Reply          string            `json:"reply"`
	Mode           string            `json:"mode"`
	Rule           string            `json:"rule,omitempty"`
	Slots          map[string]string `json:"slots"`
	ChangedSlots   map[string]string `json:"changed_slots"`
	MissingSlots   []string          `json:"missing_slots"`
	UsedDocs       []string          `json:"used_docs"`
	BookingID      string            `json:"booking_id,omitempty"`
	AudioURL       string            `json:"audio_url,omitempty"`
	DeveloperNote  map[string]any    `json:"developer_note,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

func (r Record) fields() []zap.Field {
	return []zap.Field{
		zap.String("conversation_id", r.ConversationID),
		zap.Int("turn", r.Turn),
		zap.String("mode", r.Mode),
		zap.String("rule", r.Rule),
		zap.Any("changed_slots", r.ChangedSlots),
		zap.Strings("missing_slots", r.MissingSlots),
		zap.Strings("used_docs", r.UsedDocs),
		zap.String("booking_id", r.BookingID),
	}
}
