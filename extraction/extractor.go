package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/room4-2/OpenBooking/llm"
	"github.com/room4-2/OpenBooking/slots"
	"go.uber.org/zap"
)

const systemPromptTemplate = `You are a structured appointment assistant for %s. Extract patient details and respond conversationally. When values are missing, ask concise follow-up questions. If the user asks a general clinic question, answer briefly but still remind them you can schedule appointments.
Return a JSON object with the keys patient_name, appointment_reason, preferred_date, preferred_time, doctor_preference (string or null) and reply (string).`

// Result is what one extraction call yields.
type Result struct {
	// Updates holds candidate slot values, already filtered to recognized
	// slots that differ from the current state.
	Updates map[string]string
	// Reply is the conversational reply the model suggested, possibly empty.
	Reply string
}

// Extractor asks a language model for slot values found in a transcript.
type Extractor struct {
	completer    llm.Completer
	systemPrompt string
	log          *zap.Logger
}

func New(completer llm.Completer, facilityName string, log *zap.Logger) *Extractor {
	return &Extractor{
		completer:    completer,
		systemPrompt: fmt.Sprintf(systemPromptTemplate, facilityName),
		log:          log.Named("extraction"),
	}
}

type request struct {
	KnownSlots map[string]string `json:"known_slots"`
	Utterance  string            `json:"utterance"`
}

// Extract calls the model once. A transport failure is returned to the
// caller; unparseable output degrades to no updates and no reply.
func (e *Extractor) Extract(ctx context.Context, transcript string, current slots.Slots) (Result, error) {
	payload, err := sonic.MarshalString(request{
		KnownSlots: current.Known(),
		Utterance:  transcript,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode extraction request: %w", err)
	}

	raw, err := e.completer.CompleteJSON(ctx, e.systemPrompt, payload)
	if err != nil {
		return Result{}, err
	}

	found, reply, ok := Parse(raw)
	if !ok {
		e.log.Warn("malformed extraction output, ignoring", zap.Int("bytes", len(raw)))
		return Result{Updates: map[string]string{}}, nil
	}

	updates := make(map[string]string, len(found))
	for name, value := range found {
		if existing, ok := current.Get(name); ok && existing == value {
			continue
		}
		updates[string(name)] = value
	}

	return Result{Updates: updates, Reply: reply}, nil
}

// Parse decodes a model payload into trimmed, non-empty slot values and the
// suggested reply. ok is false when raw is not a JSON object.
func Parse(raw string) (map[slots.Name]string, string, bool) {
	var data map[string]any
	if err := sonic.UnmarshalString(raw, &data); err != nil || data == nil {
		return nil, "", false
	}

	found := make(map[slots.Name]string)
	for _, name := range slots.Ordered {
		value, ok := data[string(name)].(string)
		if !ok {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			found[name] = value
		}
	}

	reply, _ := data["reply"].(string)
	return found, strings.TrimSpace(reply), true
}
