package turn

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/room4-2/OpenBooking/audit"
	"github.com/room4-2/OpenBooking/extraction"
	"github.com/room4-2/OpenBooking/metrics"
	"github.com/room4-2/OpenBooking/policy"
	"github.com/room4-2/OpenBooking/retrieval"
	"github.com/room4-2/OpenBooking/session"
	"github.com/room4-2/OpenBooking/slots"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RepeatPrompt is spoken when the caller said nothing intelligible.
const RepeatPrompt = "I did not catch that. Could you repeat after the beep?"

// State is the booking state of a conversation.
type State string

const (
	StateCollecting           State = "COLLECTING"
	StateReadyForConfirmation State = "READY_FOR_CONFIRMATION"
	StateCompleted            State = "COMPLETED"
)

// StateOf derives the booking state from a slot set.
func StateOf(s slots.Slots) State {
	if s.Complete() {
		return StateReadyForConfirmation
	}
	return StateCollecting
}

type Extractor interface {
	Extract(ctx context.Context, transcript string, current slots.Slots) (extraction.Result, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Document, error)
}

type Decider interface {
	Decide(ctx context.Context, in policy.Input) (policy.Decision, error)
}

// Speaker turns the reply into playable audio and returns its URL.
type Speaker interface {
	Speak(ctx context.Context, conversationID string, seq int, text string) (string, error)
}

// BookingRecorder stores a completed booking. An empty id with a nil error
// means persistence is disabled.
type BookingRecorder interface {
	RecordBooking(ctx context.Context, conversationID string, s slots.Slots, metadata map[string]any) (string, error)
}

type Auditor interface {
	Emit(ctx context.Context, rec audit.Record)
}

// Deps wires the orchestrator. Speaker, Bookings and Audit are optional.
type Deps struct {
	Sessions  session.Store
	Extractor Extractor
	Retriever Retriever
	Policy    Decider
	Speaker   Speaker
	Bookings  BookingRecorder
	Audit     Auditor
}

// Outcome is the result of one turn.
type Outcome struct {
	ConversationID    string               `json:"conversation_id"`
	Turn              int                  `json:"turn"`
	Reply             string               `json:"reply"`
	Mode              policy.Mode          `json:"mode"`
	State             State                `json:"state"`
	Slots             map[string]*string   `json:"slots"`
	MissingSlots      []string             `json:"missing_slots"`
	ChangedSlots      map[string]string    `json:"changed_slots"`
	BookingID         string               `json:"booking_id,omitempty"`
	UsedDocs          []string             `json:"used_docs"`
	Documents         []retrieval.Document `json:"retrieved_docs"`
	AudioURL          string               `json:"audio_url,omitempty"`
	DeveloperNote     map[string]any       `json:"developer_note,omitempty"`
	ContinueListening bool                 `json:"continue_listening"`
}

// Orchestrator drives one turn end to end. It keeps no state between turns;
// everything per conversation lives in the session store.
type Orchestrator struct {
	deps   Deps
	tracer trace.Tracer
	log    *zap.Logger
	now    func() time.Time
}

func New(deps Deps, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		tracer: otel.Tracer("github.com/room4-2/OpenBooking/turn"),
		log:    log.Named("turn"),
		now:    time.Now,
	}
}

// ProcessTurn handles one caller utterance. Collaborators are called once
// each, in order; a failing collaborator aborts the turn with an
// *UpstreamError. Nothing is written before extraction succeeds.
func (o *Orchestrator) ProcessTurn(ctx context.Context, conversationID, caller, transcript string) (*Outcome, error) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "turn.process", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
	))
	defer span.End()

	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		current := o.deps.Sessions.Get(ctx, conversationID)
		metrics.TurnsTotal.WithLabelValues(string(policy.ModeGenericPrompt)).Inc()
		return &Outcome{
			ConversationID:    conversationID,
			Turn:              current.Turns,
			Reply:             RepeatPrompt,
			Mode:              policy.ModeGenericPrompt,
			State:             StateOf(current.Slots),
			Slots:             current.Slots.ToMap(),
			MissingSlots:      slots.NamesToStrings(current.Slots.Missing()),
			ChangedSlots:      map[string]string{},
			UsedDocs:          []string{},
			Documents:         []retrieval.Document{},
			ContinueListening: true,
		}, nil
	}

	out, err := o.process(ctx, conversationID, caller, transcript)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		stage := "unknown"
		var ue *UpstreamError
		if errors.As(err, &ue) {
			stage = string(ue.Stage)
		}
		metrics.TurnFailures.WithLabelValues(stage).Inc()
		o.log.Error("turn failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("turn.mode", string(out.Mode)))
	metrics.TurnsTotal.WithLabelValues(string(out.Mode)).Inc()
	metrics.TurnDuration.Observe(o.now().Sub(start).Seconds())
	return out, nil
}

func (o *Orchestrator) process(ctx context.Context, conversationID, caller, transcript string) (*Outcome, error) {
	log := o.log.With(zap.String("conversation_id", conversationID))
	current := o.deps.Sessions.Get(ctx, conversationID)

	var extracted extraction.Result
	err := o.stage(ctx, StageExtraction, func(ctx context.Context) (err error) {
		extracted, err = o.deps.Extractor.Extract(ctx, transcript, current.Slots)
		return err
	})
	if err != nil {
		return nil, err
	}

	_, applied := slots.Merge(current.Slots, extracted.Updates)

	var state session.State
	err = o.stage(ctx, StageSession, func(ctx context.Context) (err error) {
		state, err = o.deps.Sessions.Update(ctx, conversationID, applied)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		log.Info("slots updated", zap.Strings("applied", slots.NamesToStrings(applied.Names())))
	}

	var docs []retrieval.Document
	err = o.stage(ctx, StageRetrieval, func(ctx context.Context) (err error) {
		docs, err = o.deps.Retriever.Retrieve(ctx, transcript)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.RetrievedDocuments.Observe(float64(len(docs)))

	var decision policy.Decision
	err = o.stage(ctx, StageGeneration, func(ctx context.Context) (err error) {
		decision, err = o.deps.Policy.Decide(ctx, policy.Input{
			Transcript:     transcript,
			Slots:          state.Slots,
			Applied:        applied,
			Documents:      docs,
			ExtractorReply: extracted.Reply,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	var audioURL string
	if o.deps.Speaker != nil {
		err = o.stage(ctx, StageSynthesis, func(ctx context.Context) (err error) {
			audioURL, err = o.deps.Speaker.Speak(ctx, conversationID, state.Turns, decision.Reply)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	out := &Outcome{
		ConversationID:    conversationID,
		Turn:              state.Turns,
		Reply:             decision.Reply,
		Mode:              decision.Mode,
		State:             StateOf(state.Slots),
		Slots:             state.Slots.ToMap(),
		MissingSlots:      slots.NamesToStrings(state.Slots.Missing()),
		ChangedSlots:      applied.Known(),
		UsedDocs:          decision.UsedDocs,
		Documents:         docs,
		AudioURL:          audioURL,
		DeveloperNote:     decision.Note,
		ContinueListening: decision.Mode != policy.ModeConfirmation,
	}
	if out.Documents == nil {
		out.Documents = []retrieval.Document{}
	}

	if decision.Mode == policy.ModeConfirmation {
		out.State = StateCompleted
		out.BookingID = o.complete(ctx, log, conversationID, caller, state)
	}

	o.emit(ctx, caller, transcript, out, decision.Rule, state.Slots)
	return out, nil
}

// complete clears the session before recording the booking, so a booking is
// stored at most once. A failed write is logged and the turn still succeeds.
func (o *Orchestrator) complete(ctx context.Context, log *zap.Logger, conversationID, caller string, state session.State) string {
	if err := o.deps.Sessions.Clear(ctx, conversationID); err != nil {
		log.Warn("failed to clear completed session", zap.Error(err))
	}
	if o.deps.Bookings == nil {
		metrics.BookingsTotal.WithLabelValues("disabled").Inc()
		return ""
	}

	id, err := o.deps.Bookings.RecordBooking(ctx, conversationID, state.Slots.Clone(), map[string]any{
		"caller": caller,
		"turn":   state.Turns,
	})
	switch {
	case err != nil:
		metrics.BookingsTotal.WithLabelValues("failed").Inc()
		log.Error("booking not recorded",
			zap.Error(err),
			zap.Any("slots", state.Slots.Known()),
		)
		return ""
	case id == "":
		metrics.BookingsTotal.WithLabelValues("disabled").Inc()
	default:
		metrics.BookingsTotal.WithLabelValues("recorded").Inc()
		log.Info("booking completed", zap.String("booking_id", id))
	}
	return id
}

func (o *Orchestrator) emit(ctx context.Context, caller, transcript string, out *Outcome, rule string, final slots.Slots) {
	if o.deps.Audit == nil {
		return
	}
	o.deps.Audit.Emit(ctx, audit.Record{
		ConversationID: out.ConversationID,
		Caller:         caller,
		Turn:           out.Turn,
		Transcript:     transcript,
		Reply:          out.Reply,
		Mode:           string(out.Mode),
		Rule:           rule,
		Slots:          final.Known(),
		ChangedSlots:   out.ChangedSlots,
		MissingSlots:   out.MissingSlots,
		UsedDocs:       out.UsedDocs,
		BookingID:      out.BookingID,
		AudioURL:       out.AudioURL,
		DeveloperNote:  out.DeveloperNote,
		Timestamp:      o.now().UTC(),
	})
}

func (o *Orchestrator) stage(ctx context.Context, stage Stage, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "turn."+string(stage))
	defer span.End()

	start := o.now()
	err := fn(ctx)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(o.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return upstream(stage, err)
	}
	return nil
}
