package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/room4-2/OpenBooking/llm"
	"github.com/room4-2/OpenBooking/retrieval"
	"github.com/room4-2/OpenBooking/slots"
	"go.uber.org/zap"
)

// Mode is the response mode chosen for a turn.
type Mode string

const (
	ModeSlotFollowup    Mode = "SLOT_FOLLOWUP"
	ModeKnowledgeAnswer Mode = "KNOWLEDGE_ANSWER"
	ModeConfirmation    Mode = "CONFIRMATION"
	ModeGenericPrompt   Mode = "GENERIC_PROMPT"
)

const (
	DefaultAnswerThreshold = 0.78
	// maxPromptDocs bounds the grounding context sent to the generator.
	maxPromptDocs = 2
)

// Generator produces grounded answers.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPayload string) (llm.Answer, error)
}

// Input is everything the policy needs to decide one turn.
type Input struct {
	Transcript string
	// Slots is the state after this turn's merge.
	Slots slots.Slots
	// Applied holds the slot updates merged this turn.
	Applied        slots.Slots
	Documents      []retrieval.Document
	ExtractorReply string
}

// Decision is the outcome of the rule list.
type Decision struct {
	Mode  Mode
	Reply string
	// Rule names the rule that matched.
	Rule string
	// UsedDocs lists the documents the reply relied on.
	UsedDocs []string
	// Note is the developer note returned by the generator, if one was called.
	Note map[string]any
}

// Rule is one entry of the ordered decision procedure. Apply reports whether
// the rule matched; the first matching rule decides the turn.
type Rule interface {
	Name() string
	Apply(ctx context.Context, in Input) (Decision, bool, error)
}

// Config tunes the policy.
type Config struct {
	FacilityName    string
	AnswerThreshold float64
}

// Policy evaluates its rules top to bottom and stops at the first match.
type Policy struct {
	rules []Rule
	log   *zap.Logger
}

// New builds the standard rule order:
//
//	confirmation > knowledge answer > extractor reply > slot follow-up > generic prompt
//
// Confirmation overrides every other mode once the booking is complete, so it
// is evaluated first and no generation call is spent on a turn that confirms.
func New(generator Generator, cfg Config, log *zap.Logger) *Policy {
	if cfg.AnswerThreshold <= 0 {
		cfg.AnswerThreshold = DefaultAnswerThreshold
	}
	log = log.Named("policy")
	return NewWithRules(log,
		confirmationRule{},
		&knowledgeRule{generator: generator, cfg: cfg, log: log},
		extractorReplyRule{},
		followupRule{},
		genericPromptRule{},
	)
}

// NewWithRules builds a policy from an explicit rule list.
func NewWithRules(log *zap.Logger, rules ...Rule) *Policy {
	return &Policy{rules: rules, log: log}
}

// Decide runs the rule list. The default documents used are the ones the gate
// supplied; rules may narrow them.
func (p *Policy) Decide(ctx context.Context, in Input) (Decision, error) {
	for _, rule := range p.rules {
		d, ok, err := rule.Apply(ctx, in)
		if err != nil {
			return Decision{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		if !ok {
			continue
		}
		d.Rule = rule.Name()
		if d.UsedDocs == nil {
			d.UsedDocs = retrieval.IDs(in.Documents)
		}
		p.log.Debug("rule matched", zap.String("rule", d.Rule), zap.String("mode", string(d.Mode)))
		return d, nil
	}
	return Decision{}, fmt.Errorf("no rule matched")
}

// FollowupQuestion is the question asked for a missing slot.
func FollowupQuestion(n slots.Name) string {
	return fmt.Sprintf("Could you please share %s?", n.Label())
}

// ConfirmationMessage renders the deterministic booking confirmation.
func ConfirmationMessage(s slots.Slots) string {
	doctor := "with " + nextAvailable
	if d, ok := s.Get(slots.DoctorPreference); ok {
		doctor = "with " + d
	}
	return fmt.Sprintf(
		"Thanks %s. I've noted a %s visit on %s at %s %s. You will receive an SMS confirmation shortly.",
		s[slots.PatientName], s[slots.AppointmentReason], s[slots.PreferredDate], s[slots.PreferredTime], doctor,
	)
}

func joinReply(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}
