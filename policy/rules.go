package policy

import (
	"context"

	"github.com/room4-2/OpenBooking/retrieval"
	"go.uber.org/zap"
)

type confirmationRule struct{}

func (confirmationRule) Name() string { return "confirmation" }

func (confirmationRule) Apply(_ context.Context, in Input) (Decision, bool, error) {
	if !in.Slots.Complete() {
		return Decision{}, false, nil
	}
	return Decision{Mode: ModeConfirmation, Reply: ConfirmationMessage(in.Slots)}, true, nil
}

// knowledgeRule answers factual questions from retrieved documents when doing
// so does not derail slot collection.
type knowledgeRule struct {
	generator Generator
	cfg       Config
	log       *zap.Logger
}

func (*knowledgeRule) Name() string { return "knowledge_answer" }

func (r *knowledgeRule) admits(in Input) bool {
	if len(in.Applied) > 0 {
		return false
	}
	if len(in.Documents) == 0 || in.Documents[0].Score < r.cfg.AnswerThreshold {
		return false
	}
	// The optional doctor preference never blocks; at most one required
	// slot may still be outstanding.
	return len(in.Slots.MissingRequired()) <= 1
}

func (r *knowledgeRule) Apply(ctx context.Context, in Input) (Decision, bool, error) {
	if !r.admits(in) {
		return Decision{}, false, nil
	}

	systemPrompt := fallbackSystemPrompt
	grounding := noDocumentsContext
	if len(in.Documents) > 0 {
		systemPrompt = retrievalSystemPrompt(r.cfg.FacilityName)
		grounding = retrieval.FormatForPrompt(in.Documents, maxPromptDocs)
	}

	answer, err := r.generator.Generate(ctx, systemPrompt, groundedPayload(grounding, in.Transcript))
	if err != nil {
		return Decision{}, false, err
	}

	reply := answer.Response
	if reply == "" {
		r.log.Warn("empty grounded answer, keeping extractor reply")
		reply = in.ExtractorReply
	}

	var followup string
	if missing := in.Slots.MissingRequired(); len(missing) > 0 {
		followup = FollowupQuestion(missing[0])
	}

	usedDocs, ok := answer.UsedDocs()
	if !ok {
		usedDocs = retrieval.IDs(in.Documents)
		if answer.DeveloperNote == nil {
			answer.DeveloperNote = map[string]any{}
		}
		answer.DeveloperNote["used_docs"] = usedDocs
	}

	return Decision{
		Mode:     ModeKnowledgeAnswer,
		Reply:    joinReply(reply, followup),
		UsedDocs: usedDocs,
		Note:     answer.DeveloperNote,
	}, true, nil
}

type extractorReplyRule struct{}

func (extractorReplyRule) Name() string { return "extractor_reply" }

func (extractorReplyRule) Apply(_ context.Context, in Input) (Decision, bool, error) {
	if in.ExtractorReply == "" {
		return Decision{}, false, nil
	}
	return Decision{Mode: ModeSlotFollowup, Reply: in.ExtractorReply}, true, nil
}

type followupRule struct{}

func (followupRule) Name() string { return "slot_followup" }

func (followupRule) Apply(_ context.Context, in Input) (Decision, bool, error) {
	missing := in.Slots.Missing()
	if len(missing) == 0 {
		return Decision{}, false, nil
	}
	return Decision{Mode: ModeSlotFollowup, Reply: FollowupQuestion(missing[0])}, true, nil
}

type genericPromptRule struct{}

func (genericPromptRule) Name() string { return "generic_prompt" }

func (genericPromptRule) Apply(context.Context, Input) (Decision, bool, error) {
	return Decision{Mode: ModeGenericPrompt, Reply: genericPrompt}, true, nil
}
