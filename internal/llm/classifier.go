package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"forewarn/internal/risk"
	"forewarn/internal/types"
)

const migraineSystemPrompt = "You are a migraine risk assessor. Analyze weather risk factors (0-1 scale, higher=riskier) " +
	"and output ONLY valid JSON matching the schema below. Do not include any text before or after the JSON.\n\n" +
	"<schema>\n" +
	"{\n" +
	"  \"probability_level\": \"LOW\" | \"MEDIUM\" | \"HIGH\",\n" +
	"  \"confidence\": <float between 0 and 1>,\n" +
	"  \"rationale\": \"<brief explanation>\",\n" +
	"  \"analysis_text\": \"<concise user explanation>\",\n" +
	"  \"prevention_tips\": [\"<tip1>\", \"<tip2>\", ...]\n" +
	"}\n" +
	"</schema>"

const sinusitisSystemPrompt = "You are a sinusitis risk assessor. Analyze weather risk factors (0-1 scale, higher=riskier) " +
	"and output ONLY valid JSON matching the schema below. Do not include any text before or after the JSON. " +
	"Focus on sinusitis triggers: rapid temperature changes, humidity extremes (high promotes allergens/mold, " +
	"low dries sinuses), barometric pressure changes, and precipitation (increases allergens).\n\n" +
	"<schema>\n" +
	"{\n" +
	"  \"probability_level\": \"LOW\" | \"MEDIUM\" | \"HIGH\",\n" +
	"  \"confidence\": <float between 0 and 1>,\n" +
	"  \"rationale\": \"<brief explanation>\",\n" +
	"  \"analysis_text\": \"<concise user explanation>\",\n" +
	"  \"prevention_tips\": [\"<tip1>\", \"<tip2>\", ...]\n" +
	"}\n" +
	"</schema>"

// modelVerdict is the JSON document the model is instructed to emit.
type modelVerdict struct {
	ProbabilityLevel string   `json:"probability_level"`
	Confidence       *float64 `json:"confidence"`
	Rationale        string   `json:"rationale"`
	AnalysisText     string   `json:"analysis_text"`
	PreventionTips   []string `json:"prevention_tips"`
}

// RemoteClassifier asks a chat completion model for the risk verdict. It
// implements risk.Classifier; every failure mode returns a
// risk.ClassifyError carrying the raw exchange so the fallback verdict can
// record what went wrong.
type RemoteClassifier struct {
	client  *Client
	builder ContextBuilder
	clock   types.Clock
	log     types.Logger
}

// NewRemoteClassifier builds the remote classifier. Detailed selects the
// high-token-budget context serialization.
func NewRemoteClassifier(client *Client, detailed bool, clock types.Clock, log types.Logger) *RemoteClassifier {
	return &RemoteClassifier{
		client:  client,
		builder: ContextBuilder{Detailed: detailed},
		clock:   clock,
		log:     log,
	}
}

// Classify sends the serialized context to the model and validates the
// response against the expected schema.
func (r *RemoteClassifier) Classify(ctx context.Context, in risk.Input) (*risk.Outcome, error) {
	messages := []Message{
		{Role: "system", Content: systemPromptFor(in.Condition, in.Locale)},
		{Role: "user", Content: r.userPrompt(in)},
	}

	resp, reqBody, respBody, err := r.client.ChatComplete(ctx, messages)
	if err != nil {
		return nil, &risk.ClassifyError{
			Err: err,
			Detail: &types.RemoteDetail{
				RequestBody:  reqBody,
				ResponseBody: respBody,
				Failure:      err.Error(),
			},
		}
	}

	content := resp.Content()
	parsed, ok := ExtractJSON(content)
	if !ok {
		return nil, r.unparseable(in.Condition, "model output is not parseable JSON", content, reqBody, respBody)
	}

	// Re-marshal through the typed schema so extraneous keys are dropped
	// and types are checked.
	raw, _ := json.Marshal(parsed)
	var verdict modelVerdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, r.unparseable(in.Condition, "model output does not match schema", content, reqBody, respBody)
	}

	level := types.ProbabilityLevel(strings.ToUpper(strings.TrimSpace(verdict.ProbabilityLevel)))
	if !level.Valid() {
		return nil, r.unparseable(in.Condition,
			fmt.Sprintf("model returned invalid probability_level %q", verdict.ProbabilityLevel),
			content, reqBody, respBody)
	}

	return &risk.Outcome{
		Probability: level,
		Source:      types.SourceRemote,
		Detail: &types.RemoteDetail{
			Rationale:      verdict.Rationale,
			Confidence:     verdict.Confidence,
			AnalysisText:   verdict.AnalysisText,
			PreventionTips: verdict.PreventionTips,
			RequestBody:    reqBody,
			ResponseBody:   respBody,
		},
	}, nil
}

func (r *RemoteClassifier) unparseable(cond types.Condition, reason, content string, reqBody, respBody []byte) *risk.ClassifyError {
	preview := content
	if len(preview) > 200 {
		preview = preview[:200]
	}
	r.log.Warn("model response rejected",
		"condition", string(cond),
		"reason", reason,
		"content_preview", preview,
	)
	return &risk.ClassifyError{
		Err: types.NewAppError(types.ErrCodeModelUnparseable, reason, nil),
		Detail: &types.RemoteDetail{
			RequestBody:  reqBody,
			ResponseBody: respBody,
			Failure:      reason,
		},
	}
}

// userPrompt serializes the weather context plus the adjusted scores. The
// scores line keeps factor order stable so prompts are reproducible.
func (r *RemoteClassifier) userPrompt(in risk.Input) string {
	var sb strings.Builder
	sb.WriteString(r.builder.Build(in, r.clock.Now()))

	sb.WriteString("\n\nRisk scores: {")
	for i, f := range types.AllFactors {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q: %.2f", string(f), in.Scores[f])
	}
	sb.WriteString("}")

	if in.Profile != nil && in.Profile.Overall != 1.0 {
		fmt.Fprintf(&sb, "\nUser sensitivity: %.1fx", in.Profile.Overall)
	}
	return sb.String()
}

// systemPromptFor returns the condition's system prompt, with a language
// instruction appended for non-English locales so the user-facing fields
// come back localized.
func systemPromptFor(cond types.Condition, locale string) string {
	prompt := migraineSystemPrompt
	if cond == types.ConditionSinusitis {
		prompt = sinusitisSystemPrompt
	}
	if lang := languageName(locale); lang != "" {
		prompt += fmt.Sprintf(
			"\n\nWrite the rationale, analysis_text, and prevention_tips values in %s. Keep JSON keys and probability_level in English.",
			lang)
	}
	return prompt
}

// languageName maps a BCP 47 locale tag to a language name for the prompt.
// Unknown or English locales return "".
func languageName(locale string) string {
	base := strings.ToLower(locale)
	if idx := strings.IndexAny(base, "-_"); idx > 0 {
		base = base[:idx]
	}
	names := map[string]string{
		"pt": "Portuguese",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"it": "Italian",
		"nl": "Dutch",
		"pl": "Polish",
	}
	return names[base]
}
