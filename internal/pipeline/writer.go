package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/postpilot/internal/model"
)

// Draft is the parsed output of one generation.
type Draft struct {
	Content  string
	Hashtags []string
	Mentions []string
	Model    string
	Cost     float64
}

// Writer turns an opportunity into a draft post. Before the writer drafts,
// the analyst writes a brief for trend opportunities, the strategist sharpens
// the angle, and the scout proposes people to mention when the scorer found
// none. Each of those passes is optional and none of them is fatal.
type Writer struct {
	writer     TextGenerator
	analyst    TextGenerator
	strategist TextGenerator
	scout      TextGenerator
	required   []string
	maxLength  int
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithStrategist refines RecommendedAngle with g before drafting.
func WithStrategist(g TextGenerator) WriterOption {
	return func(w *Writer) { w.strategist = g }
}

// WithScout asks g for mention candidates when an opportunity has none.
func WithScout(g TextGenerator) WriterOption {
	return func(w *Writer) { w.scout = g }
}

// NewWriter creates a Writer. analyst may be nil.
func NewWriter(writer, analyst TextGenerator, requiredHashtags []string, maxLength int, opts ...WriterOption) *Writer {
	w := &Writer{
		writer:    writer,
		analyst:   analyst,
		required:  requiredHashtags,
		maxLength: maxLength,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// NewRoleWriter wires every role of t to c.
func NewRoleWriter(t RoleTable, c Completer, requiredHashtags []string, maxLength int) *Writer {
	return NewWriter(
		t.NewAgent(RoleLinkedInWriter, c),
		t.NewAgent(RoleResearchAnalyst, c),
		requiredHashtags,
		maxLength,
		WithStrategist(t.NewAgent(RoleContentStrategist, c)),
		WithScout(t.NewAgent(RoleInterviewScout, c)),
	)
}

// Draft generates a post for opp.
func (w *Writer) Draft(ctx context.Context, opp model.ContentOpportunity) (*Draft, error) {
	var brief string
	var spent float64
	if w.analyst != nil && opp.ContentType == model.ContentTrendCombo {
		if text, cost, ok := w.assist(ctx, w.analyst, buildBriefPrompt(opp), opp); ok {
			brief = text
			spent += cost
		}
	}

	// Emergency posts keep their fixed angle.
	if w.strategist != nil && opp.ContentType != model.ContentEmergency {
		if text, cost, ok := w.assist(ctx, w.strategist, buildAnglePrompt(opp, brief), opp); ok {
			spent += cost
			if angle := parseAngle(text); angle != "" {
				opp.RecommendedAngle = angle
			}
		}
	}

	if w.scout != nil && len(opp.SuggestedMentions) == 0 {
		if text, cost, ok := w.assist(ctx, w.scout, buildScoutPrompt(opp), opp); ok {
			spent += cost
			opp.SuggestedMentions = parseHandles(text)
		}
	}

	resp, err := w.writer.Generate(ctx, buildPostPrompt(opp, brief, w.maxLength, w.required))
	if err != nil {
		return nil, err
	}

	d := parseDraft(resp.Content, w.required, opp.SuggestedMentions)
	d.Model = resp.Model
	d.Cost = spent + resp.Cost
	return d, nil
}

// assist runs one supporting role. Failures are logged and reported as !ok.
func (w *Writer) assist(ctx context.Context, g TextGenerator, prompt string, opp model.ContentOpportunity) (string, float64, bool) {
	resp, err := g.Generate(ctx, prompt)
	if err != nil {
		zap.L().Warn("pipeline: supporting role failed, drafting without it",
			zap.String("role", g.Name()),
			zap.String("source_id", opp.SourceID),
			zap.Error(err),
		)
		return "", 0, false
	}
	return stripThinking(resp.Content), resp.Cost, true
}

func buildBriefPrompt(opp model.ContentOpportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize what connects the following research and discussion in at most five bullet points.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", opp.Title)
	fmt.Fprintf(&b, "Context: %s\n", opp.Description)
	writeSourceData(&b, opp.SourceData)
	return b.String()
}

func buildAnglePrompt(opp model.ContentOpportunity, brief string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Propose the single best angle for a LinkedIn post about this %s.\n\n", strings.ReplaceAll(string(opp.ContentType), "_", " "))
	fmt.Fprintf(&b, "Title: %s\n", opp.Title)
	fmt.Fprintf(&b, "Context: %s\n", opp.Description)
	fmt.Fprintf(&b, "Current angle: %s\n", opp.RecommendedAngle)
	if brief != "" {
		fmt.Fprintf(&b, "\nAnalyst brief:\n%s\n", brief)
	}
	b.WriteString("\nReply with the angle only, one sentence under 120 characters.\n")
	return b.String()
}

func buildScoutPrompt(opp model.ContentOpportunity) string {
	var b strings.Builder
	b.WriteString("Name up to three researchers or organizations worth tagging in a LinkedIn post about this work.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", opp.Title)
	fmt.Fprintf(&b, "Context: %s\n", opp.Description)
	writeSourceData(&b, opp.SourceData)
	b.WriteString("\nReply with their handles only, each starting with @. Reply NONE when nobody fits.\n")
	return b.String()
}

func buildPostPrompt(opp model.ContentOpportunity, brief string, maxLength int, required []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a LinkedIn post about the following %s.\n\n", strings.ReplaceAll(string(opp.ContentType), "_", " "))
	fmt.Fprintf(&b, "Title: %s\n", opp.Title)
	fmt.Fprintf(&b, "Context: %s\n", opp.Description)
	fmt.Fprintf(&b, "Angle: %s\n", opp.RecommendedAngle)
	writeSourceData(&b, opp.SourceData)
	if brief != "" {
		fmt.Fprintf(&b, "\nAnalyst brief:\n%s\n", brief)
	}

	b.WriteString("\nRequirements:\n")
	b.WriteString("- Audience: ML researchers, AI safety practitioners and technical policy readers.\n")
	if maxLength > 0 {
		fmt.Fprintf(&b, "- Stay under %d characters.\n", maxLength)
	}
	fmt.Fprintf(&b, "- Use at most %d hashtags", model.MaxHashtags)
	if len(required) > 0 {
		fmt.Fprintf(&b, ", including %s", strings.Join(required, " "))
	}
	b.WriteString(".\n")
	if len(opp.SuggestedMentions) > 0 {
		fmt.Fprintf(&b, "- Consider mentioning %s.\n", strings.Join(opp.SuggestedMentions, ", "))
	}
	b.WriteString("- End with a question for the reader.\n")
	b.WriteString("\nRespond with JSON only: {\"content\": \"...\", \"hashtags\": [\"#...\"], \"mentions\": [\"@...\"]}\n")
	return b.String()
}

func writeSourceData(b *strings.Builder, data map[string]any) {
	if len(data) == 0 {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(b, "Source data: %s\n", raw)
}

var thinkRE = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking removes reasoning blocks some local models emit before the answer.
func stripThinking(s string) string {
	return strings.TrimSpace(thinkRE.ReplaceAllString(s, ""))
}

// maxAngleRunes caps a strategist angle.
const maxAngleRunes = 200

// parseAngle keeps the first non-empty line of the reply, without a label or
// surrounding quotes.
func parseAngle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "Angle:")
		line = strings.Trim(strings.TrimSpace(line), `"'*`)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxAngleRunes {
			line = string(r[:maxAngleRunes])
		}
		return line
	}
	return ""
}

var handleRE = regexp.MustCompile(`@[A-Za-z0-9_][A-Za-z0-9_.-]{0,38}`)

// parseHandles extracts @handles from free text.
func parseHandles(text string) []string {
	handles := handleRE.FindAllString(text, -1)
	for i, h := range handles {
		handles[i] = strings.TrimRight(h, ".-")
	}
	return model.NormalizeMentions(handles)
}

type draftJSON struct {
	Content  string   `json:"content"`
	Hashtags []string `json:"hashtags"`
	Mentions []string `json:"mentions"`
}

// parseDraft reads the JSON reply. Output that is not JSON is used verbatim
// as content with the required hashtags. Without mentions from the model the
// suggested ones are used.
func parseDraft(raw string, required, suggested []string) *Draft {
	text := stripThinking(raw)

	var parsed draftJSON
	if obj := extractJSONObject(text); obj != "" && json.Unmarshal([]byte(obj), &parsed) == nil && strings.TrimSpace(parsed.Content) != "" {
		mentions := parsed.Mentions
		if len(model.NormalizeMentions(mentions)) == 0 {
			mentions = suggested
		}
		return &Draft{
			Content:  strings.TrimSpace(parsed.Content),
			Hashtags: model.NormalizeHashtags(append(append([]string(nil), required...), parsed.Hashtags...)),
			Mentions: model.NormalizeMentions(mentions),
		}
	}

	return &Draft{
		Content:  text,
		Hashtags: model.NormalizeHashtags(required),
		Mentions: model.NormalizeMentions(suggested),
	}
}

// extractJSONObject returns the outermost {...} span of s, tolerating code
// fences and prose around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
