package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"media-pipeline/internal/domain/model"
)

const baseGuidance = "You turn news and magazine articles into scripts for generated media. " +
	"Write in %s. Keep facts from the article; do not invent quotes or numbers."

var kindGuidance = map[model.MediaKind]string{
	model.KindAudio: "Write a spoken narration of the article for a single narrator, 2 to 4 minutes long. " +
		"Plain text only, no headings, no stage directions.",
	model.KindVideo: "Write a script for a presenter speaking to camera, 60 to 90 seconds long. " +
		"Plain text only, short sentences, no stage directions.",
	model.KindPodcast: "Write a conversation between HOST and GUEST discussing the article. " +
		"Every line starts with 'HOST:' or 'GUEST:'. 12 to 20 lines.",
	model.KindQuiz: "Write a multiple-choice quiz about the article. Respond with JSON: " +
		`{"questions":[{"prompt":"...","options":["..."],"answer":0}]}` +
		" with 5 questions, 4 options each, answer is the zero-based index of the correct option.",
	model.KindInteractivePodcast: "Write an interactive podcast: a conversation between HOST and GUEST " +
		"split into segments, with a comprehension question after some segments. Respond with JSON: " +
		`{"segments":[{"speaker":"HOST","text":"...","question":{"prompt":"...","options":["..."],"answer":0}}]}` +
		" where question is optional. 8 to 14 segments, at least 3 questions.",
}

const questionGuidance = "Write 3 multiple-choice comprehension questions about this video transcript. Respond with JSON: " +
	`{"questions":[{"prompt":"...","options":["..."],"answer":0}]}`

const tagGuidance = "Suggest up to 6 short lowercase topic tags for this content. Respond with JSON: " +
	`{"tags":["..."]}`

func guidanceFor(kind model.MediaKind, language string) string {
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(baseGuidance, language) + " " + kindGuidance[kind]
}

// jsonScript reports whether the script of kind is a JSON document.
func jsonScript(kind model.MediaKind) bool {
	return kind == model.KindQuiz || kind == model.KindInteractivePodcast
}

var errMalformedScript = errors.New("malformed script")

// extractJSON strips markdown fences some providers wrap JSON in.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return s
}

func parseQuestions(script string) ([]model.Question, error) {
	var doc struct {
		Questions []model.Question `json:"questions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(script)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedScript, err)
	}
	out := doc.Questions[:0]
	for _, q := range doc.Questions {
		if strings.TrimSpace(q.Prompt) == "" || len(q.Options) < 2 || q.Answer < 0 || q.Answer >= len(q.Options) {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable questions", errMalformedScript)
	}
	return out, nil
}

func parseInteractive(script string) ([]model.Segment, error) {
	var doc struct {
		Segments []model.Segment `json:"segments"`
	}
	if err := json.Unmarshal([]byte(extractJSON(script)), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedScript, err)
	}
	out := doc.Segments[:0]
	for _, seg := range doc.Segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text == "" {
			continue
		}
		seg.Speaker = strings.ToUpper(strings.TrimSpace(seg.Speaker))
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no segments", errMalformedScript)
	}
	return out, nil
}

var speakerLine = regexp.MustCompile(`^\s*\**([A-Za-z]+)\**\s*:\s*(.+)$`)

// parseDialogue splits "SPEAKER: text" lines. Lines without a speaker
// continue the previous turn.
func parseDialogue(script string) ([]model.Segment, error) {
	var out []model.Segment
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			out = append(out, model.Segment{Speaker: strings.ToUpper(m[1]), Text: strings.TrimSpace(m[2])})
			continue
		}
		if len(out) == 0 {
			out = append(out, model.Segment{Speaker: "HOST", Text: line})
			continue
		}
		out[len(out)-1].Text += " " + line
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no dialogue lines", errMalformedScript)
	}
	return out, nil
}

// validateScript checks the provider's script has the shape its kind needs.
func validateScript(kind model.MediaKind, script string) error {
	switch kind {
	case model.KindQuiz:
		_, err := parseQuestions(script)
		return err
	case model.KindInteractivePodcast:
		_, err := parseInteractive(script)
		return err
	case model.KindPodcast:
		_, err := parseDialogue(script)
		return err
	}
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("%w: empty", errMalformedScript)
	}
	return nil
}

// spokenWordsPerSecond is ~150 words per minute.
const spokenWordsPerSecond = 2.5

func estimateDuration(text string) float64 {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	d := float64(words) / spokenWordsPerSecond
	return float64(int(d*10+0.5)) / 10
}

func parseTags(s string) []string {
	var doc struct {
		Tags []string `json:"tags"`
	}
	if err := json.Unmarshal([]byte(extractJSON(s)), &doc); err != nil {
		return nil
	}
	seen := make(map[string]struct{}, len(doc.Tags))
	out := make([]string, 0, len(doc.Tags))
	for _, t := range doc.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
