package model

import (
	"strings"
	"time"
)

// MediaKind identifies which output table a row lives in.
type MediaKind string

const (
	KindAudio              MediaKind = "audio"
	KindVideo              MediaKind = "video"
	KindPodcast            MediaKind = "podcast"
	KindQuiz               MediaKind = "quiz"
	KindInteractivePodcast MediaKind = "interactive_podcast"
)

// AllKinds is the sweep order used by the timeout monitor.
var AllKinds = []MediaKind{KindAudio, KindVideo, KindPodcast, KindQuiz, KindInteractivePodcast}

func ParseMediaKind(s string) (MediaKind, bool) {
	k := MediaKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, true
		}
	}
	return "", false
}

// Async reports whether media completion for this kind arrives via webhook.
func (k MediaKind) Async() bool { return k == KindVideo }

type OutputStatus string

const (
	OutputPending     OutputStatus = "PENDING"
	OutputScriptReady OutputStatus = "SCRIPT_READY"
	OutputProcessing  OutputStatus = "PROCESSING"
	OutputCompleted   OutputStatus = "COMPLETED"
	OutputFailed      OutputStatus = "FAILED"
)

// Stage is the sub-step an output is in while PROCESSING. It exists for
// operator diagnostics only; transitions are governed by OutputStatus.
type Stage string

const (
	StageNone           Stage = ""
	StageScript         Stage = "script"
	StageSynthesis      Stage = "synthesis"
	StageRendering      Stage = "rendering"
	StageCaptioning     Stage = "captioning"
	StagePostProcessing Stage = "post_processing"
	StageFinalizing     Stage = "finalizing"
)

// Customization holds the per-output choices made between script and media phases.
type Customization struct {
	AvatarID      string `json:"avatar_id,omitempty"`
	VoiceID       string `json:"voice_id,omitempty"`
	SecondVoiceID string `json:"second_voice_id,omitempty"` // podcast guest
	Captions      bool   `json:"captions,omitempty"`
	MusicURL      string `json:"music_url,omitempty"`
	BumperURL     string `json:"bumper_url,omitempty"`
}

// NeedsPostProcessing reports whether a bumper or music overlay was requested.
func (c Customization) NeedsPostProcessing() bool {
	return c.MusicURL != "" || c.BumperURL != ""
}

// WordTiming is one transcribed word with offsets in seconds.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Question is a generated comprehension question.
type Question struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
	Answer  int      `json:"answer"`
	// AtSecond places the question inside an interactive podcast timeline.
	AtSecond float64 `json:"at_second,omitempty"`
}

// Segment is one rendered slice of a podcast or interactive podcast.
type Segment struct {
	Speaker  string    `json:"speaker"`
	Text     string    `json:"text"`
	AudioURL string    `json:"audio_url,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Question *Question `json:"question,omitempty"`
}

// Output is one generated media artifact for a submission.
type Output struct {
	ID             string
	SubmissionID   string
	OrganizationID string
	ArticleID      string
	Kind           MediaKind
	Language       string

	Status OutputStatus
	Stage  Stage
	Error  *string

	// Correlation ids matching asynchronous webhook callbacks.
	RenderJobID  *string
	CaptionJobID *string

	Customization Customization

	Script          string
	Transcript      string
	Words           []WordTiming
	Segments        []Segment
	Questions       []Question
	MediaURL        string
	DurationSeconds float64
	Tags            []string

	CreatedAt time.Time
	UpdatedAt time.Time
	// Version counts stored writes. Updates are conditioned on it, so a
	// writer holding an older copy loses even when the status matches.
	Version int64
}

// ErrorText returns the failure reason or "".
func (o *Output) ErrorText() string {
	if o.Error == nil {
		return ""
	}
	return *o.Error
}

// Apply runs ev through the state machine and mutates the output on success.
// On rejection the output is left untouched.
func (o *Output) Apply(ev Event, now time.Time) error {
	next, err := Transition(o.Status, ev)
	if err != nil {
		return err
	}
	o.Status = next
	switch ev {
	case EventFail:
		// error text is set by Fail
	case EventRegenerate:
		o.Error = nil
		o.RenderJobID = nil
		o.CaptionJobID = nil
		o.Stage = StageNone
	default:
		o.Error = nil
	}
	if next != OutputProcessing {
		o.Stage = StageNone
	}
	o.UpdatedAt = now
	return nil
}

// Fail moves the output to FAILED with msg as the error.
func (o *Output) Fail(msg string, now time.Time) error {
	if err := o.Apply(EventFail, now); err != nil {
		return err
	}
	o.Error = &msg
	return nil
}

// CorrelationField names a webhook correlation column.
type CorrelationField string

const (
	CorrelationRender  CorrelationField = "render_job_id"
	CorrelationCaption CorrelationField = "caption_job_id"
)

// StrPtr is a small helper for optional string fields.
func StrPtr(s string) *string { return &s }
