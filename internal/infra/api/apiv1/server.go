package apiv1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/infra/logging"
	"media-pipeline/internal/usecase"
)

// Server serves the /api/v1 resources over the pipeline usecase.
type Server struct {
	uc  usecase.PipelineUseCase
	log *zerolog.Logger
}

func NewServer(uc usecase.PipelineUseCase, logger *zerolog.Logger) *Server {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "APIv1").Logger()
	return &Server{uc: uc, log: &l}
}

// RegisterAPIV1 mounts the handlers on r. Auth and rate limiting are the
// caller's middleware.
func RegisterAPIV1(r chi.Router, s *Server) {
	r.Post("/submissions", s.createSubmission)
	r.Get("/submissions/{id}", s.getSubmission)
	r.Get("/outputs/{kind}/{id}", s.getOutput)
	r.Put("/outputs/{kind}/{id}/script", s.updateScript)
	r.Post("/outputs/{kind}/{id}/media", s.requestMedia)
	r.Post("/outputs/{kind}/{id}/regenerate", s.regenerate)
	r.Get("/jobs/{id}", s.jobStatus)
	r.Delete("/jobs/{id}", s.removeJob)
}

type createSubmissionRequest struct {
	ArticleID string   `json:"article_id"`
	Language  string   `json:"language"`
	Kinds     []string `json:"kinds"`
}

type updateScriptRequest struct {
	Script string `json:"script"`
}

type mediaRequest struct {
	Customization *model.Customization `json:"customization,omitempty"`
}

type outputView struct {
	ID              string              `json:"id"`
	SubmissionID    string              `json:"submission_id"`
	ArticleID       string              `json:"article_id"`
	Kind            model.MediaKind     `json:"kind"`
	Language        string              `json:"language"`
	Status          model.OutputStatus  `json:"status"`
	Stage           model.Stage         `json:"stage,omitempty"`
	Error           *string             `json:"error"`
	Customization   model.Customization `json:"customization"`
	Script          string              `json:"script,omitempty"`
	Transcript      string              `json:"transcript,omitempty"`
	Words           []model.WordTiming  `json:"words,omitempty"`
	Segments        []model.Segment     `json:"segments,omitempty"`
	Questions       []model.Question    `json:"questions,omitempty"`
	MediaURL        string              `json:"media_url,omitempty"`
	DurationSeconds float64             `json:"duration_seconds,omitempty"`
	Tags            []string            `json:"tags,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type submissionView struct {
	ID        string                 `json:"id"`
	ArticleID string                 `json:"article_id"`
	Language  string                 `json:"language"`
	Status    model.SubmissionStatus `json:"status"`
	Outputs   []outputView           `json:"outputs"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type jobView struct {
	ID    string         `json:"job_id"`
	Type  model.JobType  `json:"type"`
	State model.JobState `json:"state"`
}

func toOutput(o *model.Output) outputView {
	return outputView{
		ID:              o.ID,
		SubmissionID:    o.SubmissionID,
		ArticleID:       o.ArticleID,
		Kind:            o.Kind,
		Language:        o.Language,
		Status:          o.Status,
		Stage:           o.Stage,
		Error:           o.Error,
		Customization:   o.Customization,
		Script:          o.Script,
		Transcript:      o.Transcript,
		Words:           o.Words,
		Segments:        o.Segments,
		Questions:       o.Questions,
		MediaURL:        o.MediaURL,
		DurationSeconds: o.DurationSeconds,
		Tags:            o.Tags,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toSubmission(v *usecase.SubmissionView) submissionView {
	out := submissionView{
		ID:        v.Submission.ID,
		ArticleID: v.Submission.ArticleID,
		Language:  v.Submission.Language,
		Status:    v.Submission.Status,
		Outputs:   make([]outputView, 0, len(v.Outputs)),
		CreatedAt: v.Submission.CreatedAt,
		UpdatedAt: v.Submission.UpdatedAt,
	}
	for _, o := range v.Outputs {
		out.Outputs = append(out.Outputs, toOutput(o))
	}
	return out
}

func toJob(j *model.Job) jobView {
	return jobView{ID: j.ID, Type: j.Type, State: j.State}
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var req createSubmissionRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	kinds := make([]model.MediaKind, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		kinds = append(kinds, model.MediaKind(k))
	}
	view, err := s.uc.CreateSubmission(r.Context(), usecase.CreateSubmissionInput{
		OrganizationID: logging.OrgID(r.Context()),
		ArticleID:      req.ArticleID,
		Language:       req.Language,
		Kinds:          kinds,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubmission(view))
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	view, err := s.uc.GetSubmission(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !sameOrg(r, view.Submission.OrganizationID) {
		s.fail(w, r, domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toSubmission(view))
}

func (s *Server) getOutput(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toOutput(o))
}

func (s *Server) updateScript(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	var req updateScriptRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.uc.UpdateScript(r.Context(), o.Kind, o.ID, req.Script)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutput(updated))
}

func (s *Server) requestMedia(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	var req mediaRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.uc.RequestMedia(r.Context(), o.Kind, o.ID, req.Customization)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJob(job))
}

func (s *Server) regenerate(w http.ResponseWriter, r *http.Request) {
	o, ok := s.loadOutput(w, r)
	if !ok {
		return
	}
	job, err := s.uc.Regenerate(r.Context(), o.Kind, o.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJob(job))
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	st, err := s.uc.JobStatus(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.uc.RemoveJob(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// loadOutput binds {kind}/{id} and fetches the output, enforcing the
// caller's organization.
func (s *Server) loadOutput(w http.ResponseWriter, r *http.Request) (*model.Output, bool) {
	var rawKind string
	if err := runtime.BindStyledParameterWithLocation("simple", false, "kind", runtime.ParamLocationPath, chi.URLParam(r, "kind"), &rawKind); err != nil {
		writeError(w, http.StatusBadRequest, "invalid kind")
		return nil, false
	}
	kind, ok := model.ParseMediaKind(rawKind)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown kind")
		return nil, false
	}
	id, ok := s.pathID(w, r)
	if !ok {
		return nil, false
	}
	o, err := s.uc.GetOutput(r.Context(), kind, id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	if !sameOrg(r, o.OrganizationID) {
		s.fail(w, r, domain.ErrNotFound)
		return nil, false
	}
	return o, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithLocation("simple", false, "id", runtime.ParamLocationPath, chi.URLParam(r, "id"), &id)
	if err != nil || id == "" {
		writeError(w, http.StatusBadRequest, "invalid id")
		return "", false
	}
	return id, true
}

func sameOrg(r *http.Request, owner string) bool {
	org := logging.OrgID(r.Context())
	return org == "" || owner == "" || org == owner
}

// fail maps domain errors onto status codes. Unexpected errors are logged
// and hidden from the caller.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStaleState):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmptyScript):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrQueueClosed):
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
