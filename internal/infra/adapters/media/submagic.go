package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.Captioner = (*SubmagicCaptioner)(nil)

// SubmagicCaptioner creates captioning projects; the finished video arrives
// on the webhook with the project id.
type SubmagicCaptioner struct {
	http        httpClient
	callbackURL string
	template    string
}

func NewSubmagicCaptioner(apiKey, baseURL, callbackURL, template string) (*SubmagicCaptioner, error) {
	if apiKey == "" {
		return nil, errors.New("submagic api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.submagic.co"
	}
	return &SubmagicCaptioner{
		http:        newHTTPClient("submagic", baseURL, map[string]string{"x-api-key": apiKey}, 0),
		callbackURL: callbackURL,
		template:    template,
	}, nil
}

func (s *SubmagicCaptioner) SubmitCaptions(ctx context.Context, req adapter.CaptionRequest) (string, error) {
	language := req.Language
	if language == "" {
		language = "en"
	}
	body := map[string]interface{}{
		"title":    req.Title,
		"language": language,
		"videoUrl": req.VideoURL,
	}
	if s.template != "" {
		body["templateName"] = s.template
	}
	if s.callbackURL != "" {
		body["webhookUrl"] = s.callbackURL
	}

	data, err := s.http.post(ctx, "/v1/projects", "application/json", body)
	if err != nil {
		return "", classify("submit captions", err)
	}
	var resp struct {
		ID        string `json:"id"`
		ProjectID string `json:"projectId"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(data))
	}
	id := resp.ID
	if id == "" {
		id = resp.ProjectID
	}
	if id == "" {
		return "", errors.New("submagic returned no project id")
	}
	return id, nil
}
