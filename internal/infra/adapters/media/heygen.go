package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"media-pipeline/internal/domain/ports/adapter"
)

var _ adapter.AvatarRenderer = (*HeyGenRenderer)(nil)

// HeyGenRenderer submits avatar renders driven by our own voiceover audio.
// HeyGen answers later on the callback URL with the returned video id.
type HeyGenRenderer struct {
	http        httpClient
	callbackURL string
}

func NewHeyGenRenderer(apiKey, baseURL, callbackURL string) (*HeyGenRenderer, error) {
	if apiKey == "" {
		return nil, errors.New("heygen api key empty")
	}
	if baseURL == "" {
		baseURL = "https://api.heygen.com"
	}
	return &HeyGenRenderer{
		http:        newHTTPClient("heygen", baseURL, map[string]string{"X-Api-Key": apiKey}, 0),
		callbackURL: callbackURL,
	}, nil
}

type heygenResponse struct {
	Error interface{} `json:"error"`
	Data  struct {
		VideoID string `json:"video_id"`
	} `json:"data"`
}

func (h *HeyGenRenderer) SubmitRender(ctx context.Context, req adapter.RenderRequest) (string, error) {
	body := map[string]interface{}{
		"title": req.Title,
		"video_inputs": []map[string]interface{}{{
			"character": map[string]string{
				"type":         "avatar",
				"avatar_id":    req.AvatarID,
				"avatar_style": "normal",
			},
			"voice": map[string]string{
				"type":      "audio",
				"audio_url": req.AudioURL,
			},
		}},
		"dimension": map[string]int{"width": 1280, "height": 720},
	}
	if h.callbackURL != "" {
		body["callback_url"] = h.callbackURL
	}

	data, err := h.http.post(ctx, "/v2/video/generate", "application/json", body)
	if err != nil {
		return "", classify("submit render", err)
	}
	var resp heygenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(data))
	}
	if resp.Error != nil {
		b, _ := json.Marshal(resp.Error)
		return "", fmt.Errorf("heygen error: %s", string(b))
	}
	if resp.Data.VideoID == "" {
		return "", errors.New("heygen returned no video id")
	}
	return resp.Data.VideoID, nil
}
