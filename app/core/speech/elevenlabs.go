package speech

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"nudge/app/core/orchestrator/user"
)

const defaultElevenLabsBaseURL = "https://api.elevenlabs.io"

// Synthesizer turns reply text into spoken audio through the ElevenLabs
// streaming endpoint.
type Synthesizer struct {
	baseURL        string
	apiKey         string
	model          string
	defaultVoiceID string
	httpClient     *http.Client
}

func NewSynthesizer(apiKey, model, defaultVoiceID string) *Synthesizer {
	return &Synthesizer{
		baseURL:        defaultElevenLabsBaseURL,
		apiKey:         apiKey,
		model:          model,
		defaultVoiceID: defaultVoiceID,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
	}
}

// SetBaseURL points the client at a different host. Used in tests.
func (s *Synthesizer) SetBaseURL(url string) {
	s.baseURL = url
}

// Synthesize renders text with the user's configured voice and returns the
// encoded audio (mpeg).
func (s *Synthesizer) Synthesize(ctx context.Context, text string, cfg user.VoiceConfig) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("speech: no text to synthesize")
	}

	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = s.defaultVoiceID
	}

	body, _ := sjson.Set("", "text", text)
	body, _ = sjson.Set(body, "model_id", s.model)
	body, _ = sjson.Set(body, "voice_settings.stability", cfg.Stability)
	body, _ = sjson.Set(body, "voice_settings.similarity_boost", cfg.SimilarityBoost)
	body, _ = sjson.Set(body, "voice_settings.use_speaker_boost", cfg.UseSpeakerBoost)

	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", s.baseURL, voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read audio: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(payload, "detail.message").String()
		if detail == "" {
			detail = gjson.GetBytes(payload, "detail").String()
		}
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("speech: synthesize: %d: %s", resp.StatusCode, detail)
	}
	return payload, nil
}
