// Package speech handles the voice edge of a conversation: speech-to-text
// for incoming audio and text-to-speech for the assistant's reply.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

var ErrEmptyTranscript = errors.New("speech: transcription produced no text")

// Transcriber converts recorded audio into text via the Whisper API.
type Transcriber struct {
	client openai.Client
	model  string
}

func NewTranscriber(apiKey, model string) *Transcriber {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &Transcriber{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Transcribe reads one audio clip and returns the recognized text. The
// filename only carries the container format hint for the API.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, "application/octet-stream"),
		Model: openai.AudioModel(t.model),
	})
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
