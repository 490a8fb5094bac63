// Package input turns raw text, images and audio into provisional problem text
// and gates it behind human confirmation.
package input

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/adapter"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"golang.org/x/sync/semaphore"
)

const (
	// LowConfidenceThreshold is the mean OCR confidence below which a warning banner is shown
	LowConfidenceThreshold = 0.5

	DefaultWorkers = 2

	audioHint = "This is a math problem. Expect terms like 'square root', 'plus', 'integral', 'pi', 'derivative', 'squared'."
)

// Normalizer converts raw input of any kind into provisional text
type Normalizer struct {
	transcriber adapter.Transcriber
	workers     *semaphore.Weighted
}

type Option func(*Normalizer)

// WithWorkers bounds how many recognitions run at once
func WithWorkers(n int) Option {
	return func(x *Normalizer) {
		if n > 0 {
			x.workers = semaphore.NewWeighted(int64(n))
		}
	}
}

func New(transcriber adapter.Transcriber, opts ...Option) *Normalizer {
	x := &Normalizer{
		transcriber: transcriber,
		workers:     semaphore.NewWeighted(DefaultWorkers),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Normalize returns provisional text for data. Audio is assumed to be WAV; use
// NormalizeFile when the file name is known.
func (x *Normalizer) Normalize(ctx context.Context, kind model.InputKind, data []byte) (string, error) {
	return x.NormalizeFile(ctx, kind, "input.wav", data)
}

// NormalizeFile is Normalize with the original file name, which selects the audio format
func (x *Normalizer) NormalizeFile(ctx context.Context, kind model.InputKind, name string, data []byte) (string, error) {
	switch kind {
	case model.InputText:
		return string(data), nil
	case model.InputImage:
		return x.normalizeImage(ctx, data)
	case model.InputAudio:
		return x.normalizeAudio(ctx, name, data)
	default:
		return "", goerr.Wrap(model.ErrTranscription, "unsupported input kind", goerr.V("kind", kind))
	}
}

func (x *Normalizer) normalizeImage(ctx context.Context, data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(model.ErrTranscription.Wrap(err), "failed to decode image",
			goerr.V("size", len(data)))
	}

	result, err := offload(ctx, x.workers, func(ctx context.Context) (*model.Transcription, error) {
		return x.transcriber.TranscribeImage(ctx, data, "image/"+format)
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrTranscription.Wrap(err), "failed to recognize image",
			goerr.V("format", format))
	}

	text := result.Text()
	confidence := result.MeanConfidence()
	logging.From(ctx).Debug("image recognized",
		"format", format,
		"regions", len(result.Regions),
		"confidence", confidence,
	)

	if confidence < LowConfidenceThreshold {
		text = LowConfidenceBanner(confidence) + text
	}
	return text, nil
}

// LowConfidenceBanner is prepended to OCR text that needs careful review
func LowConfidenceBanner(confidence float64) string {
	return fmt.Sprintf("⚠️ Low OCR confidence (%.0f%%). Please review the text carefully.\n\n", confidence*100)
}

func (x *Normalizer) normalizeAudio(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", goerr.Wrap(model.ErrTranscription, "audio is empty", goerr.V("name", name))
	}

	text, err := offload(ctx, x.workers, func(ctx context.Context) (string, error) {
		return x.transcriber.TranscribeAudio(ctx, data, name, audioHint)
	})
	if err != nil {
		return "", goerr.Wrap(model.ErrTranscription.Wrap(err), "failed to transcribe audio",
			goerr.V("name", name))
	}
	return strings.TrimSpace(text), nil
}

type outcome[T any] struct {
	value T
	err   error
}

// offload runs fn on a worker goroutine once a slot is free and waits for it,
// giving up when ctx is done.
func offload[T any](ctx context.Context, workers *semaphore.Weighted, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := workers.Acquire(ctx, 1); err != nil {
		return zero, goerr.Wrap(err, "no recognition worker available")
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer workers.Release(1)
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, goerr.Wrap(ctx.Err(), "recognition cancelled")
	case r := <-done:
		return r.value, r.err
	}
}

// Confirm turns reviewed text into the only input the agent graph accepts. If
// edited is non-empty it replaces the candidate. The low confidence banner is
// removed because it is guidance for the reviewer, not part of the problem.
func Confirm(candidate, edited string, kind model.InputKind) (model.ConfirmedInput, error) {
	text := candidate
	if strings.TrimSpace(edited) != "" {
		text = edited
	}
	text = StripBanner(text)
	text = strings.TrimSpace(text)

	if text == "" {
		return model.ConfirmedInput{}, goerr.Wrap(model.ErrParseAmbiguity, "confirmed input is empty")
	}
	if !kind.Valid() {
		return model.ConfirmedInput{}, goerr.New("invalid input kind", goerr.V("kind", kind))
	}
	return model.NewConfirmedInput(text, kind), nil
}

// StripBanner removes a leading low confidence banner from text
func StripBanner(text string) string {
	if !strings.HasPrefix(text, "⚠️ Low OCR confidence") {
		return text
	}
	if _, rest, ok := strings.Cut(text, "\n\n"); ok {
		return rest
	}
	return ""
}
