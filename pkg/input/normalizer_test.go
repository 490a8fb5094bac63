package input_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/mathmentor/pkg/adapter/mock"
	"github.com/m-mizutani/mathmentor/pkg/input"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.White)
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func imageTranscriber(regions ...model.Region) *mock.Transcriber {
	return &mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			return &model.Transcription{Regions: regions}, nil
		},
	}
}

func TestNormalizeText(t *testing.T) {
	x := input.New(&mock.Transcriber{})
	text, err := x.Normalize(context.Background(), model.InputText, []byte("Integrate x^2 dx"))
	gt.NoError(t, err)
	gt.Equal(t, text, "Integrate x^2 dx")
}

func TestNormalizeImageConfidenceBanner(t *testing.T) {
	testCases := map[string]struct {
		regions []model.Region
		banner  bool
		percent string
	}{
		"low confidence": {
			regions: []model.Region{{Text: "x^2", Confidence: 0.3}, {Text: "+ 1", Confidence: 0.5}},
			banner:  true,
			percent: "(40%)",
		},
		"exactly threshold": {
			regions: []model.Region{{Text: "x^2", Confidence: 0.5}},
			banner:  false,
		},
		"high confidence": {
			regions: []model.Region{{Text: "x^2", Confidence: 0.9}, {Text: "+ 1", Confidence: 0.99}},
			banner:  false,
		},
		"no regions": {
			regions: nil,
			banner:  true,
			percent: "(0%)",
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			x := input.New(imageTranscriber(tc.regions...))
			text, err := x.Normalize(context.Background(), model.InputImage, pngBytes(t))
			gt.NoError(t, err)

			if tc.banner {
				gt.True(t, strings.HasPrefix(text, "⚠️ Low OCR confidence "+tc.percent+". Please review the text carefully.\n\n"))
			} else {
				gt.False(t, strings.Contains(text, "Low OCR confidence"))
				gt.S(t, text).Contains("x^2")
			}
		})
	}
}

func TestNormalizeImagePassesMIMEType(t *testing.T) {
	var got string
	x := input.New(&mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			got = mimeType
			return &model.Transcription{Regions: []model.Region{{Text: "1+1", Confidence: 1}}}, nil
		},
	})
	_, err := x.Normalize(context.Background(), model.InputImage, pngBytes(t))
	gt.NoError(t, err)
	gt.Equal(t, got, "image/png")
}

func TestNormalizeImageInvalid(t *testing.T) {
	called := false
	x := input.New(&mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			called = true
			return nil, nil
		},
	})
	_, err := x.Normalize(context.Background(), model.InputImage, []byte("not an image"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTranscription))
	gt.False(t, called)
}

func TestNormalizeImageRecognitionFailure(t *testing.T) {
	x := input.New(&mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			return nil, errors.New("vision model unavailable")
		},
	})
	_, err := x.Normalize(context.Background(), model.InputImage, pngBytes(t))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTranscription))
}

func TestNormalizeAudioHint(t *testing.T) {
	var gotHint, gotName string
	x := input.New(&mock.Transcriber{
		TranscribeAudioFunc: func(ctx context.Context, data []byte, filename, hint string) (string, error) {
			gotHint, gotName = hint, filename
			return "  what is the square root of sixteen  ", nil
		},
	})

	text, err := x.NormalizeFile(context.Background(), model.InputAudio, "question.mp3", []byte{1, 2, 3})
	gt.NoError(t, err)
	gt.Equal(t, text, "what is the square root of sixteen")
	gt.Equal(t, gotName, "question.mp3")
	gt.S(t, gotHint).Contains("square root")
	gt.S(t, gotHint).Contains("derivative")
}

func TestNormalizeAudioFailure(t *testing.T) {
	x := input.New(&mock.Transcriber{
		TranscribeAudioFunc: func(ctx context.Context, data []byte, filename, hint string) (string, error) {
			return "", errors.New("whisper failed")
		},
	})
	_, err := x.Normalize(context.Background(), model.InputAudio, []byte{1})
	gt.True(t, errors.Is(err, model.ErrTranscription))

	_, err = x.Normalize(context.Background(), model.InputAudio, nil)
	gt.True(t, errors.Is(err, model.ErrTranscription))
}

func TestNormalizeCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	x := input.New(&mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			<-release
			return &model.Transcription{}, nil
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := x.Normalize(ctx, model.InputImage, pngBytes(t))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, model.ErrTranscription))
	gt.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNormalizeAudioMissingCredential(t *testing.T) {
	x := input.New(&mock.Transcriber{
		TranscribeAudioFunc: func(ctx context.Context, data []byte, filename, hint string) (string, error) {
			return "", goerr.Wrap(model.ErrCredentialNotConfigured, "openai api key is required")
		},
	})

	_, err := x.Normalize(context.Background(), model.InputAudio, []byte{1})
	gt.True(t, errors.Is(err, model.ErrTranscription))
	gt.True(t, errors.Is(err, model.ErrCredentialNotConfigured))
	gt.False(t, errors.Is(err, model.ErrRetrieval))
}

func TestNormalizeWorkerBound(t *testing.T) {
	var running, peak atomic.Int32
	x := input.New(&mock.Transcriber{
		TranscribeImageFunc: func(ctx context.Context, data []byte, mimeType string) (*model.Transcription, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			return &model.Transcription{Regions: []model.Region{{Text: "1", Confidence: 1}}}, nil
		},
	}, input.WithWorkers(1))

	data := pngBytes(t)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := x.Normalize(context.Background(), model.InputImage, data)
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	gt.Equal(t, peak.Load(), int32(1))
}

func TestConfirm(t *testing.T) {
	t.Run("candidate accepted as is", func(t *testing.T) {
		in, err := input.Confirm("  Integrate x^2 dx \n", "", model.InputText)
		gt.NoError(t, err)
		gt.Equal(t, in.Text(), "Integrate x^2 dx")
		gt.Equal(t, in.Kind(), model.InputText)
		gt.False(t, in.IsZero())
	})

	t.Run("edit replaces candidate", func(t *testing.T) {
		in, err := input.Confirm("lntegrate x2 dx", "Integrate x^2 dx", model.InputImage)
		gt.NoError(t, err)
		gt.Equal(t, in.Text(), "Integrate x^2 dx")
		gt.Equal(t, in.Kind(), model.InputImage)
	})

	t.Run("banner removed", func(t *testing.T) {
		in, err := input.Confirm(input.LowConfidenceBanner(0.2)+"x + 1 = 2", "", model.InputImage)
		gt.NoError(t, err)
		gt.Equal(t, in.Text(), "x + 1 = 2")
	})

	t.Run("empty rejected", func(t *testing.T) {
		_, err := input.Confirm("   ", "\n", model.InputText)
		gt.Error(t, err)

		_, err = input.Confirm(input.LowConfidenceBanner(0), "", model.InputImage)
		gt.Error(t, err)
	})

	t.Run("invalid kind rejected", func(t *testing.T) {
		_, err := input.Confirm("1+1", "", model.InputKind("video"))
		gt.Error(t, err)
	})
}
