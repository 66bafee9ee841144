package transcription

import "context"

type Transcriber interface {
	Stream(opts SessionOptions) *SpeechStream
	Recognize(ctx context.Context, wav []byte, opts SessionOptions) (*Recognition, error)
	Health(ctx context.Context) (*HealthStatus, error)
}

var _ Transcriber = (*Client)(nil)
