package synthesis

import "context"

type Synthesizer interface {
	Stream(opts Options) *SynthesizeStream
	Synthesize(text string, opts Options) *SynthesizeStream
	SynthesizeBatch(ctx context.Context, text string, opts Options, format Format) (*BatchAudio, error)
}

var _ Synthesizer = (*Client)(nil)
