package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/synthesis"
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: speak <text> <out.wav>")
	}
	text, outPath := os.Args[1], os.Args[2]

	baseURL := getEnv("SIDECAR_URL", "http://localhost:8000")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client, err := synthesis.New(synthesis.Config{BaseURL: baseURL, Logger: logger})
	if err != nil {
		log.Fatal("client:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := synthesis.Options{
		VoiceDescription: getEnv("VOICE", "A clear, friendly voice speaking at a moderate pace."),
	}

	if os.Getenv("BATCH") == "true" {
		out, err := client.SynthesizeBatch(ctx, text, opts, synthesis.FormatWAV)
		if err != nil {
			log.Fatal("synthesize:", err)
		}
		if err := os.WriteFile(outPath, out.Data, 0o644); err != nil {
			log.Fatal("write:", err)
		}
		fmt.Printf("[TTS] Wrote %d bytes to %s\n", len(out.Data), outPath)
		return
	}

	stream := client.Stream(opts)
	defer stream.Close()

	type result struct {
		pcm        []byte
		sampleRate int
		err        error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		var rate int
		for chunk, err := range stream.Results(ctx) {
			if err != nil {
				done <- result{err: err}
				return
			}
			fmt.Printf("[TTS] segment %s: %d samples at %d Hz\n", chunk.SegmentID, chunk.SamplesPerChannel, chunk.SampleRate)
			buf.Write(chunk.PCM)
			rate = chunk.SampleRate
		}
		done <- result{pcm: buf.Bytes(), sampleRate: rate}
	}()

	// Push word by word, the way an LLM would stream tokens.
	for _, word := range strings.SplitAfter(text, " ") {
		if !stream.PushText(word) {
			break
		}
	}
	stream.EndInput()

	res := <-done
	if res.err != nil {
		log.Fatal("synthesize:", res.err)
	}
	if len(res.pcm) == 0 {
		log.Fatal("no audio received")
	}
	if err := os.WriteFile(outPath, audio.EncodeWAV(res.pcm, res.sampleRate, 1), 0o644); err != nil {
		log.Fatal("write:", err)
	}
	fmt.Printf("[TTS] Wrote %.2fs of audio to %s\n", audio.Duration(len(res.pcm), res.sampleRate), outPath)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
