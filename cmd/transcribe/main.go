package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/audio"
	"github.com/eleven-am/speech-sidecar/internal/transcription"
)

const frameDuration = 100 * time.Millisecond

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: transcribe <file.wav>")
	}

	baseURL := getEnv("SIDECAR_URL", "http://localhost:8000")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client, err := transcription.New(transcription.Config{BaseURL: baseURL, Logger: logger})
	if err != nil {
		log.Fatal("client:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := transcription.SessionOptions{Language: os.Getenv("LANGUAGE")}

	if os.Getenv("BATCH") == "true" {
		data, err := os.ReadFile(os.Args[1])
		if err != nil {
			log.Fatal("read:", err)
		}
		result, err := client.Recognize(ctx, data, opts)
		if err != nil {
			log.Fatal("recognize:", err)
		}
		fmt.Printf("[STT] language=%s duration=%.2fs confidence=%.2f\n", result.Language, result.Duration, result.Confidence)
		fmt.Println(result.Text)
		return
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatal("open:", err)
	}
	wav, err := audio.DecodeWAV(f)
	f.Close()
	if err != nil {
		log.Fatal("decode:", err)
	}

	opts.SampleRate = wav.SampleRate
	stream := client.Stream(opts)
	defer stream.Close()

	fmt.Printf("[STT] Streaming %s (%d Hz) to %s\n", os.Args[1], wav.SampleRate, baseURL)

	done := make(chan error, 1)
	go func() {
		for ev, err := range stream.Results(ctx) {
			if err != nil {
				done <- err
				return
			}
			fmt.Printf("[%6.2f - %6.2f] %s\n", ev.Start, ev.End, ev.Text)
		}
		done <- nil
	}()

	realtime := os.Getenv("REALTIME") == "true"
	pcm := wav.Mono()
	frame := wav.SampleRate * int(frameDuration/time.Millisecond) / 1000 * audio.SampleWidth
	for off := 0; off < len(pcm); off += frame {
		end := min(off+frame, len(pcm))
		if !stream.PushFrame(pcm[off:end]) {
			break
		}
		if realtime {
			time.Sleep(frameDuration)
		}
	}
	stream.EndInput()

	if err := <-done; err != nil {
		log.Fatal("transcribe:", err)
	}
	fmt.Println("[STT] Done")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
