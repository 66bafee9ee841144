package main

import (
	"github.com/eleven-am/speech-sidecar/internal/bootstrap"
)

// @title Speech Sidecar API
// @version 1.0.0
// @description Streaming and batch speech-to-text and text-to-speech for voice agents

// @BasePath /

func main() {
	bootstrap.Run()
}
