package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

const (
	wavHeaderSize = 44
	wavFormatPCM  = 1

	// MaxWAVData caps the data chunk read by DecodeWAV. Streaming writers
	// declare a size of 0xFFFFFFFF, so the header is not trusted.
	MaxWAVData  = 100 * 1024 * 1024
	maxFmtChunk = 64
)

type WAV struct {
	SampleRate int
	Channels   int
	PCM        []byte
}

// EncodeWAV wraps PCM16 little-endian samples in a canonical RIFF header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * SampleWidth
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(buf, binary.LittleEndian, uint16(channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(sampleRate*blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, uint16(SampleWidth*8))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// DecodeWAV reads a PCM16 RIFF/WAVE stream, skipping unknown chunks.
func DecodeWAV(r io.Reader) (*WAV, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a wav stream: %w", ErrUnsupportedFormat)
	}

	out := &WAV{}
	var haveFmt bool
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtChunk {
				return nil, fmt.Errorf("fmt chunk of %d bytes: %w", size, ErrUnsupportedFormat)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != wavFormatPCM || bits != 16 {
				return nil, fmt.Errorf("format %d with %d bits: %w", format, bits, ErrUnsupportedFormat)
			}
			out.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data before fmt chunk: %w", ErrUnsupportedFormat)
			}
			limit := int64(size)
			if limit > MaxWAVData {
				limit = MaxWAVData + 1
			}
			pcm, err := io.ReadAll(io.LimitReader(r, limit))
			if err != nil {
				return nil, fmt.Errorf("read data chunk: %w", err)
			}
			if len(pcm) > MaxWAVData {
				return nil, fmt.Errorf("data chunk exceeds %d bytes: %w", MaxWAVData, ErrUnsupportedFormat)
			}
			out.PCM = pcm[:len(pcm)-len(pcm)%SampleWidth]
			return out, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("skip %q chunk: %w", id, err)
			}
		}
	}
}

// Mono downmixes interleaved PCM16 to a single channel.
func (w *WAV) Mono() []byte {
	if w.Channels <= 1 {
		return w.PCM
	}
	samples := PCMBytesToInt16(w.PCM)
	frames := len(samples) / w.Channels
	mono := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < w.Channels; c++ {
			sum += int(samples[i*w.Channels+c])
		}
		mono[i] = int16(sum / w.Channels)
	}
	return Int16ToPCMBytes(mono)
}
