package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// SampleWidth is the size in bytes of one PCM16 sample.
	SampleWidth = 2
	scale       = 32768.0
)

var ErrOddLength = errors.New("pcm buffer length is not a multiple of the sample width")

// EncodePCM16 converts normalized samples to little-endian int16 bytes.
func EncodePCM16(samples []float32) []byte {
	return Int16ToPCMBytes(Float32ToInt16(samples))
}

// DecodePCM16 converts little-endian int16 bytes to samples in [-1, 1).
// Buffers with a trailing partial sample are rejected rather than truncated.
func DecodePCM16(pcm []byte) ([]float32, error) {
	if len(pcm)%SampleWidth != 0 {
		return nil, fmt.Errorf("decode pcm16 (%d bytes): %w", len(pcm), ErrOddLength)
	}
	return Int16ToFloat32(PCMBytesToInt16(pcm)), nil
}

func Resample(input []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate {
		return input
	}

	ratio := float64(toRate) / float64(fromRate)
	outputLen := int(math.Ceil(float64(len(input)) * ratio))
	output := make([]float32, outputLen)

	resampleCore(output, input, ratio)
	return output
}

func resampleCore(output, input []float32, ratio float64) {
	for i := 0; i < len(output); i++ {
		srcPos := float64(i) / ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		if srcIdx+1 < len(input) {
			output[i] = input[srcIdx]*(1-frac) + input[srcIdx+1]*frac
		} else if srcIdx < len(input) {
			output[i] = input[srcIdx]
		}
	}
}

func ResampleInt16(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	floats := Int16ToFloat32(samples)
	resampled := Resample(floats, fromRate, toRate)
	return Float32ToInt16(resampled)
}

// PCMBytesToInt16 ignores a trailing odd byte; use DecodePCM16 on wire data.
func PCMBytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/SampleWidth)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*SampleWidth:]))
	}
	return samples
}

func Int16ToPCMBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*SampleWidth:], uint16(s))
	}
	return pcm
}

func Int16ToFloat32(samples []int16) []float32 {
	result := make([]float32, len(samples))
	for i, s := range samples {
		result[i] = float32(s) / scale
	}
	return result
}

func Float32ToInt16(samples []float32) []int16 {
	result := make([]int16, len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * scale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		result[i] = int16(v)
	}
	return result
}

// Duration returns the playback length of a PCM16 mono buffer.
func Duration(pcmBytes, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmBytes/SampleWidth) / float64(sampleRate)
}
