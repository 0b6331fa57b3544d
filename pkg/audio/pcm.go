// Package audio provides PCM sample conversion primitives for the Auricle
// capture pipeline: channel downmixing, float32 → int16 quantisation, and
// level telemetry.
//
// All functions operate on raw slices and perform no I/O. The hot-path
// functions (DownmixMono, QuantizeS16) are allocation-free when the caller
// supplies pre-sized destination buffers, which the capture callback relies on.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// ChunkDuration is the nominal duration of one PCM chunk produced by the
// capture layer.
const ChunkDuration = 50 * time.Millisecond

// ChunkSamples returns the number of mono samples in one chunk at the given
// sample rate: round(rate × 0.050).
func ChunkSamples(sampleRate int) int {
	return int(math.Round(float64(sampleRate) * ChunkDuration.Seconds()))
}

// DownmixMono downmixes interleaved multi-channel float32 samples to mono by
// arithmetic mean, appending the result to dst. Mono input is appended
// unchanged. Trailing samples that do not form a complete frame are dropped.
//
// dst may be nil; passing a slice with sufficient capacity avoids allocation.
func DownmixMono(dst []float32, src []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst, src...)
	}
	frames := len(src) / channels
	for f := range frames {
		var sum float32
		for c := range channels {
			sum += src[f*channels+c]
		}
		dst = append(dst, sum/float32(channels))
	}
	return dst
}

// QuantizeS16 converts a float32 sample in [-1, 1] to a signed 16-bit sample
// by clamping and scaling: clamp(x, -1, 1) × 32767.
func QuantizeS16(x float32) int16 {
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	return int16(x * 32767)
}

// EncodeS16LE quantises float32 samples to little-endian int16 PCM, appending
// the encoded bytes to dst. dst may be nil.
func EncodeS16LE(dst []byte, samples []float32) []byte {
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint16(dst, uint16(QuantizeS16(s)))
	}
	return dst
}

// DecodeS16LE decodes little-endian int16 PCM bytes back to float32 samples
// in [-1, 1]. A trailing odd byte is ignored.
func DecodeS16LE(pcm []byte) []float32 {
	samples := make([]float32, 0, len(pcm)/2)
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		samples = append(samples, float32(s)/32767)
	}
	return samples
}

// RMS computes the root-mean-square level of little-endian int16 PCM,
// normalised to [0, 1]. Returns 0 for empty input.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32767
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
