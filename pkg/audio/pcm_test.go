package audio

import (
	"math"
	"math/rand"
	"testing"
)

func TestChunkSamples(t *testing.T) {
	tests := []struct {
		rate int
		want int
	}{
		{16000, 800},
		{44100, 2205},
		{48000, 2400},
		{22050, 1103}, // round(1102.5) = 1103
	}
	for _, tt := range tests {
		if got := ChunkSamples(tt.rate); got != tt.want {
			t.Errorf("ChunkSamples(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}

func TestDownmixMono(t *testing.T) {
	t.Run("mono passthrough", func(t *testing.T) {
		src := []float32{0.1, -0.2, 0.3}
		got := DownmixMono(nil, src, 1)
		if len(got) != 3 {
			t.Fatalf("expected 3 samples, got %d", len(got))
		}
		for i := range src {
			if got[i] != src[i] {
				t.Errorf("sample %d: got %v, want %v", i, got[i], src[i])
			}
		}
	})

	t.Run("stereo mean", func(t *testing.T) {
		src := []float32{0.5, -0.5, 1.0, 0.0}
		got := DownmixMono(nil, src, 2)
		want := []float32{0, 0.5}
		if len(got) != len(want) {
			t.Fatalf("expected %d samples, got %d", len(want), len(got))
		}
		for i := range want {
			if math.Abs(float64(got[i]-want[i])) > 1e-6 {
				t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
			}
		}
	})

	t.Run("incomplete trailing frame dropped", func(t *testing.T) {
		src := []float32{0.2, 0.4, 0.6}
		got := DownmixMono(nil, src, 2)
		if len(got) != 1 {
			t.Fatalf("expected 1 sample, got %d", len(got))
		}
	})

	t.Run("no allocation with pre-sized dst", func(t *testing.T) {
		src := make([]float32, 960*2)
		dst := make([]float32, 0, 960)
		allocs := testing.AllocsPerRun(100, func() {
			dst = dst[:0]
			dst = DownmixMono(dst, src, 2)
		})
		if allocs != 0 {
			t.Errorf("expected 0 allocations, got %v", allocs)
		}
	})
}

func TestQuantizeS16(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{2, 32767},   // clamped
		{-2, -32767}, // clamped
		{0.5, 16383},
	}
	for _, tt := range tests {
		if got := QuantizeS16(tt.in); got != tt.want {
			t.Errorf("QuantizeS16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Run("random samples within quantisation error", func(t *testing.T) {
		rng := rand.New(rand.NewSource(42))
		src := make([]float32, 4096)
		for i := range src {
			src[i] = rng.Float32()*2 - 1
		}

		decoded := DecodeS16LE(EncodeS16LE(nil, src))
		if len(decoded) != len(src) {
			t.Fatalf("expected %d samples, got %d", len(src), len(decoded))
		}
		const eps = 1.0 / 32767
		for i := range src {
			if diff := math.Abs(float64(decoded[i] - src[i])); diff > eps {
				t.Fatalf("sample %d: diff %v exceeds 1/32767 (in=%v out=%v)", i, diff, src[i], decoded[i])
			}
		}
	})

	t.Run("silence round-trips exactly", func(t *testing.T) {
		src := make([]float32, 800)
		decoded := DecodeS16LE(EncodeS16LE(nil, src))
		for i, s := range decoded {
			if s != 0 {
				t.Fatalf("sample %d: expected exact 0, got %v", i, s)
			}
		}
	})
}

func TestRMS(t *testing.T) {
	t.Run("silence", func(t *testing.T) {
		pcm := make([]byte, 1600)
		if got := RMS(pcm); got != 0 {
			t.Errorf("RMS(silence) = %v, want 0", got)
		}
	})

	t.Run("full-scale square wave", func(t *testing.T) {
		src := make([]float32, 800)
		for i := range src {
			if i%2 == 0 {
				src[i] = 1
			} else {
				src[i] = -1
			}
		}
		got := RMS(EncodeS16LE(nil, src))
		if math.Abs(got-1) > 1e-3 {
			t.Errorf("RMS(square) = %v, want ~1", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := RMS(nil); got != 0 {
			t.Errorf("RMS(nil) = %v, want 0", got)
		}
	})
}
