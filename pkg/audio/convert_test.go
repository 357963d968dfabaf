package audio_test

import (
	"errors"
	"math"
	"testing"

	"github.com/MrWong99/tunetrack/pkg/audio"
)

func TestDownmix_Mono(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	dst := make([]float32, 3)
	n := audio.Downmix(dst, in, 1)
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	for i := range in {
		if dst[i] != in[i] {
			t.Errorf("sample %d: got %v, want %v", i, dst[i], in[i])
		}
	}
}

func TestDownmix_Stereo(t *testing.T) {
	// Two stereo frames: L=0.5,R=0.25 and L=-0.5,R=-1.
	in := []float32{0.5, 0.25, -0.5, -1}
	dst := make([]float32, 2)
	n := audio.Downmix(dst, in, 2)
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	want := []float32{0.375, -0.75}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, dst[i], want[i])
		}
	}
}

func TestDownmix_TruncatesToDst(t *testing.T) {
	in := []float32{1, 1, 1, 1, 1, 1}
	dst := make([]float32, 2)
	if n := audio.Downmix(dst, in, 2); n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestDownmix_IgnoresPartialFrame(t *testing.T) {
	in := []float32{1, 1, 1, 1, 1}
	dst := make([]float32, 4)
	if n := audio.Downmix(dst, in, 2); n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestRMS(t *testing.T) {
	tests := []struct {
		name string
		in   []float32
		want float64
	}{
		{"empty", nil, 0},
		{"silence", make([]float32, 64), 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"full scale", []float32{1, -1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.RMS(tc.in); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("RMS = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRMS_NonFinitePropagates(t *testing.T) {
	got := audio.RMS([]float32{0, float32(math.NaN())})
	if !math.IsNaN(got) {
		t.Errorf("RMS with NaN sample = %v, want NaN", got)
	}
}

func TestStreamConfig_Validate(t *testing.T) {
	good := audio.StreamConfig{SampleRate: 44100, Channels: 1, BlockSize: 8192}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := audio.StreamConfig{SampleRate: 0, Channels: -1, BlockSize: 0}
	if err := bad.Validate(); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestStreamConfig_String(t *testing.T) {
	c := audio.StreamConfig{SampleRate: 48000, Channels: 2, BlockSize: 1024}
	if got, want := c.String(), "48000Hz stereo, 1024 frames"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDeviceError_Unwrap(t *testing.T) {
	err := error(&audio.DeviceError{Op: "open", Err: audio.ErrNoInputDevice})
	if !errors.Is(err, audio.ErrNoInputDevice) {
		t.Fatal("errors.Is(DeviceError, ErrNoInputDevice) = false")
	}
	var de *audio.DeviceError
	if !errors.As(err, &de) || de.Op != "open" {
		t.Fatalf("errors.As failed or wrong op: %+v", de)
	}
	if got := err.Error(); got != `audio: open input device "default": audio: no compatible input device` {
		t.Errorf("Error() = %q", got)
	}
}
