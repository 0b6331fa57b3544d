// Package capture opens a microphone input device and produces fixed-duration
// PCM chunks for the streaming pipeline.
//
// The device callback runs on a dedicated real-time thread owned by the
// underlying audio backend (miniaudio via malgo). The callback is allocation
// free apart from the accumulation buffer and each outgoing chunk, takes no
// locks, and never blocks: completed chunks are handed to the bounded sink
// channel with a non-blocking send, and dropped when the sink is full.
//
// Ownership: the capture handle exclusively owns the input device. The sink
// channel is owned by the caller, who must not close it before [Handle.Stop]
// has returned — the callback would otherwise panic on send.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/auricle/pkg/audio"
)

// rmsWindow is the amount of cumulative audio between level-telemetry log
// lines, expressed in seconds of mono samples.
const rmsWindow = 15

// silenceRMS is the advisory level below which the telemetry log line flags
// probable silence. It does not alter capture behaviour.
const silenceRMS = 0.01

// Device describes one audio input endpoint.
type Device struct {
	// ID is the backend-specific device identifier, stable for the lifetime
	// of the device. Pass it as [Config.DeviceID] to select the device.
	ID string

	// Name is the human-readable device name.
	Name string

	// Default reports whether this is the system default input device.
	Default bool
}

// ListDevices enumerates the available audio input endpoints. Output
// endpoints are not listed; they cannot be captured from.
func ListDevices() ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("capture: enumerate devices: %w", err)
	}

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return devices, nil
}

// Config holds the capture parameters.
type Config struct {
	// DeviceID selects the input device by its [Device.ID]. Empty selects the
	// system default input device. IDs that do not belong to an input
	// endpoint are rejected by [Start].
	DeviceID string

	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int

	// Channels is the number of channels requested from the device. Input
	// with more than one channel is downmixed to mono by arithmetic mean
	// before quantisation. Default: 1.
	Channels int

	// OnDrop, when non-nil, is invoked for every chunk dropped because the
	// sink was full. It runs on the device callback thread and must not
	// block or allocate.
	OnDrop func()
}

// Handle represents a running capture device.
type Handle struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device

	sampleRate int

	// stopped is observed by the device callback on every invocation; once
	// set the callback returns immediately without emitting.
	stopped atomic.Bool
	once    sync.Once
	stopErr error
}

// Start opens the configured input device and begins pushing little-endian
// int16 mono PCM chunks of [audio.ChunkDuration] into sink. Each chunk holds
// exactly round(SampleRate × 0.050) samples.
//
// Start returns once the device is running. Call [Handle.Stop] to release it.
func Start(cfg Config, sink chan<- []byte) (*Handle, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	if cfg.DeviceID != "" {
		id, err := findCaptureDevice(mctx, cfg.DeviceID)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return nil, err
		}
		devCfg.Capture.DeviceID = id.Pointer()
	}

	h := &Handle{mctx: mctx, sampleRate: cfg.SampleRate}

	chunkBytes := audio.ChunkSamples(cfg.SampleRate) * 2
	buf := make([]byte, 0, chunkBytes)
	channels := cfg.Channels

	// Level telemetry accumulators; advisory only.
	var sumSquares float64
	var levelSamples int
	windowSamples := rmsWindow * cfg.SampleRate

	onData := func(_, input []byte, frameCount uint32) {
		if h.stopped.Load() {
			return
		}

		for f := range int(frameCount) {
			var sum float32
			for c := range channels {
				off := (f*channels + c) * 4
				sum += math.Float32frombits(binary.LittleEndian.Uint32(input[off:]))
			}
			s := audio.QuantizeS16(sum / float32(channels))
			buf = binary.LittleEndian.AppendUint16(buf, uint16(s))

			fs := float64(s) / 32767
			sumSquares += fs * fs
			levelSamples++

			if len(buf) == chunkBytes {
				select {
				case sink <- buf:
				default:
					// Sink full: prefer dropping audio over stalling the
					// real-time callback.
					if cfg.OnDrop != nil {
						cfg.OnDrop()
					}
				}
				buf = make([]byte, 0, chunkBytes)
			}
		}

		if levelSamples >= windowSamples {
			rms := math.Sqrt(sumSquares / float64(levelSamples))
			slog.Debug("capture level", "rms", rms, "silent", rms < silenceRMS)
			sumSquares = 0
			levelSamples = 0
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: start device: %w", err)
	}

	h.dev = dev
	slog.Info("capture started",
		"device_id", cfg.DeviceID,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"chunk_samples", audio.ChunkSamples(cfg.SampleRate),
	)
	return h, nil
}

// SampleRate returns the capture sample rate in Hz.
func (h *Handle) SampleRate() int { return h.sampleRate }

// Stop signals the device callback to stop emitting, unwinds the capture
// thread, and releases the device. It is safe to call from any goroutine and
// more than once; subsequent calls return the first result.
func (h *Handle) Stop() error {
	h.once.Do(func() {
		h.stopped.Store(true)
		h.dev.Uninit()
		if err := h.mctx.Uninit(); err != nil {
			h.stopErr = fmt.Errorf("capture: uninit context: %w", err)
		}
		h.mctx.Free()
		slog.Info("capture stopped")
	})
	return h.stopErr
}

// findCaptureDevice resolves id against the set of input endpoints. Returns
// an error when id names no device or names an output-only endpoint.
func findCaptureDevice(mctx *malgo.AllocatedContext, id string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("capture: enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.ID.String() == id {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("capture: device %q: %w", id, ErrNotCaptureDevice)
}

// ErrNotCaptureDevice is returned by [Start] when the configured device ID
// does not belong to an audio input endpoint.
var ErrNotCaptureDevice = errors.New("not an audio input device")
