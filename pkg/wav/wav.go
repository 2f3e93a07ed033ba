// Package wav reads RIFF/WAV audio files: header inspection for clip duration
// and 16-bit PCM decoding to mono float32 samples for in-process inference.
//
// Only uncompressed 16-bit PCM is supported for decoding. Multi-channel audio
// is down-mixed by averaging channels per frame.
package wav

import (
	"fmt"
	"os"
	"time"

	wavlib "github.com/go-audio/wav"
)

// Info describes a parsed WAV file header.
type Info struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels is the channel count.
	Channels int

	// BitsPerSample is the sample width. Only 16 is supported for decoding.
	BitsPerSample int

	// Duration is the clip length reported by the container.
	Duration time.Duration
}

// ReadInfo parses the WAV header of the file at path without decoding samples.
func ReadInfo(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("wav: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wavlib.NewDecoder(f)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return Info{}, fmt.Errorf("wav: parse %q: %w", path, err)
		}
		return Info{}, fmt.Errorf("wav: %q is not a valid RIFF/WAV file", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return Info{}, fmt.Errorf("wav: duration of %q: %w", path, err)
	}
	return Info{
		SampleRate:    int(dec.SampleRate),
		Channels:      int(dec.NumChans),
		BitsPerSample: int(dec.BitDepth),
		Duration:      dur,
	}, nil
}

// DecodeMono reads the 16-bit PCM WAV file at path and returns mono float32
// samples normalised to [-1.0, 1.0], alongside the header info. Multi-channel
// audio is down-mixed by averaging all channels per frame.
func DecodeMono(path string) ([]float32, Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Info{}, fmt.Errorf("wav: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wavlib.NewDecoder(f)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, Info{}, fmt.Errorf("wav: parse %q: %w", path, err)
		}
		return nil, Info{}, fmt.Errorf("wav: %q is not a valid RIFF/WAV file", path)
	}
	if dec.WavAudioFormat != 1 {
		return nil, Info{}, fmt.Errorf("wav: %q: only uncompressed PCM is supported", path)
	}
	if dec.BitDepth != 16 {
		return nil, Info{}, fmt.Errorf("wav: %q: only 16-bit PCM decoding is supported", path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, Info{}, fmt.Errorf("wav: decode %q: %w", path, err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	frames := len(buf.Data) / channels
	mono := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(buf.Data[i*channels+ch]) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}

	info := Info{
		SampleRate:    int(dec.SampleRate),
		Channels:      channels,
		BitsPerSample: int(dec.BitDepth),
		Duration:      time.Duration(float64(frames) / float64(dec.SampleRate) * float64(time.Second)),
	}
	return mono, info, nil
}
