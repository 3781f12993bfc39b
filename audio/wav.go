// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// TelephonySampleRate is the rate of every payload this package produces
	TelephonySampleRate = 8000

	wavFormatPCM = 1
)

var (
	ErrWavInvalid     = errors.New("wav: invalid file")
	ErrWavUnsupported = errors.New("wav: unsupported format")
)

// LoadWavUlaw reads a WAV file and converts it to 8kHz mono mu-law.
// Any PCM bit depth, channel count and sample rate is accepted.
func LoadWavUlaw(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return DecodeWavUlaw(f)
}

func DecodeWavUlaw(r io.ReadSeeker) ([]byte, error) {
	samples, err := DecodeWavTelephony(r)
	if err != nil {
		return nil, err
	}
	return EncodeUlawSamples(samples), nil
}

// DecodeWavTelephony decodes WAV into 16 bit 8kHz mono samples.
func DecodeWavTelephony(r io.ReadSeeker) ([]int16, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrWavInvalid
	}

	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%w: audio format %d", ErrWavUnsupported, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: decoding pcm: %w", err)
	}

	bitDepth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}

	mono, err := downmix16(buf, bitDepth)
	if err != nil {
		return nil, err
	}

	sampleRate := int(dec.SampleRate)
	if buf.Format != nil && buf.Format.SampleRate > 0 {
		sampleRate = buf.Format.SampleRate
	}
	return Resample(mono, sampleRate, TelephonySampleRate), nil
}

// downmix16 scales samples to 16 bit and averages all channels into one.
func downmix16(buf *audio.IntBuffer, bitDepth int) ([]int16, error) {
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 0 {
		channels = buf.Format.NumChannels
	}

	var scale func(v int) int
	switch bitDepth {
	case 8:
		// 8 bit wav is unsigned
		scale = func(v int) int { return (v - 128) << 8 }
	case 16:
		scale = func(v int) int { return v }
	case 24:
		scale = func(v int) int { return v >> 8 }
	case 32:
		scale = func(v int) int { return v >> 16 }
	default:
		return nil, fmt.Errorf("%w: bit depth %d", ErrWavUnsupported, bitDepth)
	}

	frames := len(buf.Data) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += scale(buf.Data[i*channels+c])
		}
		out[i] = clamp16(sum / channels)
	}
	return out, nil
}

// Resample converts samples between rates with linear interpolation.
func Resample(samples []int16, fromRate int, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || len(samples) == 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, n)
	step := float64(fromRate) / float64(toRate)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = clamp16(int(v))
	}
	return out
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
