// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"math"
	"time"
)

const (
	toneDuration = 250 * time.Millisecond
	toneGap      = 50 * time.Millisecond
	toneFade     = 10 * time.Millisecond
	toneVolume   = 0.2
)

// ToneFrequency is the pitch used for a single character.
func ToneFrequency(c rune) float64 {
	return 400 + float64(c%32)*20
}

// SynthesizeTones renders text as a sequence of sine tones, one per character,
// each followed by short silence. Tone ends are faded to avoid clicks.
func SynthesizeTones(text string, sampleRate int) []int16 {
	toneSamples := int(int64(sampleRate) * int64(toneDuration) / int64(time.Second))
	gapSamples := int(int64(sampleRate) * int64(toneGap) / int64(time.Second))

	var out []int16
	for _, c := range text {
		freq := ToneFrequency(c)
		tone := make([]int16, toneSamples)
		for i := range tone {
			t := float64(i) / float64(sampleRate)
			tone[i] = int16(toneVolume * math.Sin(2*math.Pi*freq*t) * math.MaxInt16)
		}
		FadeOut(tone, sampleRate, toneFade)

		out = append(out, tone...)
		out = append(out, make([]int16, gapSamples)...)
	}
	return out
}

// SynthesizeTonesPCM is SynthesizeTones as 16 bit little endian PCM
func SynthesizeTonesPCM(text string, sampleRate int) []byte {
	return SamplesToPCM(SynthesizeTones(text, sampleRate))
}

// SynthesizeTonesUlaw is SynthesizeTones at 8kHz encoded as mu-law.
func SynthesizeTonesUlaw(text string) []byte {
	return EncodeUlawSamples(SynthesizeTones(text, TelephonySampleRate))
}
