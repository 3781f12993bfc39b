// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"time"
)

// FadeOut ramps last dur of mono samples linearly down to silence.
// Whole buffer is faded when it is shorter than dur.
func FadeOut(samples []int16, sampleRate int, dur time.Duration) {
	fadeSamples := int(int64(sampleRate) * int64(dur) / int64(time.Second))
	if fadeSamples <= 0 {
		return
	}
	fadeSamples = min(fadeSamples, len(samples))

	start := len(samples) - fadeSamples
	for i := 0; i < fadeSamples; i++ {
		gain := 1.0 - float64(i+1)/float64(fadeSamples)
		samples[start+i] = int16(float64(samples[start+i]) * gain)
	}
}

// SamplesToPCM encodes samples as 16 bit little endian PCM
func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
