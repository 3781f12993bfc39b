// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"github.com/emiago/sipbot/audio"
	"github.com/rs/zerolog"
)

// AudioSource returns announcement as 8kHz mu-law. Empty result means no audio
// is available and tones are synthesized instead.
type AudioSource func() []byte

// ToneSynth renders text as 8kHz mu-law
type ToneSynth func(text string) []byte

// WavFileAudioSource loads WAV file on every call so file can be replaced while running.
func WavFileAudioSource(path string, log zerolog.Logger) AudioSource {
	return func() []byte {
		if path == "" {
			return nil
		}
		payload, err := audio.LoadWavUlaw(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Announcement not loaded, using tones")
			return nil
		}
		return payload
	}
}

// StaticAudioSource always returns same payload
func StaticAudioSource(payload []byte) AudioSource {
	return func() []byte {
		return payload
	}
}
