// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestWav(t *testing.T, sampleRate int, bitDepth int, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, wavFormatPCM)
	err = enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	})
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	return path
}

func TestLoadWavUlawTelephony(t *testing.T) {
	data := make([]int, 800)
	for i := range data {
		data[i] = (i % 100) * 100
	}
	path := writeTestWav(t, 8000, 16, 1, data)

	f, err := os.Open(path)
	require.NoError(t, err)
	p := riff.New(f)
	require.NoError(t, p.ParseHeaders())
	f.Close()

	ulaw, err := LoadWavUlaw(path)
	require.NoError(t, err)
	require.Len(t, ulaw, 800)
	assert.Equal(t, EncodeUlawFrame(0), ulaw[0])
	assert.Equal(t, EncodeUlawFrame(5000), ulaw[50])
}

func TestLoadWavUlawStereoDownsample(t *testing.T) {
	// 16kHz stereo, left and right cancel out
	data := make([]int, 1600*2)
	for i := 0; i < 1600; i++ {
		data[i*2] = 2000
		data[i*2+1] = -2000
	}
	path := writeTestWav(t, 16000, 16, 2, data)

	ulaw, err := LoadWavUlaw(path)
	require.NoError(t, err)
	require.Len(t, ulaw, 800)
	for _, b := range ulaw {
		require.Equal(t, byte(0xF7), b)
	}
}

func TestLoadWavUlawMissingFile(t *testing.T) {
	_, err := LoadWavUlaw(filepath.Join(t.TempDir(), "nope.wav"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadWavUlawInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not riff data"), 0644))

	_, err := LoadWavUlaw(path)
	require.ErrorIs(t, err, ErrWavInvalid)
}

func TestResample(t *testing.T) {
	in := []int16{0, 100, 200, 300}
	assert.Equal(t, in, Resample(in, 8000, 8000))

	out := Resample(in, 8000, 16000)
	require.Len(t, out, 8)
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 250, 300, 300}, out)

	out = Resample(in, 16000, 8000)
	assert.Equal(t, []int16{0, 200}, out)
}
