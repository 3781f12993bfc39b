// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package audio

import (
	"io"

	"github.com/zaf/g711"
)

const (
	ulawBias = 0x84
	ulawClip = 32635
)

// EncodeUlawFrame encodes single 16 bit linear sample into G.711 mu-law byte.
func EncodeUlawFrame(sample int16) byte {
	var sign byte
	mag := uint16(sample)
	if sample < 0 {
		sign = 0x80
		mag = uint16(-int32(sample))
	}

	// Keep headroom for the bias
	if mag > ulawClip {
		mag = ulawClip
	}
	mag += ulawBias

	// Segment is position of highest set bit from 0x4000 down to 0x80
	exponent := byte(7)
	for mask := uint16(0x4000); mag&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}

	shift := exponent + 3
	if exponent == 0 {
		shift = 4
	}
	mantissa := byte(mag>>shift) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// EncodeUlaw encodes 16 bit little endian linear PCM into mu-law.
// Trailing odd byte is ignored.
func EncodeUlaw(lpcm []byte) []byte {
	ulaw := make([]byte, len(lpcm)/2)
	EncodeUlawTo(ulaw, lpcm)
	return ulaw
}

func EncodeUlawTo(ulaw []byte, lpcm []byte) (n int, err error) {
	if len(lpcm) > len(ulaw)*2+1 {
		return 0, io.ErrShortBuffer
	}

	for i, j := 0, 0; j <= len(lpcm)-2; i, j = i+1, j+2 {
		ulaw[i] = EncodeUlawFrame(int16(lpcm[j]) | int16(lpcm[j+1])<<8)
		n++
	}
	return n, nil
}

// EncodeUlawSamples encodes samples directly, one byte per sample.
func EncodeUlawSamples(samples []int16) []byte {
	ulaw := make([]byte, len(samples))
	for i, s := range samples {
		ulaw[i] = EncodeUlawFrame(s)
	}
	return ulaw
}

func DecodeUlawTo(lpcm []byte, ulaw []byte) (n int, err error) {
	if ulaw == nil {
		return 0, nil
	}

	if len(lpcm) < 2*len(ulaw) {
		return 0, io.ErrShortBuffer
	}
	for i, j := 0, 0; i < len(ulaw); i, j = i+1, j+2 {
		frame := g711.DecodeUlawFrame(ulaw[i])
		lpcm[j] = byte(frame)
		lpcm[j+1] = byte(frame >> 8)
		n += 2
	}
	return n, nil
}
