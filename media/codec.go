// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"time"
)

var (
	// CodecAudioUlaw is the only codec the bot sends. One payload byte is one sample.
	CodecAudioUlaw = Codec{Name: "PCMU", PayloadType: 0, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
)

type Codec struct {
	Name        string
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

func (c *Codec) String() string {
	return fmt.Sprintf("%s pt=%d rate=%d dur=%s", c.Name, c.PayloadType, c.SampleRate, c.SampleDur.String())
}

// SampleTimestamp is number of clock ticks in one frame
func (c *Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.SampleRate) * c.SampleDur.Seconds())
}

// FrameSize is payload size of one frame for 8 bit codecs
func (c *Codec) FrameSize() int {
	return int(c.SampleTimestamp())
}
