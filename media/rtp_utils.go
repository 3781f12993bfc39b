// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"time"
)

var ntpEpochOffset int64 = 2208988800

func NTPTimestamp(t time.Time) uint64 {
	// Number of seconds since NTP epoch
	seconds := t.Unix() + ntpEpochOffset

	// Fractional part
	nanos := t.Nanosecond()
	frac := (float64(nanos) / 1e9) * (1 << 32)

	// NTP timestamp is 32bit second | 32 bit fractional
	return (uint64(seconds) << 32) | uint64(frac)
}

func NTPToTime(ntpTimestamp uint64) time.Time {
	seconds := int64(ntpTimestamp >> 32)
	frac := float64(ntpTimestamp&0x00000000FFFFFFFF) / (1 << 32)

	return time.Unix(seconds-ntpEpochOffset, int64(frac*1e9))
}
