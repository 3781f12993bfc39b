// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sdp

import (
	"strconv"

	pionsdp "github.com/pion/sdp/v3"
)

// Static payload types that do not require rtpmap
var staticFormats = map[uint8]string{
	0: "PCMU/8000",
	3: "GSM/8000",
	8: "PCMA/8000",
	9: "G722/8000",
}

// OfferedCodecs lists audio codecs of offer as name/rate in offered order.
// It uses strict parser, so malformed offers return error here while ParseOffer may still accept them.
func OfferedCodecs(body []byte) ([]string, error) {
	sd := pionsdp.SessionDescription{}
	if err := sd.Unmarshal(body); err != nil {
		return nil, err
	}

	codecs := []string{}
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media != "audio" {
			continue
		}

		for _, f := range m.MediaName.Formats {
			pt, err := strconv.ParseUint(f, 10, 8)
			if err != nil {
				continue
			}

			codec, err := sd.GetCodecForPayloadType(uint8(pt))
			if err == nil && codec.Name != "" {
				codecs = append(codecs, codec.Name+"/"+strconv.Itoa(int(codec.ClockRate)))
				continue
			}
			if name, ok := staticFormats[uint8(pt)]; ok {
				codecs = append(codecs, name)
			}
		}
	}
	return codecs, nil
}

// OffersPCMU checks if PCMU is among offered codecs
func OffersPCMU(body []byte) (bool, error) {
	codecs, err := OfferedCodecs(body)
	if err != nil {
		return false, err
	}
	for _, c := range codecs {
		if c == "PCMU/8000" {
			return true, nil
		}
	}
	return false, nil
}
