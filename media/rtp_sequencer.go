// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

const maxSeqNum uint16 = 65535

// RTPExtendedSequenceNumber generates outgoing sequence numbers and tracks wrap arounds.
// For thread safety you should wrap it
type RTPExtendedSequenceNumber struct {
	seqNum           uint16 // next sequence to be sent
	wrapArroundCount uint16
}

// NewRTPSequencer starts with seq as first number returned
func NewRTPSequencer(seq uint16) RTPExtendedSequenceNumber {
	return RTPExtendedSequenceNumber{seqNum: seq}
}

func (s *RTPExtendedSequenceNumber) NextSeqNumber() uint16 {
	seq := s.seqNum
	s.seqNum++
	if s.seqNum == 0 {
		s.wrapArroundCount++
	}
	return seq
}

// ReadExtendedSeq returns count of generated numbers including wraps
func (s *RTPExtendedSequenceNumber) ReadExtendedSeq() uint64 {
	return uint64(s.seqNum) + (uint64(maxSeqNum)+1)*uint64(s.wrapArroundCount)
}
