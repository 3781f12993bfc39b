// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sdp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrNoConnection  = errors.New("sdp: no connection address")
	ErrMediaNotFound = errors.New("sdp: media not found")
	ErrNoAudioMedia  = errors.New("sdp: no audio media")
	ErrInvalidPort   = errors.New("sdp: invalid media port")
)

var bufReader = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// SessionDescription holds every line value by its type, in order of appearance
type SessionDescription map[string][]string

func (sd SessionDescription) Values(key string) []string {
	return sd[key]
}

func (sd SessionDescription) Value(key string) string {
	values := sd[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// LastValue returns latest occurrence. Media level lines come after session level.
func (sd SessionDescription) LastValue(key string) string {
	values := sd[key]
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// MediaDescription represents a media type.
// m=<media> <port>/<number of ports> <proto> <fmt> ...
// https://tools.ietf.org/html/rfc4566#section-5.14
type MediaDescription struct {
	MediaType string

	Port        int
	PortNumbers int

	Proto string

	Formats []string
}

func (m *MediaDescription) String() string {
	ports := strconv.Itoa(m.Port)
	if m.PortNumbers > 0 {
		ports += "/" + strconv.Itoa(m.PortNumbers)
	}

	return fmt.Sprintf("m=%s %s %s %s", m.MediaType, ports, m.Proto, strings.Join(m.Formats, " "))
}

// MediaDescription returns last media line of mediaType
func (sd SessionDescription) MediaDescription(mediaType string) (MediaDescription, error) {
	md := MediaDescription{}
	var v string
	for _, val := range sd.Values("m") {
		fields := strings.Fields(val)
		if len(fields) > 0 && fields[0] == mediaType {
			v = val
		}
	}

	if v == "" {
		return md, fmt.Errorf("%w: %q", ErrMediaNotFound, mediaType)
	}

	fields := strings.Fields(v)
	md.MediaType = fields[0]
	if len(fields) < 2 {
		return md, ErrInvalidPort
	}

	ports := strings.Split(fields[1], "/")
	port, err := strconv.Atoi(ports[0])
	if err != nil {
		return md, fmt.Errorf("%w: %q", ErrInvalidPort, ports[0])
	}
	md.Port = port
	if len(ports) > 1 {
		md.PortNumbers, _ = strconv.Atoi(ports[1])
	}

	if len(fields) > 2 {
		md.Proto = fields[2]
	}
	if len(fields) > 3 {
		md.Formats = fields[3:]
	}
	return md, nil
}

// ConnectionAddress returns address token of the last connection line, without TTL or range.
// c=<nettype> <addrtype> <connection-address>
func (sd SessionDescription) ConnectionAddress() (string, error) {
	v := sd.LastValue("c")
	fields := strings.Fields(v)
	if len(fields) < 3 {
		return "", ErrNoConnection
	}
	addr, _, _ := strings.Cut(fields[2], "/")
	return addr, nil
}

// Unmarshal is lenient non validating parser. Lines that are not type=value are skipped.
// Both CRLF and LF line endings are accepted.
func Unmarshal(data []byte, sdptr *SessionDescription) error {
	reader := bufReader.Get().(*bytes.Buffer)
	defer bufReader.Put(reader)
	reader.Reset()
	reader.Write(data)

	sd := *sdptr
	for {
		line, err := nextLine(reader)
		if err != nil && err != io.EOF {
			return err
		}

		ind := strings.Index(line, "=")
		if ind == 1 {
			key := line[:ind]
			sd[key] = append(sd[key], line[ind+1:])
		}

		if err == io.EOF {
			return nil
		}
	}
}

func nextLine(reader *bytes.Buffer) (line string, err error) {
	line, err = reader.ReadString('\n')
	// We may get io.EOF and line till it was read
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, err
}

// OfferDetails is remote media destination taken from offer
type OfferDetails struct {
	Address string
	Port    int
}

// ParseOffer extracts connection address and audio port from offer.
// Address is resolved to IP when it is hostname.
func ParseOffer(ctx context.Context, body []byte) (OfferDetails, error) {
	sd := SessionDescription{}
	if err := Unmarshal(body, &sd); err != nil {
		return OfferDetails{}, err
	}

	addr, err := sd.ConnectionAddress()
	if err != nil {
		return OfferDetails{}, err
	}

	md, err := sd.MediaDescription("audio")
	if errors.Is(err, ErrMediaNotFound) {
		return OfferDetails{}, ErrNoAudioMedia
	}
	if err != nil {
		return OfferDetails{}, err
	}
	if md.Port < 1 || md.Port > 65535 {
		return OfferDetails{}, fmt.Errorf("%w: %d", ErrInvalidPort, md.Port)
	}

	ip, err := resolveIP(ctx, addr)
	if err != nil {
		return OfferDetails{}, err
	}

	return OfferDetails{Address: ip.String(), Port: md.Port}, nil
}

func resolveIP(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("sdp: resolving %q: %w", host, err)
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("sdp: no address for %q", host)
	}
	return addrs[0].IP, nil
}

// BuildAnswer generates PCMU only answer announcing localAddress and rtpPort
func BuildAnswer(localAddress string, rtpPort int) []byte {
	addrType := "IP4"
	if ip := net.ParseIP(localAddress); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}

	s := []string{
		"v=0",
		fmt.Sprintf("o=sipbot 0 0 IN %s %s", addrType, localAddress),
		"s=sipbot",
		fmt.Sprintf("c=IN %s %s", addrType, localAddress),
		"t=0 0",
		fmt.Sprintf("m=audio %d RTP/AVP 0", rtpPort),
		"a=rtpmap:0 PCMU/8000",
		"a=ptime:20",
	}

	return []byte(strings.Join(s, "\r\n"))
}
