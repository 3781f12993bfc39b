// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/icholy/digest"
)

var (
	ErrNoChallenge            = errors.New("no digest challenge in response")
	ErrChallengeMissingFields = errors.New("digest challenge without realm or nonce")
)

type DigestAuth struct {
	Username string
	Password string
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DigestHA1 is MD5(username:realm:password)
func DigestHA1(username, realm, password string) string {
	return md5Hex(username + ":" + realm + ":" + password)
}

// DigestHA2 is MD5(method:uri)
func DigestHA2(method, uri string) string {
	return md5Hex(method + ":" + uri)
}

// DigestResponse is MD5(HA1:nonce:HA2) without qop
func DigestResponse(ha1, nonce, ha2 string) string {
	return md5Hex(ha1 + ":" + nonce + ":" + ha2)
}

// digestHeaderNames returns challenge and authorization header names for 401 and 407
func digestHeaderNames(statusCode int) (challenge string, authorization string) {
	if statusCode == int(sip.StatusProxyAuthRequired) {
		return "Proxy-Authenticate", "Proxy-Authorization"
	}
	return "WWW-Authenticate", "Authorization"
}

// DigestAuthorize answers challenge in res for req.
// Plain MD5 challenges are answered without qop. Challenges with qop or other algorithms are
// computed by digest library.
func DigestAuthorize(res *sip.Response, req *sip.Request, auth DigestAuth) (sip.Header, error) {
	chalName, authName := digestHeaderNames(int(res.StatusCode))
	h := res.GetHeader(chalName)
	if h == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrNoChallenge, chalName)
	}

	chal, err := digest.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", chalName, err)
	}

	if chal.Realm == "" || chal.Nonce == "" {
		return nil, ErrChallengeMissingFields
	}

	uri := req.Recipient.String()
	method := req.Method.String()

	if len(chal.QOP) > 0 || (chal.Algorithm != "" && !strings.EqualFold(chal.Algorithm, "MD5")) {
		cred, err := digest.Digest(chal, digest.Options{
			Method:   method,
			URI:      uri,
			Username: auth.Username,
			Password: auth.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("digest calculation failed: %w", err)
		}
		return sip.NewHeader(authName, cred.String()), nil
	}

	response := DigestResponse(
		DigestHA1(auth.Username, chal.Realm, auth.Password),
		chal.Nonce,
		DigestHA2(method, uri),
	)

	cred := digest.Credentials{
		Username:  auth.Username,
		Realm:     chal.Realm,
		Nonce:     chal.Nonce,
		URI:       uri,
		Response:  response,
		Algorithm: "MD5",
		Opaque:    chal.Opaque,
	}
	return sip.NewHeader(authName, cred.String()), nil
}
