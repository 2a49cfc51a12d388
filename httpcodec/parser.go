//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package httpcodec

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/weaveio/weaveio/codec"
)

const crlf = "\r\n"

// parsed holds one fully parsed message's pieces before the caller
// packs them into a Request or a Response; startLine is the three
// whitespace-separated tokens of the first line, in wire order.
type parsed struct {
	startLine [3]string
	headers   Headers
	body      []byte
	consumed  int
}

// parseMessage walks the ReadStatusLine -> ReadHeaders -> ReadBody(n)
// state machine against data, which is everything currently buffered
// on the connection. It consumes nothing itself (that is the caller's
// job, via Skip, once it decides to commit) and returns codec.ErrIncomplete,
// unmodified, whenever data does not yet hold a complete message.
func parseMessage(data []byte) (parsed, error) {
	lineEnd := bytes.Index(data, []byte(crlf))
	if lineEnd < 0 {
		return parsed{}, codec.ErrIncomplete
	}
	tokens := strings.SplitN(string(data[:lineEnd]), " ", 3)
	if len(tokens) != 3 {
		return parsed{}, codec.NewProtocolViolation("malformed start line: " + string(data[:lineEnd]))
	}
	var startLine [3]string
	copy(startLine[:], tokens)

	pos := lineEnd + 2
	var headers Headers
	contentLength := -1
	for {
		next := bytes.Index(data[pos:], []byte(crlf))
		if next < 0 {
			return parsed{}, codec.ErrIncomplete
		}
		if next == 0 {
			pos += 2
			break
		}
		line := data[pos : pos+next]
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return parsed{}, codec.NewProtocolViolation("malformed header line: " + string(line))
		}
		name := string(line[:colon])
		value := strings.TrimLeft(string(line[colon+1:]), " \t")
		if strings.ToLower(name) == "content-length" {
			if contentLength != -1 {
				return parsed{}, codec.NewProtocolViolation("duplicate content-length header")
			}
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return parsed{}, codec.NewProtocolViolation("malformed content-length: " + value)
			}
			contentLength = n
		}
		headers = append(headers, Header{Name: name, Value: value})
		pos += next + 2
	}

	bodyLen := 0
	if contentLength > 0 {
		bodyLen = contentLength
	}
	if len(data)-pos < bodyLen {
		return parsed{}, codec.ErrIncomplete
	}
	body := data[pos : pos+bodyLen]

	return parsed{startLine: startLine, headers: headers, body: body, consumed: pos + bodyLen}, nil
}

// withContentLength returns h with a content-length header reflecting
// bodyLen: overwritten if present, prepended if absent, matching the
// HTTP codec's encode canonicalisation. An overwritten header keeps its
// position and name case; any further content-length headers are dropped.
func withContentLength(h Headers, bodyLen int) Headers {
	value := strconv.Itoa(bodyLen)
	if h.Count("content-length") == 0 {
		return h.Prepend(Header{Name: "Content-Length", Value: value})
	}
	out := make(Headers, 0, len(h))
	replaced := false
	for _, hd := range h {
		if strings.ToLower(hd.Name) == "content-length" {
			if replaced {
				continue
			}
			hd.Value = value
			replaced = true
		}
		out = append(out, hd)
	}
	return out
}

func writeHeaders(buf *bytes.Buffer, h Headers) {
	for _, hd := range h {
		buf.WriteString(hd.Name)
		buf.WriteString(": ")
		buf.WriteString(hd.Value)
		buf.WriteString(crlf)
	}
	buf.WriteString(crlf)
}
