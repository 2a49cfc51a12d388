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
	"fmt"
	"strconv"
	"strings"

	"github.com/weaveio/weaveio/codec"
)

// HTTPResponseCodec is the client-side HTTP/1.1 codec: it encodes
// Requests onto the wire and decodes Responses off it, the mirror
// image of HTTPRequestCodec, so IOSystem.Connect can exercise the same
// Codec contract outbound.
type HTTPResponseCodec struct{}

// NewHTTPResponseCodec returns a client-side codec ready to encode the
// requests, and decode the responses, of one connection.
func NewHTTPResponseCodec() *HTTPResponseCodec { return &HTTPResponseCodec{} }

// Decode implements codec.Codec.
func (c *HTTPResponseCodec) Decode(r codec.Reader) (codec.Message, error) {
	p, err := decodeFrom(r)
	if err != nil {
		return nil, err
	}
	if p.startLine[0] != "HTTP/1.0" && p.startLine[0] != "HTTP/1.1" {
		return nil, codec.NewProtocolViolation("unsupported response version: " + p.startLine[0])
	}
	code, err := strconv.Atoi(p.startLine[1])
	if err != nil {
		return nil, codec.NewProtocolViolation("malformed status code: " + p.startLine[1])
	}
	return &Response{
		Version: p.startLine[0],
		Code:    code,
		Reason:  p.startLine[2],
		Headers: p.headers,
		Body:    append([]byte(nil), p.body...),
	}, nil
}

// Encode implements codec.Codec. It always serialises the version as
// HTTP/1.1 and inserts or overwrites a content-length header
// reflecting the exact body length.
func (c *HTTPResponseCodec) Encode(m codec.Message) ([][]byte, error) {
	req, ok := m.(*Request)
	if !ok {
		return nil, fmt.Errorf("httpcodec: HTTPResponseCodec.Encode expects *Request, got %T", m)
	}
	var buf bytes.Buffer
	buf.WriteString(strings.ToUpper(req.Method))
	buf.WriteByte(' ')
	buf.WriteString(req.Path)
	buf.WriteString(" HTTP/1.1")
	buf.WriteString(crlf)
	writeHeaders(&buf, withContentLength(req.Headers, len(req.Body)))
	buf.Write(req.Body)
	return [][]byte{buf.Bytes()}, nil
}
