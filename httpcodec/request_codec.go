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

	"github.com/weaveio/weaveio/codec"
)

// HTTPRequestCodec is the server-side HTTP/1.1 codec: it decodes
// Requests off the wire and encodes Responses back onto it. A fresh
// instance is minted per connection, the way any stateful Codec is.
type HTTPRequestCodec struct{}

// NewHTTPRequestCodec returns a server-side codec ready to decode the
// requests, and encode the responses, of one connection.
func NewHTTPRequestCodec() *HTTPRequestCodec { return &HTTPRequestCodec{} }

// Decode implements codec.Codec.
func (c *HTTPRequestCodec) Decode(r codec.Reader) (codec.Message, error) {
	p, err := decodeFrom(r)
	if err != nil {
		return nil, err
	}
	if p.startLine[2] != "HTTP/1.0" && p.startLine[2] != "HTTP/1.1" {
		return nil, codec.NewProtocolViolation("unsupported request version: " + p.startLine[2])
	}
	return &Request{
		Method:  p.startLine[0],
		Path:    p.startLine[1],
		Version: p.startLine[2],
		Headers: p.headers,
		Body:    append([]byte(nil), p.body...),
	}, nil
}

// Encode implements codec.Codec. It always serialises the version as
// HTTP/1.1 and inserts or overwrites a content-length header
// reflecting the exact body length.
func (c *HTTPRequestCodec) Encode(m codec.Message) ([][]byte, error) {
	resp, ok := m.(*Response)
	if !ok {
		return nil, fmt.Errorf("httpcodec: HTTPRequestCodec.Encode expects *Response, got %T", m)
	}
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(resp.Code))
	buf.WriteByte(' ')
	buf.WriteString(resp.Reason)
	buf.WriteString(crlf)
	writeHeaders(&buf, withContentLength(resp.Headers, len(resp.Body)))
	buf.Write(resp.Body)
	return [][]byte{buf.Bytes()}, nil
}
