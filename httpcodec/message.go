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

// Package httpcodec implements codec.Codec for HTTP/1.1 request and
// response messages: HTTPRequestCodec for the server side (decodes
// requests, encodes responses) and HTTPResponseCodec for the client
// side (encodes requests, decodes responses), both built on the same
// status-line/headers/body parser.
package httpcodec

import "strings"

// Header is one wire header, preserved in the case the caller supplied
// it. Equality comparisons against a Header's Name are always done on
// its lowercased form; the lowercasing never touches Value.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered sequence of Header, the way both Request and
// Response carry them: insertion order is preserved on the wire.
type Headers []Header

// Get returns the value of the first header whose name matches name
// case-insensitively, and whether one was found.
func (h Headers) Get(name string) (string, bool) {
	name = strings.ToLower(name)
	for _, hd := range h {
		if strings.ToLower(hd.Name) == name {
			return hd.Value, true
		}
	}
	return "", false
}

// Count returns how many headers match name case-insensitively.
func (h Headers) Count(name string) int {
	name = strings.ToLower(name)
	n := 0
	for _, hd := range h {
		if strings.ToLower(hd.Name) == name {
			n++
		}
	}
	return n
}

// WithoutHeader returns h with every header named name (compared
// case-insensitively) removed, preserving the order of what remains.
func (h Headers) WithoutHeader(name string) Headers {
	name = strings.ToLower(name)
	out := make(Headers, 0, len(h))
	for _, hd := range h {
		if strings.ToLower(hd.Name) == name {
			continue
		}
		out = append(out, hd)
	}
	return out
}

// Prepend returns a new Headers with hd inserted before everything in h.
func (h Headers) Prepend(hd Header) Headers {
	out := make(Headers, 0, len(h)+1)
	out = append(out, hd)
	out = append(out, h...)
	return out
}

// Request is the decoded form of an HTTP/1.1 request line plus headers
// and body. Satisfies codec.Message.
type Request struct {
	Method  string
	Path    string
	Version string
	Headers Headers
	Body    []byte
}

// Response is the decoded form of an HTTP/1.1 status line plus headers
// and body. Satisfies codec.Message.
type Response struct {
	Version string
	Code    int
	Reason  string
	Headers Headers
	Body    []byte
}
