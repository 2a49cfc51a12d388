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

import "github.com/weaveio/weaveio/codec"

// decodeFrom runs parseMessage against everything currently buffered
// in r and, only once a complete message is found, commits by skipping
// exactly the bytes consumed and releasing them. It never partially
// consumes r: on codec.ErrIncomplete the reader is untouched, so the
// next Decode call after more bytes arrive starts from the same place.
func decodeFrom(r codec.Reader) (parsed, error) {
	n := r.Len()
	if n == 0 {
		return parsed{}, codec.ErrIncomplete
	}
	data, err := r.Peek(n)
	if err != nil {
		return parsed{}, err
	}
	p, err := parseMessage(data)
	if err != nil {
		return parsed{}, err
	}
	if err := r.Skip(p.consumed); err != nil {
		return parsed{}, err
	}
	r.Release()
	return p, nil
}
