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

// Package transport provides the non-blocking TCP primitives a Worker
// builds its connection handling on: Listener, Conn and DialTCP. Nothing
// here schedules a Conn onto a poller on its own; the worker package
// owns that decision so that every connection ends up bound to exactly
// one Worker's selector.
package transport
