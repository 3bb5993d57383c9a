// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package websocket

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Message types a browser may send.
const (
	MessageTypeInit = "init"
	MessageTypeMsg  = "msg"
)

// ErrMalformedMessage is returned for frames that are not a JSON object with
// a string type, or whose content is not a string where one is required.
var ErrMalformedMessage = errors.New("malformed message")

// ErrChannelAlreadyBound is reported when a bound session sends another init.
var ErrChannelAlreadyBound = errors.New("channel already bound")

// Inbound is a parsed browser message: InitMessage, EchoMessage or UnknownMessage.
type Inbound interface {
	inbound()
}

// InitMessage binds the session to Channel.
type InitMessage struct {
	Channel string
}

// EchoMessage asks for Content to be written back to the sender.
type EchoMessage struct {
	Content string
}

// UnknownMessage carries a type the relay does not handle.
type UnknownMessage struct {
	Type string
}

func (InitMessage) inbound()    {}
func (EchoMessage) inbound()    {}
func (UnknownMessage) inbound() {}

type envelope struct {
	Type    json.RawMessage `json:"type"`
	Content json.RawMessage `json:"content"`
}

// ParseInbound decodes one inbound frame.
func ParseInbound(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	typ, err := rawString(env.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: type: %w", ErrMalformedMessage, err)
	}

	switch typ {
	case MessageTypeInit:
		channel, err := rawString(env.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: init content: %w", ErrMalformedMessage, err)
		}
		if channel == "" {
			return nil, fmt.Errorf("%w: init with empty channel", ErrMalformedMessage)
		}
		return InitMessage{Channel: channel}, nil
	case MessageTypeMsg:
		content, err := rawString(env.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: msg content: %w", ErrMalformedMessage, err)
		}
		return EchoMessage{Content: content}, nil
	default:
		return UnknownMessage{Type: typ}, nil
	}
}

var jsonNull = []byte("null")

// rawString decodes a JSON string field, rejecting absent, null and non-string values.
func rawString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return "", errors.New("missing")
	}
	if raw[0] != '"' {
		return "", errors.New("not a string")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}
