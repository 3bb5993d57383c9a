// mixgene-notify - Real-time experiment notification relay
// Copyright 2026 The mixgene-notify Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/evilkost/mixgene-notify

package websocket

import (
	"errors"
	"testing"
)

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Inbound
		wantErr bool
	}{
		{name: "init", data: `{"type":"init","content":"exp-42"}`, want: InitMessage{Channel: "exp-42"}},
		{name: "msg", data: `{"type":"msg","content":"hello"}`, want: EchoMessage{Content: "hello"}},
		{name: "msg empty content", data: `{"type":"msg","content":""}`, want: EchoMessage{Content: ""}},
		{name: "msg unicode", data: `{"type":"msg","content":"héllo"}`, want: EchoMessage{Content: "héllo"}},
		{name: "extra fields ignored", data: `{"type":"msg","content":"x","id":7}`, want: EchoMessage{Content: "x"}},
		{name: "unknown type", data: `{"type":"ping"}`, want: UnknownMessage{Type: "ping"}},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "array", data: `["init","x"]`, wantErr: true},
		{name: "missing type", data: `{"content":"x"}`, wantErr: true},
		{name: "numeric type", data: `{"type":1,"content":"x"}`, wantErr: true},
		{name: "init missing content", data: `{"type":"init"}`, wantErr: true},
		{name: "init null content", data: `{"type":"init","content":null}`, wantErr: true},
		{name: "init numeric content", data: `{"type":"init","content":42}`, wantErr: true},
		{name: "init empty channel", data: `{"type":"init","content":""}`, wantErr: true},
		{name: "msg object content", data: `{"type":"msg","content":{"a":1}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.data))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedMessage) {
					t.Fatalf("ParseInbound(%s) error = %v, want ErrMalformedMessage", tt.data, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInbound(%s) unexpected error: %v", tt.data, err)
			}
			if got != tt.want {
				t.Errorf("ParseInbound(%s) = %#v, want %#v", tt.data, got, tt.want)
			}
		})
	}
}
