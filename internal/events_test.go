package internal

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	event, err := DecodeEvent([]byte(`{"type":"join","name":"alice","room":"lobby"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if join, ok := event.(JoinEvent); !ok || join.Name != "alice" || join.Room != "lobby" {
		t.Fatalf("unexpected event: %#v", event)
	}

	event, err = DecodeEvent([]byte(`{"type":"message","name":"alice","text":"hi","attachment":{"name":"a.txt","size":2,"type":"text/plain","data":"aGk="}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	message, ok := event.(MessageEvent)
	if !ok || message.Text != "hi" || message.Attachment == nil {
		t.Fatalf("unexpected event: %#v", event)
	}
	if string(message.Attachment.Data) != "hi" {
		t.Fatalf("attachment data not decoded from base64: %q", message.Attachment.Data)
	}

	if event, err = DecodeEvent([]byte(`{"type":"message","text":"plain","attachment":null}`)); err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if event.(MessageEvent).Attachment != nil {
		t.Fatalf("null attachment should decode to nil")
	}

	event, err = DecodeEvent([]byte(`{"type":"signal","payload":{"kind":"candidate","candidate":"a=1"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	signal, ok := event.(SignalEvent)
	if !ok || string(signal.Payload) != `{"kind":"candidate","candidate":"a=1"}` {
		t.Fatalf("signal payload not kept verbatim: %#v", event)
	}

	for _, payload := range []string{`{"type":"leave"}`, `{"type":"activity","name":"x"}`} {
		if _, err := DecodeEvent([]byte(payload)); err != nil {
			t.Fatalf("DecodeEvent(%s): %v", payload, err)
		}
	}
}

func TestDecodeEventErrors(t *testing.T) {
	tests := map[string]error{
		`not json`:                 ErrMalformedFrame,
		`{"name":"alice"}`:         ErrMalformedFrame,
		`{"type":"welcome"}`:       ErrUnknownEventType,
		`{"type":"disconnect"}`:    ErrUnknownEventType,
		`{"type":"join","room":5}`: ErrMalformedFrame,
	}
	for payload, want := range tests {
		if _, err := DecodeEvent([]byte(payload)); !errors.Is(err, want) {
			t.Fatalf("DecodeEvent(%s): expected %v, got %v", payload, want, err)
		}
	}
}

func TestOutboundEncoding(t *testing.T) {
	payload, err := encodeOutbound(newRoomList(nil))
	if err != nil {
		t.Fatalf("encodeOutbound: %v", err)
	}
	if string(payload) != `{"type":"rooms","rooms":[]}` {
		t.Fatalf("unexpected room list: %s", payload)
	}

	payload, err = encodeOutbound(ChatMessage{Type: TypeMessage, Name: "bob", Room: "lobby", Text: "hi", Timestamp: fixedNow})
	if err != nil {
		t.Fatalf("encodeOutbound: %v", err)
	}
	if !strings.Contains(string(payload), `"attachment":null`) {
		t.Fatalf("message without attachment should carry null: %s", payload)
	}
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !frame.Timestamp.Equal(fixedNow) || frame.Name != "bob" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	payload, err = encodeOutbound(newRoster("lobby", nil))
	if err != nil {
		t.Fatalf("encodeOutbound: %v", err)
	}
	if string(payload) != `{"type":"roster","room":"lobby","users":[]}` {
		t.Fatalf("unexpected roster: %s", payload)
	}
}
