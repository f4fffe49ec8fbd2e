package internal

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestModel(t *testing.T, room string) *TUIModel {
	t.Helper()
	model := NewTUIModel(ClientOptions{
		ServerURL:   "ws://127.0.0.1:8080/ws",
		Username:    "alice",
		Room:        room,
		DownloadDir: t.TempDir(),
	})
	model.now = func() time.Time { return fixedNow }
	return model
}

func TestNewTUIModelModes(t *testing.T) {
	if model := NewTUIModel(ClientOptions{}); model.mode != modeNamePrompt {
		t.Fatalf("expected name prompt without a username, got %v", model.mode)
	}
	if model := NewTUIModel(ClientOptions{Username: "alice"}); model.mode != modeRoomPrompt {
		t.Fatalf("expected room prompt without a room, got %v", model.mode)
	}
	model := NewTUIModel(ClientOptions{Username: "alice", Room: "lobby"})
	if model.mode != modeChat || !model.joinPending {
		t.Fatalf("expected chat mode with a pending join, got %v %v", model.mode, model.joinPending)
	}
}

func TestHandleFrameChatFlow(t *testing.T) {
	model := newTestModel(t, "lobby")

	model.handleFrame(Frame{Type: TypeJoinAck, Name: "alice", Room: "lobby"})
	if model.joinPending || model.room != "lobby" {
		t.Fatalf("join ack not applied: pending=%v room=%q", model.joinPending, model.room)
	}

	model.handleFrame(Frame{Type: TypeRoster, Room: "elsewhere", Users: []RosterEntry{{Name: "zed"}}})
	if model.roster != nil {
		t.Fatalf("roster for another room should be ignored, got %v", model.roster)
	}
	model.handleFrame(Frame{Type: TypeRoster, Room: "lobby", Users: []RosterEntry{{Name: "alice"}, {Name: "bob"}}})
	if !reflect.DeepEqual(model.roster, []string{"alice", "bob"}) {
		t.Fatalf("unexpected roster: %v", model.roster)
	}

	model.handleFrame(Frame{Type: TypeRooms, Rooms: []string{"den", "lobby"}})
	if !reflect.DeepEqual(model.rooms, []string{"den", "lobby"}) {
		t.Fatalf("unexpected rooms: %v", model.rooms)
	}

	model.handleFrame(Frame{Type: TypeActivity, Name: "bob", Room: "lobby"})
	if got := model.typing.Active(fixedNow); !reflect.DeepEqual(got, []string{"bob"}) {
		t.Fatalf("expected bob typing, got %v", got)
	}

	model.handleFrame(Frame{
		Type:       TypeMessage,
		Name:       "bob",
		Room:       "lobby",
		Text:       "here you go",
		Timestamp:  fixedNow,
		Attachment: &Attachment{Name: "hello.txt", Size: 5, Type: "text/plain", Data: []byte("hello")},
	})
	if got := model.typing.Active(fixedNow); len(got) != 0 {
		t.Fatalf("message should clear the typing indicator, got %v", got)
	}
	last := model.lines[len(model.lines)-1]
	if last.kind != lineChat || last.name != "bob" || last.attachment != 1 {
		t.Fatalf("unexpected line: %+v", last)
	}

	model.save("1")
	model.save("1")
	for _, name := range []string{"hello.txt", "hello (1).txt"} {
		data, err := os.ReadFile(filepath.Join(model.downloadDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != "hello" {
			t.Fatalf("unexpected content in %s: %q", name, data)
		}
	}

	model.save("2")
	if last := model.lines[len(model.lines)-1]; last.kind != lineError {
		t.Fatalf("saving a missing attachment should report an error, got %+v", last)
	}

	if view := model.View(); !strings.Contains(view, "lobby") {
		t.Fatalf("view should mention the current room")
	}
}

func TestRejectedFirstJoinReturnsToRoomPrompt(t *testing.T) {
	model := newTestModel(t, "lobby")

	if cmd := model.handleFrame(Frame{Type: TypeRejected, Reason: "name too long"}); cmd == nil {
		t.Fatalf("expected a room list refresh")
	}
	if model.mode != modeRoomPrompt || model.room != "" || model.joinPending {
		t.Fatalf("unexpected state after rejected join: mode=%v room=%q pending=%v", model.mode, model.room, model.joinPending)
	}

	// a later rejection while chatting only adds an error line
	model.handleFrame(Frame{Type: TypeJoinAck, Name: "alice", Room: "lobby"})
	model.handleFrame(Frame{Type: TypeRoster, Room: "lobby", Users: []RosterEntry{{Name: "alice"}}})
	if cmd := model.handleFrame(Frame{Type: TypeRejected, Reason: "empty message"}); cmd != nil {
		t.Fatalf("unexpected command for a plain rejection")
	}
	if model.mode != modeChat || model.room != "lobby" {
		t.Fatalf("plain rejection should not leave the room")
	}
}

func TestLoadAttachment(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(textPath, []byte("some notes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	attachment, err := loadAttachment(textPath, 1024)
	if err != nil {
		t.Fatalf("loadAttachment: %v", err)
	}
	if attachment.Name != "notes.txt" || attachment.Type != "text/plain" || attachment.Size != 10 {
		t.Fatalf("unexpected attachment: %+v", attachment)
	}

	if _, err := loadAttachment(textPath, 4); !errors.Is(err, ErrSizeLimitExceeded) {
		t.Fatalf("expected size error, got %v", err)
	}
	if _, err := loadAttachment(dir, 1024); !errors.Is(err, errNotAFile) {
		t.Fatalf("expected not-a-file error, got %v", err)
	}
	if _, err := loadAttachment(filepath.Join(dir, "missing.txt"), 1024); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	pngPath := filepath.Join(dir, "picture.unknownext")
	pngHeader := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	if err := os.WriteFile(pngPath, pngHeader, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	attachment, err = loadAttachment(pngPath, 1024)
	if err != nil {
		t.Fatalf("loadAttachment: %v", err)
	}
	if attachment.Type != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", attachment.Type)
	}
}

func TestSanitizePathComponent(t *testing.T) {
	tests := map[string]string{
		"../../etc/passwd": ".._.._etc_passwd",
		"  ":               "unnamed",
		"..":               "unnamed",
		"a\\b\x00c.txt":    "a_bc.txt",
		"report.pdf":       "report.pdf",
	}
	for input, want := range tests {
		if got := sanitizePathComponent(input); got != want {
			t.Fatalf("sanitizePathComponent(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestHTTPBaseFromWSURL(t *testing.T) {
	tests := map[string]string{
		"ws://localhost:8080/ws":      "http://localhost:8080",
		"wss://chat.example.com/ws?x": "https://chat.example.com",
	}
	for input, want := range tests {
		got, err := httpBaseFromWSURL(input)
		if err != nil {
			t.Fatalf("httpBaseFromWSURL(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("httpBaseFromWSURL(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := httpBaseFromWSURL("http://localhost:8080"); err == nil {
		t.Fatalf("expected error for a non-websocket scheme")
	}
}
