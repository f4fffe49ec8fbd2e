package internal

import (
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

const (
	activityInterval = 3 * time.Second
	typingTTL        = 4 * time.Second
	maxLogLines      = 500
)

// ClientOptions configures the terminal client.
type ClientOptions struct {
	ServerURL         string
	Username          string
	Room              string
	DownloadDir       string
	MaxAttachmentSize int64
}

// tui model struct for all the components and modes
type TUIModel struct {
	textInput       textinput.Model
	lines           []chatLine
	serverURL       string
	room            string
	username        string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	mode            appMode
	joinPending     bool
	roster          []string
	rooms           []string
	roomCounts      map[string]int
	typing          *TypingTracker
	lastActivity    time.Time
	attachments     []Attachment
	downloadDir     string
	maxAttachment   int64
	now             func() time.Time
}

type appMode int

const (
	modeNamePrompt appMode = iota
	modeRoomPrompt
	modeChat
)

type lineKind int

const (
	lineChat lineKind = iota
	lineSystem
	lineError
)

// chatLine is one rendered entry of the message log. attachment is a 1-based
// index into TUIModel.attachments, 0 when the line carries no file.
type chatLine struct {
	at         time.Time
	kind       lineKind
	name       string
	text       string
	attachment int
}

func NewTUIModel(opts ClientOptions) *TUIModel {
	input := textinput.New()
	input.CharLimit = MaxMessageLength
	input.Focus()

	username := opts.Username
	if username == "" {
		username = defaultUsername()
	}
	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = defaultDownloadDir()
	}
	maxAttachment := opts.MaxAttachmentSize
	if maxAttachment <= 0 {
		maxAttachment = DefaultMaxAttachmentSize
	}

	model := &TUIModel{
		textInput:     input,
		lines:         make([]chatLine, 0, 64),
		serverURL:     opts.ServerURL,
		room:          opts.Room,
		username:      username,
		roomCounts:    make(map[string]int),
		typing:        NewTypingTracker(typingTTL),
		downloadDir:   downloadDir,
		maxAttachment: maxAttachment,
		now:           time.Now,
	}
	switch {
	case opts.Username == "":
		model.enterNamePrompt()
	case opts.Room == "":
		model.enterRoomPrompt()
	default:
		model.enterChat()
		model.joinPending = true
	}
	return model
}

// init user
func defaultUsername() string {
	if user := os.Getenv("ROOMCHAT_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	return tea.Batch(model.connectCmd(), tickCmd())
}

func (model *TUIModel) enterNamePrompt() {
	model.mode = modeNamePrompt
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "Enter display name…"
	model.textInput.Prompt = "name> "
}

func (model *TUIModel) enterRoomPrompt() {
	model.mode = modeRoomPrompt
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Enter a room name…"
	model.textInput.Prompt = "room> "
}

func (model *TUIModel) enterChat() {
	model.mode = modeChat
	model.textInput.SetValue("")
	model.textInput.Placeholder = "Type a message or /help…"
	model.textInput.Prompt = "> "
}

func (model *TUIModel) appendLine(line chatLine) {
	if line.at.IsZero() {
		line.at = model.now()
	}
	model.lines = append(model.lines, line)
	if overflow := len(model.lines) - maxLogLines; overflow > 0 {
		model.lines = append(model.lines[:0], model.lines[overflow:]...)
	}
}

func (model *TUIModel) systemLine(text string) {
	model.appendLine(chatLine{kind: lineSystem, text: text})
}

func (model *TUIModel) errorLine(text string) {
	model.appendLine(chatLine{kind: lineError, text: text})
}
