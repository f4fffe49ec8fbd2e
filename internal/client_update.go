package internal

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

type (
	connectedMsg     struct{ conn *websocket.Conn }
	incomingMsg      Frame
	connectFailedMsg struct{ err error }
	sendFailedMsg    struct{ err error }
	reconnectMsg     struct{}
	tickMsg          time.Time
	errorMsg         struct {
		conn *websocket.Conn
		err  error
	}
	roomsMsg struct {
		rooms []roomSummary
		err   error
	}
)

const helpText = "/join <room>  /nick <name>  /leave  /attach <path> [caption]  /save <n>  /rooms  /quit"

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		// Any mode should respect Ctrl+C so the user can bail out quickly.
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeConnection("client quit")
			return model, tea.Quit
		}
		switch model.mode {
		case modeNamePrompt:
			return model.updateNamePrompt(typedMessage)
		case modeRoomPrompt:
			return model.updateRoomPrompt(typedMessage)
		default:
			return model.updateChat(typedMessage)
		}

	case connectedMsg:
		model.websocketConn = typedMessage.conn
		model.isConnected = true
		model.connectionError = nil
		cmds := []tea.Cmd{model.readOnceCmd()}
		if model.room != "" && (model.joinPending || model.mode == modeChat) {
			model.joinPending = true
			cmds = append(cmds, model.joinCmd(model.username, model.room))
		}
		if model.mode == modeRoomPrompt {
			cmds = append(cmds, model.roomsCmd())
		}
		return model, tea.Batch(cmds...)

	case incomingMsg:
		cmd := model.handleFrame(Frame(typedMessage))
		return model, tea.Batch(cmd, model.readOnceCmd())

	case errorMsg:
		if typedMessage.conn != nil && typedMessage.conn != model.websocketConn {
			// stale read from a connection we already replaced
			return model, nil
		}
		model.connectionError = typedMessage.err
		model.isConnected = false
		if model.websocketConn != nil {
			_ = model.websocketConn.Close()
			model.websocketConn = nil
		}
		model.roster = nil
		model.typing.Reset()
		return model, model.scheduleReconnect()

	case sendFailedMsg:
		model.errorLine("send failed: " + typedMessage.err.Error())
		return model, nil

	case connectFailedMsg:
		model.connectionError = typedMessage.err
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if !model.isConnected {
			return model, model.connectCmd()
		}
		return model, nil

	case roomsMsg:
		if typedMessage.err != nil {
			model.errorLine("Error listing rooms: " + typedMessage.err.Error())
			return model, nil
		}
		counts := make(map[string]int, len(typedMessage.rooms))
		names := make([]string, 0, len(typedMessage.rooms))
		for _, room := range typedMessage.rooms {
			counts[room.Name] = room.Members
			names = append(names, room.Name)
		}
		model.roomCounts = counts
		model.rooms = names
		return model, nil

	case tickMsg:
		model.typing.Active(time.Time(typedMessage))
		return model, tickCmd()
	}
	return model, nil
}

func (model *TUIModel) updateNamePrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		return model, tea.Quit
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			model.errorLine("Display name cannot be empty.")
			return model, nil
		}
		if len(trimmed) > MaxNameLength {
			model.errorLine(fmt.Sprintf("Display name must be at most %d bytes.", MaxNameLength))
			return model, nil
		}
		model.username = trimmed
		model.enterRoomPrompt()
		return model, model.roomsCmd()
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateRoomPrompt(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEsc:
		model.enterNamePrompt()
		return model, nil
	case tea.KeyEnter:
		trimmed := strings.TrimSpace(model.textInput.Value())
		if trimmed == "" {
			return model, nil
		}
		// a bare number picks from the listed rooms
		if index, err := strconv.Atoi(trimmed); err == nil && index >= 1 && index <= len(model.rooms) {
			trimmed = model.rooms[index-1]
		}
		model.room = trimmed
		model.joinPending = true
		model.enterChat()
		if !model.isConnected {
			return model, nil
		}
		return model, model.joinCmd(model.username, trimmed)
	}
	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Type == tea.KeyEnter {
		trimmed := strings.TrimSpace(model.textInput.Value())
		model.textInput.SetValue("")
		if strings.HasPrefix(trimmed, "/") {
			return model.runCommand(trimmed)
		}
		if trimmed == "" || !model.isConnected {
			return model, nil
		}
		return model, model.sendCmd(Frame{Type: TypeMessage, Name: model.username, Text: trimmed})
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	if activity := model.activityCmd(); activity != nil {
		return model, tea.Batch(cmd, activity)
	}
	return model, cmd
}

// activityCmd sends a typing ping at most once per activityInterval.
func (model *TUIModel) activityCmd() tea.Cmd {
	if !model.isConnected || model.joinPending || model.room == "" {
		return nil
	}
	now := model.now()
	if now.Sub(model.lastActivity) < activityInterval {
		return nil
	}
	model.lastActivity = now
	return model.sendCmd(Frame{Type: TypeActivity, Name: model.username})
}

func (model *TUIModel) runCommand(input string) (tea.Model, tea.Cmd) {
	command, argument, _ := strings.Cut(input, " ")
	argument = strings.TrimSpace(argument)
	switch strings.ToLower(command) {
	case "/quit", "/exit":
		model.closeConnection("client quit")
		return model, tea.Quit
	case "/help":
		model.systemLine(helpText)
	case "/join":
		if argument == "" {
			model.errorLine("usage: /join <room>")
			return model, nil
		}
		model.joinPending = true
		return model, model.joinCmd(model.username, argument)
	case "/nick":
		if argument == "" || model.room == "" {
			model.errorLine("usage: /nick <name> (inside a room)")
			return model, nil
		}
		return model, model.joinCmd(argument, model.room)
	case "/leave":
		model.room = ""
		model.roster = nil
		model.typing.Reset()
		model.enterRoomPrompt()
		return model, tea.Batch(model.sendCmd(Frame{Type: TypeLeave}), model.roomsCmd())
	case "/rooms":
		return model, model.roomsCmd()
	case "/attach":
		return model.attach(argument)
	case "/save":
		model.save(argument)
	default:
		model.errorLine(fmt.Sprintf("unknown command %s, try /help", command))
	}
	return model, nil
}

func (model *TUIModel) attach(argument string) (tea.Model, tea.Cmd) {
	path, caption, _ := strings.Cut(argument, " ")
	if path == "" {
		model.errorLine("usage: /attach <path> [caption]")
		return model, nil
	}
	attachment, err := loadAttachment(path, model.maxAttachment)
	if err != nil {
		model.errorLine("attach: " + err.Error())
		return model, nil
	}
	model.systemLine(fmt.Sprintf("Sending %s (%s, %s)…", attachment.Name, attachment.Type, formatFileSize(attachment.Size)))
	return model, model.sendCmd(Frame{
		Type:       TypeMessage,
		Name:       model.username,
		Text:       strings.TrimSpace(caption),
		Attachment: attachment,
	})
}

func (model *TUIModel) save(argument string) {
	index, err := strconv.Atoi(argument)
	if err != nil || index < 1 || index > len(model.attachments) {
		model.errorLine(fmt.Sprintf("usage: /save <n> with n between 1 and %d", len(model.attachments)))
		return
	}
	path, err := saveAttachment(model.downloadDir, model.attachments[index-1])
	if err != nil {
		model.errorLine("save: " + err.Error())
		return
	}
	model.systemLine("Saved to " + path)
}

// handleFrame applies one server frame to the model.
func (model *TUIModel) handleFrame(frame Frame) tea.Cmd {
	switch frame.Type {
	case TypeWelcome:
		model.systemLine(frame.Text)
	case TypeRooms:
		model.rooms = frame.Rooms
	case TypeRoster:
		if frame.Room != model.room {
			return nil
		}
		names := make([]string, 0, len(frame.Users))
		for _, user := range frame.Users {
			names = append(names, user.Name)
		}
		model.roster = names
	case TypeJoinAck:
		if frame.Room != model.room {
			model.typing.Reset()
		}
		model.room = frame.Room
		model.username = frame.Name
		model.joinPending = false
		if model.mode != modeChat {
			model.enterChat()
		}
		model.systemLine(fmt.Sprintf("You are %s in %s", frame.Name, frame.Room))
	case TypeJoined:
		model.systemLine(fmt.Sprintf("%s joined %s", frame.Name, frame.Room))
	case TypeLeft:
		model.typing.Clear(frame.Name)
		model.systemLine(fmt.Sprintf("%s left %s", frame.Name, frame.Room))
	case TypeActivity:
		if frame.Name != model.username {
			model.typing.Touch(frame.Name, model.now())
		}
	case TypeMessage:
		model.typing.Clear(frame.Name)
		line := chatLine{at: frame.Timestamp.Local(), kind: lineChat, name: frame.Name, text: frame.Text}
		if frame.Attachment != nil {
			model.attachments = append(model.attachments, *frame.Attachment)
			line.attachment = len(model.attachments)
		}
		model.appendLine(line)
	case TypeRejected:
		model.errorLine("rejected: " + frame.Reason)
		if !model.joinPending {
			return nil
		}
		model.joinPending = false
		if model.roster == nil {
			// the first join failed, so there is no room to fall back to
			model.room = ""
			model.enterRoomPrompt()
			return model.roomsCmd()
		}
	}
	return nil
}
