package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

var errNotConnected = errors.New("websocket not connected")

func (model *TUIModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	// we schedule a future poke that nudges Update to try the connection again.
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(at time.Time) tea.Msg {
		return tickMsg(at)
	})
}

// websocket dial
func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		if err := validateWSURL(model.serverURL); err != nil {
			return connectFailedMsg{err: err}
		}
		conn, _, err := websocket.DefaultDialer.Dial(model.serverURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// readOnceCmd blocks for the next frame from the server.
func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return errorMsg{err: errNotConnected}
		}
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return errorMsg{conn: conn, err: err}
		}
		if messageType != websocket.TextMessage {
			return incomingMsg{}
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			return incomingMsg{Type: TypeRejected, Reason: fmt.Sprintf("unreadable frame from server: %v", err)}
		}
		return incomingMsg(frame)
	}
}

func (model *TUIModel) sendCmd(frame Frame) tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return sendFailedMsg{err: errNotConnected}
		}
		encoded, err := json.Marshal(frame)
		if err != nil {
			return sendFailedMsg{err: err}
		}
		model.writeMutex.Lock()
		err = conn.WriteMessage(websocket.TextMessage, encoded)
		model.writeMutex.Unlock()
		if err != nil {
			return sendFailedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) joinCmd(name, room string) tea.Cmd {
	return model.sendCmd(Frame{Type: TypeJoin, Name: name, Room: room})
}

// roomsCmd fetches the active rooms with member counts over HTTP.
func (model *TUIModel) roomsCmd() tea.Cmd {
	serverURL := model.serverURL
	return func() tea.Msg {
		base, err := httpBaseFromWSURL(serverURL)
		if err != nil {
			return roomsMsg{err: err}
		}
		rooms, err := apiListRooms(base)
		return roomsMsg{rooms: rooms, err: err}
	}
}

func (model *TUIModel) closeConnection(reason string) {
	if model.websocketConn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
	model.writeMutex.Unlock()
	_ = model.websocketConn.Close()
	model.websocketConn = nil
	model.isConnected = false
}

// RunClient is the entry point for the Bubble Tea program.
func RunClient(opts ClientOptions) error {
	program := tea.NewProgram(NewTUIModel(opts), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func validateWSURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	return nil
}
