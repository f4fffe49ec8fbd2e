package internal

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors// all from lipglpss
var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109")).MarginTop(1)
	connectedStyle     = statusStyle.Copy().Foreground(lipgloss.Color("42")).Bold(true)
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1).Width(72)
	sidebarStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 1).MarginTop(1).MarginLeft(1).Width(24)
	sidebarTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("110"))
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("81")).Underline(true)
	typingStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	errorLineStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const visibleLines = 20

func (model *TUIModel) View() string {
	switch model.mode {
	case modeNamePrompt:
		return model.renderPrompt("Welcome to roomchat", "Pick a display name and press Enter. Esc quits.")
	case modeRoomPrompt:
		return model.renderRoomPrompt()
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderPrompt(title, hint string, extra ...string) string {
	header := appTitleStyle.Render(title)
	hintText := menuHintStyle.Render(hint)

	viewSections := []string{header, hintText, model.renderStatus()}
	viewSections = append(viewSections, extra...)

	if notices := model.renderRecentNotices(3); notices != "" {
		viewSections = append(viewSections, notices)
	}

	viewSections = append(viewSections, inputBoxStyle.Render(model.textInput.View()))

	return lipgloss.JoinVertical(lipgloss.Left, viewSections...)
}

func (model *TUIModel) renderRoomPrompt() string {
	var options []string
	if len(model.rooms) == 0 {
		options = append(options, menuHintStyle.Render("No active rooms yet. Type a name to start one."))
	} else {
		for idx, room := range model.rooms {
			label := room
			if count, ok := model.roomCounts[room]; ok {
				label = fmt.Sprintf("%s (%d online)", room, count)
			}
			options = append(options, renderMenuOption(fmt.Sprintf("%d", idx+1), label))
		}
	}
	roomsBox := menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...))
	hint := fmt.Sprintf("Hi %s. Type a room name or its number. Esc changes your name.", model.username)
	return model.renderPrompt("Choose a room", hint, subtitleStyle.Render("Active rooms"), roomsBox)
}

func (model *TUIModel) renderStatus() string {
	switch {
	case model.connectionError != nil && !model.isConnected:
		return errorStyle.Render("Connection error: " + model.connectionError.Error() + " (retrying)")
	case model.isConnected:
		return connectedStyle.Render("Connected")
	default:
		return connectingStyle.Render("Connecting…")
	}
}

func (model *TUIModel) renderChatView() string {
	headerSegments := []string{"roomchat"}
	if model.room != "" {
		headerSegments = append(headerSegments, fmt.Sprintf("Room %s", model.room))
	}
	headerSegments = append(headerSegments, fmt.Sprintf("User %s", model.username))
	headerSegments = append(headerSegments, fmt.Sprintf("Server %s", model.serverURL))
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	start := 0
	if len(model.lines) > visibleLines {
		start = len(model.lines) - visibleLines
	}
	var messageLines []string
	for _, line := range model.lines[start:] {
		messageLines = append(messageLines, model.renderLine(line))
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}

	messagesView := messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...))
	body := lipgloss.JoinHorizontal(lipgloss.Top, messagesView, model.renderSidebar())

	sections := []string{header, model.renderStatus(), body}
	if typing := model.renderTyping(); typing != "" {
		sections = append(sections, typing)
	}
	sections = append(sections, inputBoxStyle.Render(model.textInput.View()), menuHintStyle.Render(helpText))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderSidebar() string {
	lines := []string{sidebarTitleStyle.Render(fmt.Sprintf("In room (%d)", len(model.roster)))}
	for _, name := range model.roster {
		style := usernameStyle.Copy().Foreground(colorForUser(name))
		if name == model.username {
			style = activeUserStyle
		}
		lines = append(lines, "• "+style.Render(name))
	}
	lines = append(lines, "", sidebarTitleStyle.Render("Rooms"))
	if len(model.rooms) == 0 {
		lines = append(lines, menuHintStyle.Render("none"))
	}
	for _, room := range model.rooms {
		marker := "  "
		if room == model.room {
			marker = "➤ "
		}
		lines = append(lines, marker+room)
	}
	return sidebarStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (model *TUIModel) renderTyping() string {
	names := model.typing.Active(model.now())
	switch len(names) {
	case 0:
		return ""
	case 1:
		return typingStyle.Render(names[0] + " is typing…")
	default:
		return typingStyle.Render(strings.Join(names, ", ") + " are typing…")
	}
}

func renderMenuOption(hotkey string, label string) string {
	key := menuHotkeyStyle.Render(hotkey)
	return lipgloss.JoinHorizontal(lipgloss.Left, key, menuItemStyle.Render(label))
}

// renderRecentNotices shows the last few system and error lines on prompt screens.
func (model *TUIModel) renderRecentNotices(limit int) string {
	var notices []string
	for i := len(model.lines) - 1; i >= 0 && len(notices) < limit; i-- {
		line := model.lines[i]
		if line.kind == lineChat {
			continue
		}
		notices = append([]string{model.renderLine(line)}, notices...)
	}
	if len(notices) == 0 {
		return ""
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, notices...))
}

// renderLine renders a single log line. It stamps the timestamp, picks a
// color for the sender, and indents multi-line messages so they stay legible.
func (model *TUIModel) renderLine(line chatLine) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", line.at.Format("15:04:05")))
	switch line.kind {
	case lineSystem:
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", systemMessageStyle.Render(line.text))
	case lineError:
		return lipgloss.JoinHorizontal(lipgloss.Left, timestamp, " ", errorLineStyle.Render(line.text))
	}

	var nameStyle lipgloss.Style
	if line.name == model.username {
		nameStyle = activeUserStyle
	} else {
		nameStyle = usernameStyle.Copy().Foreground(colorForUser(line.name))
	}

	name := nameStyle.Render(line.name)
	segments := []string{timestamp, " ", name, ": "}
	if line.text != "" {
		segments = append(segments, messageBodyStyle.Render(strings.ReplaceAll(line.text, "\n", "\n   ")))
	}
	if line.attachment > 0 && line.attachment <= len(model.attachments) {
		attachment := model.attachments[line.attachment-1]
		label := fmt.Sprintf("[%d] %s (%s, %s) /save %d", line.attachment, attachment.Name, attachment.Type, formatFileSize(attachment.Size), line.attachment)
		if line.text != "" {
			segments = append(segments, " ")
		}
		segments = append(segments, attachmentStyle.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, segments...)
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if len(userColorPalette) == 0 {
		return lipgloss.Color("249")
	}
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
