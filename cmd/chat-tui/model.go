package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/iyunix/go-madlen/internal/client"
	"github.com/iyunix/go-madlen/internal/domain"
	"github.com/iyunix/go-madlen/internal/services/models"
)

const requestTimeout = 90 * time.Second

// changedMsg is sent by the controller's observer after any state change.
type changedMsg struct{}

// resultMsg carries the outcome of a background controller call.
type resultMsg struct {
	status string
	err    error
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	sidebarStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("245")).Padding(0, 1)
	activeStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33")).Background(lipgloss.Color("236"))
	userStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	botStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	inputStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("33")).Padding(0, 1)
)

type model struct {
	ctrl   *client.Controller
	input  []rune
	status string
	// pendingDelete is the chat awaiting a y/n answer.
	pendingDelete string
	width         int
	height        int
}

func newModel(ctrl *client.Controller) *model {
	return &model{ctrl: ctrl, width: 100, height: 30}
}

func (m *model) Init() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		m.ctrl.LoadModels(ctx)
		m.ctrl.RefreshChats(ctx)
		return resultMsg{status: "Type a message, or /help for commands."}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case changedMsg:
	case resultMsg:
		switch {
		case msg.err != nil:
			m.status = msg.err.Error()
		case msg.status != "":
			m.status = msg.status
		}
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.pendingDelete != "" {
		id := m.pendingDelete
		m.pendingDelete = ""
		if msg.String() != "y" && msg.String() != "Y" {
			m.status = "Delete cancelled."
			return m, nil
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			if _, err := m.ctrl.Delete(ctx, id, func() bool { return true }); err != nil {
				return "", err
			}
			return "Chat deleted.", nil
		})
	}

	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		line := string(m.input)
		m.input = m.input[:0]
		return m.submit(line)
	case tea.KeyBackspace:
		if len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
	case tea.KeySpace:
		m.input = append(m.input, ' ')
	case tea.KeyRunes:
		m.input = append(m.input, msg.Runes...)
	}
	return m, nil
}

func (m *model) submit(line string) (tea.Model, tea.Cmd) {
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	if !strings.HasPrefix(strings.TrimSpace(line), "/") {
		m.status = ""
		return m, m.run(func(ctx context.Context) (string, error) {
			return "", m.ctrl.Send(ctx, line)
		})
	}

	cmd, err := parseCommand(line)
	if err != nil {
		m.status = err.Error()
		return m, nil
	}
	snap := m.ctrl.Snapshot()

	switch cmd.Name {
	case "quit":
		return m, tea.Quit
	case "help":
		m.status = strings.Join(commandHelp, "\n")
	case "new":
		m.ctrl.NewChat()
		m.status = "New chat."
	case "models":
		m.status = describeModels(snap.Models, snap.SelectedModel)
	case "model":
		id := cmd.Args[0]
		if n, ok := position(cmd.Args[0], len(snap.Models)); ok {
			id = snap.Models[n].ID
		}
		if err := m.ctrl.SelectModel(id); err != nil {
			m.status = err.Error()
			break
		}
		m.status = "Model: " + id
	case "chats":
		return m, m.run(func(ctx context.Context) (string, error) {
			m.ctrl.RefreshChats(ctx)
			return "", nil
		})
	case "open":
		id, err := resolveChat(snap.Chats, cmd.Args[0])
		if err != nil {
			m.status = err.Error()
			break
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			m.ctrl.Activate(ctx, id)
			return "", nil
		})
	case "rename":
		id, err := resolveChat(snap.Chats, cmd.Args[0])
		if err != nil {
			m.status = err.Error()
			break
		}
		m.ctrl.BeginRename(id)
		if err := m.ctrl.SetRenameBuffer(id, cmd.Rest); err != nil {
			m.status = err.Error()
			break
		}
		return m, m.run(func(ctx context.Context) (string, error) {
			if err := m.ctrl.CommitRename(ctx, id); err != nil {
				m.ctrl.CancelRename(id)
				return "", err
			}
			return "Renamed.", nil
		})
	case "delete":
		id, err := resolveChat(snap.Chats, cmd.Args[0])
		if err != nil {
			m.status = err.Error()
			break
		}
		m.pendingDelete = id
		m.status = "Delete this chat? (y/n)"
	case "image":
		uri, err := imageDataURI(cmd.Args[0])
		if err != nil {
			m.status = err.Error()
			break
		}
		if err := m.ctrl.AttachImage(uri); err != nil {
			m.status = err.Error()
			break
		}
		m.status = "Image attached."
	case "detach":
		m.ctrl.DetachImage()
		m.status = "Image removed."
	}
	return m, nil
}

// run executes fn off the update loop and reports its outcome.
func (m *model) run(fn func(ctx context.Context) (string, error)) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		status, err := fn(ctx)
		return resultMsg{status: status, err: err}
	}
}

func (m *model) View() string {
	snap := m.ctrl.Snapshot()

	sideWidth := 30
	mainWidth := m.width - sideWidth - 4
	if mainWidth < 20 {
		mainWidth = 20
	}

	header := headerStyle.Render("Madlen Chat") + "  " + mutedStyle.Render("model: "+orDash(snap.SelectedModel))
	if snap.PendingImage != "" {
		header += "  " + mutedStyle.Render("[image attached]")
	}

	sidebar := sidebarStyle.Width(sideWidth).Render(renderChats(snap.Chats, snap.ActiveChatID, sideWidth-2))
	body := lipgloss.NewStyle().Width(mainWidth).Render(renderMessages(snap, mainWidth))

	prompt := string(m.input)
	if m.pendingDelete != "" {
		prompt = "(y/n)"
	}
	input := inputStyle.Width(m.width - 4).Render("> " + prompt + "█")

	parts := []string{header, lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", body)}
	if snap.Notice != "" {
		parts = append(parts, errorStyle.Render(snap.Notice))
	}
	if m.status != "" {
		parts = append(parts, mutedStyle.Render(m.status))
	}
	parts = append(parts, input)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderChats(chats []domain.Chat, active string, width int) string {
	if len(chats) == 0 {
		return mutedStyle.Render("No chats yet")
	}
	var b strings.Builder
	for i, c := range chats {
		line := truncate(fmt.Sprintf("%d. %s", i+1, c.Title), width)
		if c.ID == active {
			line = activeStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMessages(snap client.Snapshot, width int) string {
	switch snap.View {
	case client.ViewLoading:
		return mutedStyle.Render("Loading...")
	case client.ViewEmpty:
		if len(snap.Messages) == 0 {
			return mutedStyle.Render("Start a new conversation.")
		}
	}

	var b strings.Builder
	for _, msg := range snap.Messages {
		switch {
		case msg.Role == domain.RoleUser:
			b.WriteString(userStyle.Width(width).Render("You: " + msg.Content))
		case strings.HasPrefix(msg.Content, client.ErrorPrefix):
			b.WriteString(errorStyle.Width(width).Render(msg.Content))
		default:
			b.WriteString(botStyle.Width(width).Render(msg.Content))
		}
		b.WriteString("\n\n")
	}
	if snap.Send == client.SendSending {
		b.WriteString(mutedStyle.Render("Thinking..."))
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeModels(list []models.Model, selected string) string {
	if len(list) == 0 {
		return "No models available."
	}
	var b strings.Builder
	for i, mdl := range list {
		mark := " "
		if mdl.ID == selected {
			mark = "*"
		}
		fmt.Fprintf(&b, "%s %d. %s (%s) %s\n", mark, i+1, mdl.Name, mdl.Label, mdl.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// position converts a 1-based index into a slice offset.
func position(ref string, n int) (int, bool) {
	i, err := strconv.Atoi(ref)
	if err != nil || i < 1 || i > n {
		return 0, false
	}
	return i - 1, true
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
