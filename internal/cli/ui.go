package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
)

var (
	Primary = lipgloss.Color("#22d3ee")
	Success = lipgloss.Color("#10B981")
	Warning = lipgloss.Color("#F59E0B")
	Error   = lipgloss.Color("#EF4444")
	Muted   = lipgloss.Color("#6B7280")
)

var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Bold(true).Foreground(Success)
	ErrorStyle   = lipgloss.NewStyle().Bold(true).Foreground(Error)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	SenderStyle  = lipgloss.NewStyle().Bold(true).Foreground(Primary)
)

var RoomBoxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Success).
	Padding(0, 2)

func PrintError(w io.Writer, msg string) {
	fmt.Fprintln(w, ErrorStyle.Render("✖ "+msg))
}

func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintln(w, WarningStyle.Render("! "+msg))
}

func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintln(w, SuccessStyle.Render("✔ ")+msg)
}

func PrintInfo(w io.Writer, msg string) {
	fmt.Fprintln(w, MutedStyle.Render(msg))
}

type roomRow struct {
	ID           string
	Participants int
}

type participantRow struct {
	ConnectionID string
	DisplayName  string
	MicEnabled   bool
	VideoEnabled bool
}

func renderRooms(w io.Writer, rooms []roomRow) {
	if len(rooms) == 0 {
		PrintInfo(w, "no active rooms")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Room", "Participants"})
	total := 0
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.Participants})
		total += r.Participants
	}
	t.AppendFooter(table.Row{strconv.Itoa(len(rooms)) + " rooms", total})
	t.Render()
}

func renderParticipants(w io.Writer, roomID string, parts []participantRow) {
	if len(parts) == 0 {
		PrintInfo(w, "room "+roomID+" is empty")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(roomID)
	t.AppendHeader(table.Row{"Name", "Connection", "Mic", "Video"})
	for _, p := range parts {
		t.AppendRow(table.Row{p.DisplayName, p.ConnectionID, onOff(p.MicEnabled), onOff(p.VideoEnabled)})
	}
	t.Render()
}

func renderRoomCreated(w io.Writer, roomID string) {
	content := fmt.Sprintf("Room created\n\nRoom ID: %s\nJoin:    peer join --room %s --name <you>",
		TitleStyle.Render(roomID), roomID)
	fmt.Fprintln(w, RoomBoxStyle.Render(content))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
