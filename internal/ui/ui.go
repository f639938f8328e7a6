// Package ui renders terminal output for the lifesync CLI.
package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/lifesync/lifesync/internal/engine"
	"github.com/lifesync/lifesync/internal/record"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func init() {
	if !IsTerminal(os.Stdout) || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderAccent highlights headings and progress markers.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass marks success.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn marks something that needs attention.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail marks an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted de-emphasizes secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// Ago formats the time elapsed since t, or "never" for the zero time.
func Ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// PrintStatus writes the engine status block.
func PrintStatus(w io.Writer, st engine.SyncStatus, now time.Time) {
	state := RenderPass("online")
	if !st.Online {
		state = RenderWarn("offline")
	}
	if st.Syncing {
		state += RenderMuted(" (syncing)")
	}

	fmt.Fprintf(w, "\n%s Sync Status\n\n", RenderAccent("◆"))
	fmt.Fprintf(w, "State:     %s\n", state)
	fmt.Fprintf(w, "Last sync: %s\n", Ago(st.LastSync, now))
	fmt.Fprintf(w, "Pending:   %d\n", st.Pending)

	if len(st.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", headerStyle.Render("Recent errors"))
		for _, e := range st.Errors {
			fmt.Fprintf(w, "  %s %s %s: %s\n", RenderFail("✗"), RenderMuted(e.Time.Format("15:04:05")), e.Op, e.Message)
		}
	}
	if len(st.Devices) > 0 {
		fmt.Fprintln(w)
		PrintDevices(w, st.Devices, now)
	}
	fmt.Fprintln(w)
}

// PrintDevices writes one line per device, sorted by name.
func PrintDevices(w io.Writer, devices []record.DeviceInfo, now time.Time) {
	sorted := append([]record.DeviceInfo(nil), devices...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})

	fmt.Fprintf(w, "%s\n", headerStyle.Render("Devices"))
	for _, d := range sorted {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		fmt.Fprintf(w, "  %s %-20s %-8s %s\n", deviceMarker(d.Status), name, d.Platform, RenderMuted(Ago(d.LastSeen, now)))
	}
}

func deviceMarker(s record.DeviceStatus) string {
	switch s {
	case record.DeviceSynced:
		return RenderPass("●")
	case record.DeviceSyncing:
		return RenderAccent("◐")
	case record.DeviceError:
		return RenderFail("●")
	default:
		return RenderWarn("○")
	}
}

// DescribeItem is a one-line summary of a record for pickers and listings.
func DescribeItem(it record.SyncItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%d", it.Type, it.Version)
	if it.DeviceID != "" {
		fmt.Fprintf(&b, " from %s", it.DeviceID)
	}
	fmt.Fprintf(&b, " at %s", it.Timestamp.Local().Format("2006-01-02 15:04"))
	if it.IsDeleted() {
		b.WriteString(" (deleted)")
	}
	return b.String()
}
