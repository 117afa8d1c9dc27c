// Package output provides styled terminal output helpers (success, error,
// warning, session formatting) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ember/heatsync/internal/models"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	stateStyles  = map[models.SyncState]lipgloss.Style{
		models.SyncPending:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SyncUploading: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		models.SyncSynced:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		models.SyncFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as indented JSON.
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// SessionLine formats one session for list output.
func SessionLine(s *models.Session) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(s.ID))
	b.WriteString("  ")
	b.WriteString(s.StartTime.Local().Format("2006-01-02 15:04"))

	if d := s.Duration(); d > 0 {
		b.WriteString(fmt.Sprintf("  %dm", int(d.Minutes())))
	}
	if s.RoomTemp != nil {
		b.WriteString(fmt.Sprintf("  %d°F", *s.RoomTemp))
	}
	if s.SessionType != "" {
		b.WriteString("  " + s.SessionType)
	}
	if s.AvgHR > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("  avg %.0f bpm", s.AvgHR)))
	}

	b.WriteString("  " + stateStyles[s.SyncState].Render(string(s.SyncState)))
	if s.Deleted() {
		b.WriteString("  " + errorStyle.Render("deleted"))
	}
	return b.String()
}

// SessionDetail formats a full session for show output.
func SessionDetail(s *models.Session) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(s.ID) + "\n")
	b.WriteString(fmt.Sprintf("  start:     %s\n", s.StartTime.Local().Format(time.RFC1123)))
	if s.EndTime != nil {
		b.WriteString(fmt.Sprintf("  end:       %s\n", s.EndTime.Local().Format(time.RFC1123)))
	}
	if d := s.Duration(); d > 0 {
		b.WriteString(fmt.Sprintf("  duration:  %d min\n", int(d.Minutes())))
	}
	if s.RoomTemp != nil {
		b.WriteString(fmt.Sprintf("  room temp: %d°F (%s)\n", *s.RoomTemp, s.Bucket()))
	}
	if s.SessionType != "" {
		b.WriteString(fmt.Sprintf("  type:      %s\n", s.SessionType))
	}
	if s.AvgHR > 0 {
		b.WriteString(fmt.Sprintf("  avg hr:    %.0f bpm\n", s.AvgHR))
	}
	if s.MaxHR > 0 {
		b.WriteString(fmt.Sprintf("  max hr:    %.0f bpm\n", s.MaxHR))
	}
	if s.Calories > 0 {
		b.WriteString(fmt.Sprintf("  calories:  %.0f\n", s.Calories))
	}
	if s.EffortRating != models.EffortNone {
		b.WriteString(fmt.Sprintf("  effort:    %s\n", s.EffortRating))
	}
	b.WriteString(fmt.Sprintf("  source:    %s\n", s.Source))
	if s.ExternalWorkoutID != "" {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("  external:  %s\n", s.ExternalWorkoutID)))
	}
	if len(s.RelatedIDs) > 0 {
		b.WriteString(subtleStyle.Render(fmt.Sprintf("  related:   %s\n", strings.Join(s.RelatedIDs, ", "))))
	}
	if s.Notes != "" {
		b.WriteString(fmt.Sprintf("  notes:     %s\n", s.Notes))
	}
	if s.Narrative != "" {
		b.WriteString(fmt.Sprintf("  narrative: %s\n", s.Narrative))
	}

	b.WriteString(fmt.Sprintf("  sync:      %s", stateStyles[s.SyncState].Render(string(s.SyncState))))
	if s.LastSyncError != "" {
		b.WriteString(errorStyle.Render(" (" + s.LastSyncError + ")"))
	}
	b.WriteString("\n")
	return b.String()
}

// ComparisonLine formats a baseline comparison for terminal display.
func ComparisonLine(c *models.Comparison) string {
	switch c.Kind {
	case models.ComparisonInsufficientData:
		return subtleStyle.Render(fmt.Sprintf("not enough %s sessions yet for a baseline", c.Bucket))
	case models.ComparisonTypical:
		return successStyle.Render(fmt.Sprintf("typical for %s sessions (baseline %.0f bpm)", c.Bucket, c.AvgHR))
	case models.ComparisonHigherEffort:
		return warningStyle.Render(fmt.Sprintf("%d%% above your %s baseline of %.0f bpm", c.Percent, c.Bucket, c.AvgHR))
	case models.ComparisonLowerEffort:
		return fmt.Sprintf("%d%% below your %s baseline of %.0f bpm", c.Percent, c.Bucket, c.AvgHR)
	default:
		return ""
	}
}
