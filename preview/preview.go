// Package preview renders a theme's mood selector and chum list colors for a
// terminal.
package preview

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	colorful "github.com/lucasb-eyer/go-colorful"

	"chumtheme/mood"
	"chumtheme/theme"
)

var (
	Title = lipgloss.NewStyle().
		Bold(true)

	Header = lipgloss.NewStyle().
		Bold(true).
		MarginTop(1)

	Button = lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		Padding(0, 1)

	Muted = lipgloss.NewStyle().
		Faint(true)
)

// Swatch is the glyph drawn in a mood's color.
const Swatch = "■"

// colorStyle returns a foreground style for a theme color. Colors that are not
// hex values (names, typos) render unstyled.
func colorStyle(s string) lipgloss.Style {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "#") || !theme.ValidColor(s) {
		return lipgloss.NewStyle()
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c.Hex()))
}

// Render draws the theme title, its mood buttons and every chum mood.
func Render(t *theme.Theme) (string, error) {
	var sb strings.Builder
	sb.WriteString(Title.Render(fmt.Sprintf("%s (%s)", t.StringOr("main/windowtitle", t.Name()), t.Name())))
	sb.WriteString("\n")

	buttons, err := Buttons(t)
	if err != nil {
		return "", err
	}
	sb.WriteString(Header.Render("Mood buttons"))
	sb.WriteString("\n")
	sb.WriteString(buttons)
	sb.WriteString("\n")

	chums, err := Chums(t)
	if err != nil {
		return "", err
	}
	sb.WriteString(Header.Render("Chum moods"))
	sb.WriteString("\n")
	sb.WriteString(chums)
	return sb.String(), nil
}

// Buttons draws main/moods as a row of bordered buttons, each labelled with its
// text and tinted with the color of the mood it selects.
func Buttons(t *theme.Theme) (string, error) {
	list, err := t.Moods()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return Muted.Render("(none)"), nil
	}

	rendered := make([]string, 0, len(list))
	for _, btn := range list {
		name := mood.Mood(btn.Mood).Name()
		label := strings.TrimSpace(btn.Text)
		if label == "" {
			label = strings.ToUpper(name)
		}
		style := Button
		if cm, err := t.ChumMood(name); err == nil {
			cs := colorStyle(cm.Color)
			style = style.Inherit(cs).BorderForeground(cs.GetForeground())
		}
		rendered = append(rendered, style.Render(label))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...), nil
}

// Chums lists the chum list icon and color of every catalogue mood. Moods the
// theme does not define are shown with the chummy fallback icon.
func Chums(t *theme.Theme) (string, error) {
	_, defined, err := t.ChumMoods()
	if err != nil {
		return "", err
	}

	width := 0
	for _, name := range mood.Names() {
		width = max(width, lipgloss.Width(name))
	}

	var lines []string
	for _, name := range mood.Names() {
		cm, ok := defined[name]
		if !ok {
			icon, err := t.MoodIcon(name)
			if err != nil {
				icon = "?"
			}
			lines = append(lines, fmt.Sprintf("  %s %-*s %s", Muted.Render(Swatch), width, name, Muted.Render("(chummy) "+icon)))
			continue
		}
		color := cm.Color
		if color == "" {
			color = "-"
		}
		lines = append(lines, fmt.Sprintf("  %s %-*s %-8s %s", colorStyle(cm.Color).Render(Swatch), width, name, color, cm.Icon))
	}
	return strings.Join(lines, "\n"), nil
}
