package preview

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"chumtheme/theme"
	"chumtheme/themes"
)

func loadTheme(t *testing.T, name string) *theme.Theme {
	t.Helper()
	m, err := theme.NewManager(theme.Options{Builtin: themes.FS})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	th, err := m.Theme(name)
	if err != nil {
		t.Fatalf("Theme(%s): %v", name, err)
	}
	return th
}

func TestRender(t *testing.T) {
	t.Parallel()

	out, err := Render(loadTheme(t, "win95chum"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{
		"PESTERCHUM 95 (win95chum)",
		"Mood buttons",
		"Chummy",
		"Abscond",
		"Chum moods",
		"#4AC925",
		"themes/win95chum/chummy.png",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestChumsFallsBackToChummy(t *testing.T) {
	t.Parallel()

	raw, err := theme.Decode(strings.NewReader(`{
		"main": {"chums": {"moods": {
			"chummy": {"icon": "$path/chummy.png", "color": "#fff"},
			"offline": {"icon": "$path/offline.png", "color": "grey"}
		}}}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	out, err := Chums(theme.New("tiny", "/t", raw, nil, nil))
	if err != nil {
		t.Fatalf("Chums: %v", err)
	}

	lines := strings.Split(out, "\n")
	if len(lines) != 23 {
		t.Fatalf("got %d lines, want one per mood", len(lines))
	}
	var pleasant, offline string
	for _, l := range lines {
		switch {
		case strings.Contains(l, " pleasant "):
			pleasant = l
		case strings.Contains(l, " offline "):
			offline = l
		}
	}
	if !strings.Contains(pleasant, "(chummy) /t/chummy.png") {
		t.Errorf("pleasant = %q", pleasant)
	}
	if !strings.Contains(offline, "grey") || !strings.Contains(offline, "/t/offline.png") {
		t.Errorf("offline = %q", offline)
	}
}

func TestButtonsWithoutMoods(t *testing.T) {
	t.Parallel()

	raw, err := theme.Decode(strings.NewReader(`{"main": {"moods": []}}`))
	if err != nil {
		t.Fatal(err)
	}
	out, err := Buttons(theme.New("bare", "/t", raw, nil, nil))
	if err != nil {
		t.Fatalf("Buttons: %v", err)
	}
	if !strings.Contains(out, "(none)") {
		t.Fatalf("out = %q", out)
	}
}

func TestColorStyle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		color   string
		colored bool
	}{
		{"#4AC925", true},
		{"#fff", true},
		{"#0000", false},
		{"grey", false},
		{"", false},
	}
	for _, tt := range tests {
		_, noColor := colorStyle(tt.color).GetForeground().(lipgloss.NoColor)
		if tt.colored == noColor {
			t.Errorf("colorStyle(%q) colored = %v, want %v", tt.color, !noColor, tt.colored)
		}
	}
}
