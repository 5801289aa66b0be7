package model

import "time"

// Pair is a two-element integer sequence, used for both locations ([x, y])
// and sizes ([w, h]).
type Pair [2]int

// X returns the first element.
func (p Pair) X() int { return p[0] }

// Y returns the second element.
func (p Pair) Y() int { return p[1] }

// MoodButton is one entry of main/moods: a labelled button bound to a mood id.
type MoodButton struct {
	Style    string `json:"style"`
	Selected string `json:"selected"`
	Loc      Pair   `json:"loc"`
	Size     Pair   `json:"size"`
	Text     string `json:"text"`
	Icon     string `json:"icon"`
	Mood     int    `json:"mood"`
}

// ChumMood is the icon and color shown next to a chum in a given mood.
type ChumMood struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// MenuItem is a single menu entry. Items is non-empty for submenus, in which
// case Label carries the submenu's _name.
type MenuItem struct {
	Key   string     `json:"key"`
	Label string     `json:"label"`
	Items []MenuItem `json:"items,omitempty"`
}

// Margins mirrors the margins mapping of the convo and memos sections.
type Margins struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
	Right  int `json:"right"`
}

// RepoMeta is the meta block of a theme repository database.
type RepoMeta struct {
	FormatVersion  int    `json:"format_version"`
	SubmissionPage string `json:"submission_page,omitempty"`
}

// RepoEntry describes one theme published in the repository database.
type RepoEntry struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Author         string `json:"author,omitempty"`
	Description    string `json:"description,omitempty"`
	Inherits       string `json:"inherits"`
	Version        int    `json:"version"`
	Client         string `json:"client"`
	Download       string `json:"download"`
	SHA256Download string `json:"sha256_download"`
	SHA256Install  string `json:"sha256_install,omitempty"`
	Size           int64  `json:"size,omitempty"`
	Icon           string `json:"icon,omitempty"`
	Updated        int64  `json:"updated,omitempty"`
}

// ManifestMeta tracks when and with which database format the manifest was written.
type ManifestMeta struct {
	FormatVersion int     `json:"format_version"`
	UpdatedAt     float64 `json:"updated_at"`
}

// Manifest records themes installed from the repository, keyed by theme name.
type Manifest struct {
	Meta    ManifestMeta         `json:"meta"`
	Entries map[string]RepoEntry `json:"entries"`
}

// RefreshResult summarises one repository database refresh.
type RefreshResult struct {
	Timestamp     time.Time `json:"timestamp"`
	URL           string    `json:"url"`
	FormatVersion int       `json:"format_version"`
	Entries       int       `json:"entries"`
	Updates       []string  `json:"updates,omitempty"`
}

type ScheduleType string

const (
	ScheduleInterval ScheduleType = "interval"
	ScheduleDaily    ScheduleType = "daily"
)

// Schedule triggers repository refreshes.
type Schedule struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Enabled   bool         `json:"enabled"`
	Type      ScheduleType `json:"type"`
	Every     string       `json:"every,omitempty"`       // Go duration, e.g. "6h"
	TimeOfDay string       `json:"time_of_day,omitempty"` // "HH:MM" local time
}
