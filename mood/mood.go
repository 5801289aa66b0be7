// Package mood holds the catalogue of mood identifiers shared by every theme.
//
// A mood is sent over the wire as its integer index, so the order of the
// catalogue is fixed and new moods may only be appended.
package mood

import (
	"errors"
	"fmt"
	"strings"
)

// Mood is the numeric identifier of a mood.
type Mood int

const (
	Chummy Mood = iota
	Rancorous
	Offline
	Pleasant
	Distraught
	Pranky
	Smooth
	Ecstatic
	Relaxed
	Discontent
	Devious
	Sleek
	Detestful
	Mirthful
	Manipulative
	Vigorous
	Perky
	Acceptant
	Protective
	Mystified
	Amazed
	Insolent
	Bemused
)

// Category groups moods the way the mood selector lays them out.
type Category string

const (
	CategoryChums  Category = "chums"
	CategoryTrolls Category = "trolls"
	CategoryOther  Category = "other"
)

// ErrUnknownMood is returned when a mood name is not in the catalogue.
var ErrUnknownMood = errors.New("unknown mood")

var names = [...]string{
	"chummy",
	"rancorous",
	"offline",
	"pleasant",
	"distraught",
	"pranky",
	"smooth",
	"ecstatic",
	"relaxed",
	"discontent",
	"devious",
	"sleek",
	"detestful",
	"mirthful",
	"manipulative",
	"vigorous",
	"perky",
	"acceptant",
	"protective",
	"mystified",
	"amazed",
	"insolent",
	"bemused",
}

var categories = map[Mood]Category{
	Chummy:       CategoryChums,
	Rancorous:    CategoryChums,
	Offline:      CategoryChums,
	Pleasant:     CategoryChums,
	Distraught:   CategoryChums,
	Pranky:       CategoryChums,
	Smooth:       CategoryChums,
	Mystified:    CategoryChums,
	Amazed:       CategoryChums,
	Insolent:     CategoryChums,
	Bemused:      CategoryChums,
	Ecstatic:     CategoryTrolls,
	Relaxed:      CategoryTrolls,
	Discontent:   CategoryTrolls,
	Devious:      CategoryTrolls,
	Sleek:        CategoryTrolls,
	Detestful:    CategoryTrolls,
	Mirthful:     CategoryTrolls,
	Manipulative: CategoryTrolls,
	Vigorous:     CategoryTrolls,
	Perky:        CategoryTrolls,
	Acceptant:    CategoryTrolls,
	Protective:   CategoryOther,
}

// Count is the number of moods in the catalogue.
const Count = len(names)

// Valid reports whether id is a catalogue index.
func Valid(id int) bool {
	return id >= 0 && id < Count
}

// Name returns the mood's name. Ids outside the catalogue read as chummy.
func (m Mood) Name() string {
	if !Valid(int(m)) {
		return names[Chummy]
	}
	return names[m]
}

func (m Mood) String() string {
	return m.Name()
}

// Category returns the selector group of the mood.
func (m Mood) Category() Category {
	if c, ok := categories[m]; ok {
		return c
	}
	return CategoryChums
}

// Parse looks a mood up by name, case-insensitively.
func Parse(name string) (Mood, error) {
	norm := strings.ToLower(strings.TrimSpace(name))
	for i, n := range names {
		if n == norm {
			return Mood(i), nil
		}
	}
	return Chummy, fmt.Errorf("%w: %q", ErrUnknownMood, name)
}

// Names returns the catalogue in id order.
func Names() []string {
	out := make([]string, Count)
	copy(out, names[:])
	return out
}

// InCategory returns the moods of a category in id order.
func InCategory(c Category) []Mood {
	var out []Mood
	for i := range names {
		if categories[Mood(i)] == c {
			out = append(out, Mood(i))
		}
	}
	return out
}
