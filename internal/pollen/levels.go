package pollen

import (
	"fmt"
	"strconv"
	"strings"
)

// Level is the ordinal pollen level. LevelUnknown marks a reading that has
// not been observed yet and is never counted as coverage.
type Level int

const (
	LevelUnknown Level = iota
	LevelNone
	LevelVeryLow
	LevelLow
	LevelModerate
	LevelHigh
	LevelVeryHigh
	LevelExtreme
)

type levelInfo struct {
	slug        string
	native      string
	color       string
	description string
}

var levelTable = map[Level]levelInfo{
	LevelUnknown:  {slug: "unknown"},
	LevelNone:     {"none", "未检测", "#999999", "no pollen"},
	LevelVeryLow:  {"very_low", "很低", "#81CB31", "unlikely to cause allergic reactions"},
	LevelLow:      {"low", "较低", "#A1FF3D", "may affect highly sensitive people"},
	LevelModerate: {"moderate", "偏高", "#F5EE32", "likely to cause allergies; take precautions"},
	LevelHigh:     {"high", "较高", "#FFAF13", "likely to cause allergies; medicate as prescribed"},
	LevelVeryHigh: {"very_high", "很高", "#FF2319", "very likely to cause allergies; limit time outdoors"},
	LevelExtreme:  {"extreme", "极高", "#AD075D", "extremely likely to cause allergies; stay indoors"},
}

// Levels lists the observable levels in ascending order.
var Levels = []Level{
	LevelNone, LevelVeryLow, LevelLow, LevelModerate, LevelHigh, LevelVeryHigh, LevelExtreme,
}

func (l Level) String() string {
	if info, ok := levelTable[l]; ok {
		return info.slug
	}
	return levelTable[LevelUnknown].slug
}

// Known reports whether the level is an actual observation rather than the sentinel.
func (l Level) Known() bool {
	return l > LevelUnknown && l <= LevelExtreme
}

// Color returns the display color code of the level.
func (l Level) Color() string { return levelTable[l].color }

// Description returns a short human-readable advice for the level.
func (l Level) Description() string { return levelTable[l].description }

// ParseLevel accepts a slug ("very_low"), the source's native label or a
// numeric level code (0 = none .. 6 = extreme). Empty input yields LevelUnknown.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LevelUnknown, nil
	}
	norm := strings.ToLower(strings.NewReplacer("-", "_", " ", "_").Replace(s))
	for l, info := range levelTable {
		if norm == info.slug || (info.native != "" && s == info.native) {
			return l, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil {
		return LevelFromCode(n)
	}
	return LevelUnknown, fmt.Errorf("unknown pollen level %q", s)
}

// LevelFromCode maps the source's numeric level code to a Level.
func LevelFromCode(code int) (Level, error) {
	l := Level(code + 1)
	if !l.Known() {
		return LevelUnknown, fmt.Errorf("pollen level code %d out of range", code)
	}
	return l, nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
