// Package filemeta extracts scheduling metadata encoded in media file names.
//
// Recognized shape: YYYY-MM-DD_HH-MM_<caption>.<jpg|png|mp4>
package filemeta

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jo-hoe/instaauto/internal/common"
)

// ScheduleLayout is the wire format of a schedule timestamp.
const ScheduleLayout = "2006-01-02 15:04"

var namePattern = regexp.MustCompile(`(?i)^(\d{4}-\d{2}-\d{2})_(\d{2}-\d{2})_(.*)\.(jpg|png|mp4)$`)

// Metadata is what a file name says about its upload. Nil fields are unset.
type Metadata struct {
	Schedule *time.Time
	Caption  *string
}

// ScheduleString formats Schedule with ScheduleLayout, or returns "" when unset.
func (m Metadata) ScheduleString() string {
	if m.Schedule == nil {
		return ""
	}
	return m.Schedule.Format(ScheduleLayout)
}

// Parse reads metadata from a base file name. It never fails: names that do
// not match leave both fields unset, and a matching name with an impossible
// date or time still yields its caption.
func Parse(name string) Metadata {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Metadata{}
	}
	caption := m[3]
	out := Metadata{Caption: &caption}

	raw := m[1] + " " + strings.ReplaceAll(m[2], "-", ":")
	if ts, err := time.ParseInLocation(ScheduleLayout, raw, time.Local); err == nil {
		out.Schedule = &ts
	}
	return out
}

// IsMedia reports whether path carries one of the accepted media extensions.
func IsMedia(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range common.MediaExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
