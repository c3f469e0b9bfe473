package extractor

import "strings"

// Normalize turns a channel reference as typed by a user (@name, t.me/name,
// https://t.me/name) into the bare channel key used for directories, lake
// files and the channel_name column. It is idempotent and case-sensitive.
func Normalize(channel string) string {
	name := channel
	for {
		next := stripChannelRef(name)
		if next == name {
			return name
		}
		name = next
	}
}

func stripChannelRef(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "@", "")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://t.me/")
	s = strings.TrimPrefix(s, "t.me/")
	return strings.TrimSpace(s)
}
