package news

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"chatwarden/internal/feed"
)

var slotRe = regexp.MustCompile(`^([01]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ParseSlots parses a comma separated list of times. ";" is accepted as a
// mistyped ":". Valid entries come back zero-padded, sorted and unique;
// rejected entries are returned as typed.
func ParseSlots(input string) (slots, invalid []string) {
	return normalizeSlots(strings.Split(input, ","))
}

func normalizeSlots(in []string) (slots, invalid []string) {
	for _, raw := range in {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		norm, ok := normalizeSlot(s)
		if !ok {
			invalid = append(invalid, s)
			continue
		}
		if !slices.Contains(slots, norm) {
			slots = append(slots, norm)
		}
	}
	slices.Sort(slots)
	return slots, invalid
}

func normalizeSlot(s string) (string, bool) {
	s = strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), ";", ":")
	m := slotRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%02d:%02d", hh, mm), true
}

// ParseTopics splits a comma separated topic list and checks it against the
// configured topics.
func ParseTopics(input string, known feed.Topics) (valid, unknown []string) {
	for _, t := range normalizeTopics(strings.Split(input, ",")) {
		if known.Has(t) {
			valid = append(valid, t)
		} else {
			unknown = append(unknown, t)
		}
	}
	return valid, unknown
}

// HourlySlots returns "00:00" through "23:00".
func HourlySlots() []string {
	out := make([]string, 24)
	for h := range out {
		out[h] = fmt.Sprintf("%02d:00", h)
	}
	return out
}
