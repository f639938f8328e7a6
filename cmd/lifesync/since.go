package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/lifesync/lifesync/internal/record"
)

var whenParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts RFC 3339, a date, a Go duration meaning "that long
// ago", or natural language such as "yesterday" or "last week".
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d), nil
	}

	r, err := whenParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized --since %q", s)
	}
	return r.Time, nil
}

// filterRecords keeps records of typ (any when empty) stamped at or after
// since. Deleted records are kept only when withDeleted is set.
func filterRecords(items []record.SyncItem, typ record.ItemType, since time.Time, withDeleted bool) []record.SyncItem {
	out := items[:0:0]
	for _, it := range items {
		if typ != "" && it.Type != typ {
			continue
		}
		if !since.IsZero() && it.Timestamp.Before(since) {
			continue
		}
		if it.IsDeleted() && !withDeleted {
			continue
		}
		out = append(out, it)
	}
	return out
}
