package log

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "mcphub"

// journalHandler writes records to the systemd journal with attributes as fields.
type journalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newJournalHandler(level slog.Leveler) *journalHandler {
	return &journalHandler{level: level}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]string{"SYSLOG_IDENTIFIER": journalIdentifier}
	for _, a := range h.attrs {
		addJournalField(fields, h.groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addJournalField(fields, h.groups, a)
		return true
	})
	return journal.Send(r.Message, journalPriority(r.Level), fields)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addJournalField(fields map[string]string, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			addJournalField(fields, sub, ga)
		}
		return
	}
	fields[journalKey(groups, a.Key)] = a.Value.String()
}

// journalKey maps an attribute path to a journal field name: upper case letters,
// digits and underscores, not starting with an underscore.
func journalKey(groups []string, key string) string {
	full := strings.Join(append(append([]string(nil), groups...), key), "_")
	var b strings.Builder
	for _, c := range strings.ToUpper(full) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "_")
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "ATTR_" + out
	}
	return out
}
