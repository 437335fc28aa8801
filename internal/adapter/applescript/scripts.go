package applescript

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/daybridge/daybridge/internal/adapter"
	"github.com/daybridge/daybridge/internal/model"
)

// scriptSet bundles the four operations for one external system. The
// fetch script emits one record per line, fields joined by the unit
// separator; parse is its inverse.
type scriptSet struct {
	fetch  string
	create func(p model.Payload) (string, error)
	update func(externalID string, p model.Payload) (string, error)
	delete func(externalID string) string
	parse  func(line string) (adapter.RemoteRecord, error)
}

// quote escapes a Go string for inclusion in an AppleScript literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return `"` + s + `"`
}

// isoDate renders a time as an AppleScript date built from an ISO string.
func isoDate(t time.Time) string {
	return fmt.Sprintf(`(my dateFromISO(%s))`, quote(t.UTC().Format("2006-01-02T15:04:05Z")))
}

// dateHelpers is appended to mutation scripts that need date handling.
const dateHelpers = `
on dateFromISO(isoText)
	set d to (current date)
	set {year of d, month of d, day of d} to {text 1 thru 4 of isoText as integer, text 6 thru 7 of isoText as integer, text 9 thru 10 of isoText as integer}
	set time of d to (text 12 thru 13 of isoText as integer) * hours + (text 15 thru 16 of isoText as integer) * minutes + (text 18 thru 19 of isoText as integer)
	return d
end dateFromISO
`

func calendarScripts(calendarName string) scriptSet {
	cal := quote(calendarName)
	return scriptSet{
		fetch: fmt.Sprintf(`
set sep to (ASCII character 31)
set out to ""
tell application "Calendar"
	tell calendar %s
		repeat with ev in events
			set line_ to (uid of ev) & sep & ((modification date of ev) as «class isot» as string) & sep & (summary of ev) & sep & ((start date of ev) as «class isot» as string) & sep & ((end date of ev) as «class isot» as string) & sep & (location of ev) & sep & (description of ev) & sep & (status of ev as string)
			set out to out & line_ & linefeed
		end repeat
	end tell
end tell
return out`, cal),
		create: func(p model.Payload) (string, error) {
			if p.Start == nil || p.End == nil {
				return "", fmt.Errorf("event payload requires start and end")
			}
			return fmt.Sprintf(`
tell application "Calendar"
	tell calendar %s
		set ev to make new event with properties {summary:%s, start date:%s, end date:%s, location:%s, description:%s}
		return uid of ev
	end tell
end tell
%s`, cal, quote(p.Title), isoDate(*p.Start), isoDate(*p.End), quote(p.Location), quote(p.Notes), dateHelpers), nil
		},
		update: func(externalID string, p model.Payload) (string, error) {
			if p.Start == nil || p.End == nil {
				return "", fmt.Errorf("event payload requires start and end")
			}
			return fmt.Sprintf(`
tell application "Calendar"
	tell calendar %s
		set ev to first event whose uid = %s
		set summary of ev to %s
		set start date of ev to %s
		set end date of ev to %s
		set location of ev to %s
		set description of ev to %s
	end tell
end tell
%s`, cal, quote(externalID), quote(p.Title), isoDate(*p.Start), isoDate(*p.End), quote(p.Location), quote(p.Notes), dateHelpers), nil
		},
		delete: func(externalID string) string {
			return fmt.Sprintf(`
tell application "Calendar"
	tell calendar %s
		delete (first event whose uid = %s)
	end tell
end tell`, cal, quote(externalID))
		},
		parse: parseCalendarLine,
	}
}

func parseCalendarLine(line string) (adapter.RemoteRecord, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) < 8 {
		return adapter.RemoteRecord{}, fmt.Errorf("calendar line has %d fields", len(fields))
	}
	mod, err := parseBridgeTime(fields[1])
	if err != nil {
		return adapter.RemoteRecord{}, fmt.Errorf("bad modification date: %w", err)
	}
	start, err := parseBridgeTime(fields[3])
	if err != nil {
		return adapter.RemoteRecord{}, fmt.Errorf("bad start date: %w", err)
	}
	end, err := parseBridgeTime(fields[4])
	if err != nil {
		return adapter.RemoteRecord{}, fmt.Errorf("bad end date: %w", err)
	}
	return adapter.RemoteRecord{
		ExternalID: fields[0],
		UpdatedAt:  mod,
		Payload: model.Payload{
			Title:       fields[2],
			Start:       &start,
			End:         &end,
			Location:    fields[5],
			Notes:       fields[6],
			EventStatus: mapEventStatus(fields[7]),
			Priority:    5,
		},
	}, nil
}

func mapEventStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "confirmed":
		return model.EventConfirmed
	case "tentative":
		return model.EventTentative
	case "cancelled", "canceled":
		return model.EventCancelled
	default:
		return model.EventConfirmed
	}
}

func remindersScripts(listName string) scriptSet {
	list := quote(listName)
	return scriptSet{
		fetch: fmt.Sprintf(`
set sep to (ASCII character 31)
set out to ""
tell application "Reminders"
	tell list %s
		repeat with rem in reminders
			set dueText to ""
			if due date of rem is not missing value then set dueText to ((due date of rem) as «class isot» as string)
			set line_ to (id of rem) & sep & ((modification date of rem) as «class isot» as string) & sep & (name of rem) & sep & (body of rem) & sep & dueText & sep & (completed of rem as string) & sep & (priority of rem as string)
			set out to out & line_ & linefeed
		end repeat
	end tell
end tell
return out`, list),
		create: func(p model.Payload) (string, error) {
			due := "missing value"
			if p.DueAt != nil {
				due = isoDate(*p.DueAt)
			}
			return fmt.Sprintf(`
tell application "Reminders"
	tell list %s
		set rem to make new reminder with properties {name:%s, body:%s, due date:%s}
		return id of rem
	end tell
end tell
%s`, list, quote(p.Title), quote(p.Notes), due, dateHelpers), nil
		},
		update: func(externalID string, p model.Payload) (string, error) {
			completed := "false"
			if p.TaskStatus == model.TaskDone {
				completed = "true"
			}
			due := "missing value"
			if p.DueAt != nil {
				due = isoDate(*p.DueAt)
			}
			return fmt.Sprintf(`
tell application "Reminders"
	set rem to reminder id %s
	set name of rem to %s
	set body of rem to %s
	set due date of rem to %s
	set completed of rem to %s
end tell
%s`, quote(externalID), quote(p.Title), quote(p.Notes), due, completed, dateHelpers), nil
		},
		delete: func(externalID string) string {
			return fmt.Sprintf(`
tell application "Reminders"
	delete (reminder id %s)
end tell`, quote(externalID))
		},
		parse: parseReminderLine,
	}
}

func parseReminderLine(line string) (adapter.RemoteRecord, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) < 7 {
		return adapter.RemoteRecord{}, fmt.Errorf("reminder line has %d fields", len(fields))
	}
	mod, err := parseBridgeTime(fields[1])
	if err != nil {
		return adapter.RemoteRecord{}, fmt.Errorf("bad modification date: %w", err)
	}
	p := model.Payload{
		Title:      fields[2],
		Notes:      fields[3],
		TaskStatus: model.TaskOpen,
	}
	if fields[4] != "" {
		if due, err := parseBridgeTime(fields[4]); err == nil {
			p.DueAt = &due
		}
	}
	if strings.EqualFold(fields[5], "true") {
		p.TaskStatus = model.TaskDone
	}
	if n, err := strconv.Atoi(strings.TrimSpace(fields[6])); err == nil {
		p.Priority = n
	}
	return adapter.RemoteRecord{ExternalID: fields[0], UpdatedAt: mod, Payload: p}, nil
}

func mailScripts(mailbox string) scriptSet {
	box := quote(mailbox)
	return scriptSet{
		fetch: fmt.Sprintf(`
set sep to (ASCII character 31)
set out to ""
tell application "Mail"
	repeat with msg in messages of mailbox %s
		set line_ to (message id of msg) & sep & ((date received of msg) as «class isot» as string) & sep & (subject of msg) & sep & (read status of msg as string) & sep & (flagged status of msg as string)
		set out to out & line_ & linefeed
	end repeat
end tell
return out`, box),
		create: func(p model.Payload) (string, error) {
			// Messages are created by the mail system, never by sync.
			return "", fmt.Errorf("mail records cannot be created through the bridge")
		},
		update: func(externalID string, p model.Payload) (string, error) {
			read := strconv.FormatBool(p.Read)
			flagged := strconv.FormatBool(p.Flagged)
			return fmt.Sprintf(`
tell application "Mail"
	set msg to first message of mailbox %s whose message id = %s
	set read status of msg to %s
	set flagged status of msg to %s
end tell`, box, quote(externalID), read, flagged), nil
		},
		delete: func(externalID string) string {
			return fmt.Sprintf(`
tell application "Mail"
	delete (first message of mailbox %s whose message id = %s)
end tell`, box, quote(externalID))
		},
		parse: func(line string) (adapter.RemoteRecord, error) {
			fields := strings.Split(line, fieldSep)
			if len(fields) < 5 {
				return adapter.RemoteRecord{}, fmt.Errorf("mail line has %d fields", len(fields))
			}
			mod, err := parseBridgeTime(fields[1])
			if err != nil {
				return adapter.RemoteRecord{}, fmt.Errorf("bad received date: %w", err)
			}
			return adapter.RemoteRecord{
				ExternalID: fields[0],
				UpdatedAt:  mod,
				Payload: model.Payload{
					Title:   fields[2],
					Folder:  mailbox,
					Read:    strings.EqualFold(fields[3], "true"),
					Flagged: strings.EqualFold(fields[4], "true"),
				},
			}, nil
		},
	}
}

// parseBridgeTime accepts the «class isot» forms the bridge emits.
func parseBridgeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized bridge time %q", s)
}
