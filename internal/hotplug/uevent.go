// Package hotplug reports connector and card changes from the kernel.
package hotplug

import (
	"bytes"
	"strconv"
	"strings"
)

// Event is one kernel uevent.
type Event struct {
	Action    string
	DevPath   string
	Subsystem string
	DevName   string
	Minor     int
	Hotplug   bool
	Env       map[string]string
}

// IsDRMHotplug reports whether the event is a connector change on a DRM
// card, the signal to rescan its outputs.
func (e Event) IsDRMHotplug() bool {
	return e.Subsystem == "drm" && e.Action == "change" && e.Hotplug
}

// ParseUevent decodes a NUL separated kernel uevent message. The leading
// "action@devpath" header is optional. ok is false for messages that are
// not kernel uevents, such as udev's re-broadcasts.
func ParseUevent(msg []byte) (ev Event, ok bool) {
	fields := bytes.Split(msg, []byte{0})
	if len(fields) == 0 {
		return ev, false
	}
	if bytes.HasPrefix(fields[0], []byte("libudev")) {
		return ev, false
	}

	ev.Env = make(map[string]string)
	ev.Minor = -1
	for i, f := range fields {
		if len(f) == 0 {
			continue
		}
		key, value, found := strings.Cut(string(f), "=")
		if !found {
			if action, path, hasAt := strings.Cut(key, "@"); i == 0 && hasAt {
				ev.Action, ev.DevPath = action, path
			}
			continue
		}
		ev.Env[key] = value
		switch key {
		case "ACTION":
			ev.Action = value
		case "DEVPATH":
			ev.DevPath = value
		case "SUBSYSTEM":
			ev.Subsystem = value
		case "DEVNAME":
			ev.DevName = value
		case "HOTPLUG":
			ev.Hotplug = value == "1"
		case "MINOR":
			if n, err := strconv.Atoi(value); err == nil {
				ev.Minor = n
			}
		}
	}
	return ev, ev.Action != ""
}
