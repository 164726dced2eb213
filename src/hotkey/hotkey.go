// Package hotkey watches a global key combination and fires a callback.
package hotkey

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

// DefaultCombo starts a capture when no HOTKEY is configured.
const DefaultCombo = "ctrl+shift+a"

// ErrEmptyCombo is returned for a blank combination.
var ErrEmptyCombo = errors.New("hotkey combination is empty")

// Key is one member of a combination with every rawcode that satisfies it.
type Key struct {
	Name     string
	Rawcodes []uint16
}

// Combo is a parsed key combination such as "Ctrl+Alt+Q".
type Combo struct {
	Keys []Key
}

func (c Combo) String() string {
	names := make([]string, len(c.Keys))
	for i, k := range c.Keys {
		names[i] = k.Name
	}
	return strings.Join(names, "+")
}

// ParseCombo normalizes s and maps every key to its rawcodes.
func ParseCombo(s string) (Combo, error) {
	if strings.TrimSpace(s) == "" {
		return Combo{}, ErrEmptyCombo
	}
	var c Combo
	for _, part := range strings.Split(strings.ToLower(s), "+") {
		name := normalize(strings.TrimSpace(part))
		if name == "" {
			return Combo{}, fmt.Errorf("hotkey %q: empty key", s)
		}
		codes := rawcodes(name)
		if len(codes) == 0 {
			return Combo{}, fmt.Errorf("hotkey %q: unknown key %q", s, name)
		}
		c.Keys = append(c.Keys, Key{Name: name, Rawcodes: codes})
	}
	return c, nil
}

func normalize(name string) string {
	switch name {
	case "control":
		return "ctrl"
	case "option":
		return "alt"
	case "win", "super", "meta":
		return "cmd"
	case "escape":
		return "esc"
	case "return":
		return "enter"
	}
	return name
}

// rawcodes maps a key name to virtual key codes, both sides for modifiers.
func rawcodes(name string) []uint16 {
	switch name {
	case "ctrl":
		return []uint16{162, 163}
	case "alt":
		return []uint16{164, 165}
	case "shift":
		return []uint16{160, 161}
	case "cmd":
		return []uint16{91, 92}
	case "space":
		return []uint16{32}
	case "enter":
		return []uint16{13}
	case "tab":
		return []uint16{9}
	case "esc":
		return []uint16{27}
	case "printscreen", "prtsc":
		return []uint16{44}
	}
	if len(name) == 1 {
		ch := name[0]
		switch {
		case ch >= 'a' && ch <= 'z':
			return []uint16{uint16(ch-'a') + 65}
		case ch >= '0' && ch <= '9':
			return []uint16{uint16(ch-'0') + 48}
		}
	}
	var n int
	if _, err := fmt.Sscanf(name, "f%d", &n); err == nil && n >= 1 && n <= 24 && name == fmt.Sprintf("f%d", n) {
		return []uint16{uint16(111 + n)}
	}
	return nil
}

// Matcher tracks pressed keys and reports when the whole combination is down.
type Matcher struct {
	mu      sync.Mutex
	combo   Combo
	pressed []bool
}

// NewMatcher creates a matcher for c.
func NewMatcher(c Combo) *Matcher {
	return &Matcher{combo: c, pressed: make([]bool, len(c.Keys))}
}

// KeyDown records a press and returns true once every key is held. The
// state resets after a match so holding the keys fires once.
func (m *Matcher) KeyDown(rawcode uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(rawcode, true)
	for _, p := range m.pressed {
		if !p {
			return false
		}
	}
	for i := range m.pressed {
		m.pressed[i] = false
	}
	return true
}

// KeyUp records a release.
func (m *Matcher) KeyUp(rawcode uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(rawcode, false)
}

func (m *Matcher) set(rawcode uint16, down bool) {
	for i, k := range m.combo.Keys {
		for _, rc := range k.Rawcodes {
			if rc == rawcode {
				m.pressed[i] = down
			}
		}
	}
}

// Listen starts the global hook and calls callback on every match.
func Listen(combo string, callback func()) error {
	c, err := ParseCombo(combo)
	if err != nil {
		return err
	}
	m := NewMatcher(c)
	log.Printf("Hotkey: listening for %s", c)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in hotkey goroutine: %v", r)
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			log.Printf("Hotkey: gohook.Start() returned nil channel")
			return
		}
		defer gohook.End()

		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown:
				if m.KeyDown(ev.Rawcode) {
					log.Printf("Hotkey: %s activated", c)
					if callback != nil {
						callback()
					}
				}
			case gohook.KeyUp:
				m.KeyUp(ev.Rawcode)
			}
		}
		log.Printf("Hotkey: event channel closed")
	}()
	return nil
}
