// Package driver provides the UI automation capability the engine runs
// cycles against: a W3C WebDriver client that drives the portal through
// its processing workflow.
package driver

import (
	"fmt"
	"strings"
)

// Selectors are the XPath fallback lists used to locate portal controls.
// Each list is tried in order; the first selector that matches wins.
// Filter selectors may contain a single %d verb, expanded with the
// filter span in minutes.
type Selectors struct {
	Disconnect    []string `yaml:"disconnect,omitempty"`
	RecentFilter  []string `yaml:"recent_filter,omitempty"`
	WindowDisplay []string `yaml:"window_display,omitempty"`
	Trigger       []string `yaml:"trigger,omitempty"`
}

// DefaultSelectors returns the selector lists for the stock portal UI.
func DefaultSelectors() Selectors {
	return Selectors{
		Disconnect: []string{
			"//button[contains(text(), 'Disconnect Gmail')]",
			"//a[contains(text(), 'Disconnect Gmail')]",
			"//button[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'disconnect')]",
			"//input[@value='Disconnect Gmail']",
		},
		RecentFilter: []string{
			"//button[contains(text(), 'Last %d min')]",
			"//option[contains(text(), 'Last %d min')]",
			"//li[contains(text(), 'Last %d min')]",
			"//button[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'last %d min')]",
			"//div[contains(text(), 'Last %d min')]",
		},
		WindowDisplay: []string{
			"//div[contains(@class, 'time-range')]",
			"//div[contains(@class, 'date-range')]",
			"//div[contains(@class, 'selected-range')]",
			"//span[contains(@class, 'time')]",
			"//div[contains(@class, 'filter-display')]",
		},
		Trigger: []string{
			"//button[contains(text(), 'Scan & Auto-Process Emails')]",
			"//button[contains(text(), 'Auto-Process Emails')]",
			"//a[contains(text(), 'Scan & Auto-Process Emails')]",
			"//input[@value='Scan & Auto-Process Emails']",
			"//button[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'scan') and contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'process')]",
		},
	}
}

// merged returns s with empty lists filled in from the defaults.
func (s Selectors) merged() Selectors {
	defaults := DefaultSelectors()
	if len(s.Disconnect) == 0 {
		s.Disconnect = defaults.Disconnect
	}
	if len(s.RecentFilter) == 0 {
		s.RecentFilter = defaults.RecentFilter
	}
	if len(s.WindowDisplay) == 0 {
		s.WindowDisplay = defaults.WindowDisplay
	}
	if len(s.Trigger) == 0 {
		s.Trigger = defaults.Trigger
	}
	return s
}

// expandFilter substitutes the span in minutes into one filter selector.
func expandFilter(selector string, minutes int) string {
	if !strings.Contains(selector, "%d") {
		return selector
	}
	return fmt.Sprintf(selector, minutes)
}
