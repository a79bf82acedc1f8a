package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PreferencesVersion is the schema version written by this server.
const PreferencesVersion = 2

var ErrUnsupportedPreferences = errors.New("unsupported preferences version")

type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

func (t Theme) Valid() bool { return t == ThemeLight || t == ThemeDark }

// Preferences are a user's persisted app settings.
type Preferences struct {
	Version              int    `json:"version"`
	Theme                Theme  `json:"theme"`
	UseSystemTheme       bool   `json:"useSystemTheme"`
	IsOnboarded          bool   `json:"isOnboarded"`
	HasSeenWelcome       bool   `json:"hasSeenWelcome"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	PushToken            string `json:"pushToken,omitempty"`
	LastAppVersion       string `json:"lastAppVersion,omitempty"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		Version:              PreferencesVersion,
		Theme:                ThemeLight,
		UseSystemTheme:       true,
		NotificationsEnabled: true,
	}
}

// LegacyTheme is the standalone theme record older clients kept next to the
// preferences blob.
type LegacyTheme struct {
	Theme          Theme `json:"theme"`
	UseSystemTheme *bool `json:"useSystemTheme"`
}

type preferencesV1 struct {
	IsOnboarded          *bool  `json:"isOnboarded"`
	HasSeenWelcome       *bool  `json:"hasSeenWelcome"`
	Theme                Theme  `json:"theme"`
	NotificationsEnabled *bool  `json:"notificationsEnabled"`
	PushToken            string `json:"pushToken"`
	LastAppVersion       string `json:"lastAppVersion"`
}

// DecodePreferences reads a stored blob of any known version. Older blobs are
// upgraded; migrated is true when the result differs from what was stored and
// should be written back. A nil blob yields defaults merged with legacy.
func DecodePreferences(blob []byte, legacy *LegacyTheme) (p Preferences, migrated bool, err error) {
	var head struct {
		Version int `json:"version"`
	}
	if len(blob) > 0 {
		if err := json.Unmarshal(blob, &head); err != nil {
			return Preferences{}, false, fmt.Errorf("decode preferences: %w", err)
		}
	}
	switch {
	case head.Version == PreferencesVersion:
		p = DefaultPreferences()
		if err := json.Unmarshal(blob, &p); err != nil {
			return Preferences{}, false, fmt.Errorf("decode preferences: %w", err)
		}
		if !p.Theme.Valid() {
			p.Theme = ThemeLight
		}
		return p, false, nil
	case head.Version > PreferencesVersion || head.Version < 0:
		return Preferences{}, false, fmt.Errorf("%w: %d", ErrUnsupportedPreferences, head.Version)
	}

	// version 0/1: unversioned blob plus the separate theme record
	p = DefaultPreferences()
	if len(blob) > 0 {
		var v1 preferencesV1
		if err := json.Unmarshal(blob, &v1); err != nil {
			return Preferences{}, false, fmt.Errorf("decode v1 preferences: %w", err)
		}
		if v1.IsOnboarded != nil {
			p.IsOnboarded = *v1.IsOnboarded
		}
		if v1.HasSeenWelcome != nil {
			p.HasSeenWelcome = *v1.HasSeenWelcome
		}
		if v1.NotificationsEnabled != nil {
			p.NotificationsEnabled = *v1.NotificationsEnabled
		}
		if v1.Theme.Valid() {
			p.Theme = v1.Theme
		}
		p.PushToken = v1.PushToken
		p.LastAppVersion = v1.LastAppVersion
	}
	// the theme record was the one the theme toggle wrote, so it wins
	if legacy != nil {
		if legacy.Theme.Valid() {
			p.Theme = legacy.Theme
		}
		if legacy.UseSystemTheme != nil {
			p.UseSystemTheme = *legacy.UseSystemTheme
		}
	}
	return p, len(blob) > 0 || legacy != nil, nil
}

// PreferencesPatch holds optional updates; nil fields are left unchanged.
type PreferencesPatch struct {
	Theme                *Theme  `json:"theme"`
	UseSystemTheme       *bool   `json:"useSystemTheme"`
	IsOnboarded          *bool   `json:"isOnboarded"`
	HasSeenWelcome       *bool   `json:"hasSeenWelcome"`
	NotificationsEnabled *bool   `json:"notificationsEnabled"`
	PushToken            *string `json:"pushToken"`
	LastAppVersion       *string `json:"lastAppVersion"`
}

var ErrInvalidTheme = errors.New("theme must be light or dark")

// Apply returns p with the patch applied.
func (pt PreferencesPatch) Apply(p Preferences) (Preferences, error) {
	if pt.Theme != nil {
		if !pt.Theme.Valid() {
			return p, ErrInvalidTheme
		}
		p.Theme = *pt.Theme
	}
	if pt.UseSystemTheme != nil {
		p.UseSystemTheme = *pt.UseSystemTheme
	}
	if pt.IsOnboarded != nil {
		p.IsOnboarded = *pt.IsOnboarded
	}
	if pt.HasSeenWelcome != nil {
		p.HasSeenWelcome = *pt.HasSeenWelcome
	}
	if pt.NotificationsEnabled != nil {
		p.NotificationsEnabled = *pt.NotificationsEnabled
	}
	if pt.PushToken != nil {
		p.PushToken = *pt.PushToken
	}
	if pt.LastAppVersion != nil {
		p.LastAppVersion = *pt.LastAppVersion
	}
	p.Version = PreferencesVersion
	return p, nil
}
