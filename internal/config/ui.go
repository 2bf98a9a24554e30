package config

import (
	"fmt"
	"strconv"
	"strings"
)

// UIConfig holds branding settings handed to the frontend build as
// PUBLIC_* environment variables.
type UIConfig struct {
	App                string   `toml:"app"`
	Tagline            string   `toml:"tagline"`
	ShowBeta           bool     `toml:"show_beta"`
	PackageKind        string   `toml:"package_kind"`
	DefaultTheme       string   `toml:"default_theme"`
	PackageFileFormats []string `toml:"package_file_formats"`
	GameBetaName       string   `toml:"game_beta_name"`
}

func DefaultUI() UIConfig {
	return UIConfig{
		App:                "ModHost",
		Tagline:            "Your home for game mods",
		ShowBeta:           true,
		PackageKind:        "mods",
		DefaultTheme:       "modhost",
		PackageFileFormats: []string{".pak", ".jar", ".zip", ".tgz", ".tar.gz"},
		GameBetaName:       "beta",
	}
}

// Env returns the PUBLIC_* variables for the frontend.
func (u UIConfig) Env() map[string]string {
	return map[string]string{
		"PUBLIC_APP":              u.App,
		"PUBLIC_TAGLINE":          u.Tagline,
		"PUBLIC_SHOW_BETA":        strconv.FormatBool(u.ShowBeta),
		"PUBLIC_PKG_TYPE":         u.PackageKind,
		"PUBLIC_DEFAULT_THEME":    u.DefaultTheme,
		"PUBLIC_PKG_FILE_FORMATS": strings.Join(u.PackageFileFormats, ","),
		"PUBLIC_GAME_BETA_NAME":   u.GameBetaName,
	}
}

func (u *UIConfig) normalize() {
	u.PackageKind = strings.ToLower(strings.TrimSpace(u.PackageKind))
	u.GameBetaName = strings.ToLower(strings.TrimSpace(u.GameBetaName))
}

func (u UIConfig) validate() []error {
	var errs []error
	switch u.PackageKind {
	case "mods", "packages":
	default:
		errs = append(errs, fmt.Errorf("ui.package_kind %q: want mods or packages", u.PackageKind))
	}
	switch u.GameBetaName {
	case "beta", "snapshot":
	default:
		errs = append(errs, fmt.Errorf("ui.game_beta_name %q: want beta or snapshot", u.GameBetaName))
	}
	return errs
}
