package timeclock

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultFileName is the database file name the time-clock software uses.
const DefaultFileName = "timeclock.db"

// Candidates returns the locations the time-clock software installs its
// database to on goos, most likely first. getenv and home are injected so
// that the list can be computed for any platform.
func Candidates(goos string, getenv func(string) string, home string) []string {
	var dirs []string
	switch goos {
	case "windows":
		for _, env := range []string{"ProgramData", "LOCALAPPDATA", "APPDATA"} {
			if v := getenv(env); v != "" {
				dirs = append(dirs, filepath.Join(v, "TimeClock"))
			}
		}
		if v := getenv("ProgramFiles(x86)"); v != "" {
			dirs = append(dirs, filepath.Join(v, "TimeClock", "data"))
		}
	case "darwin":
		dirs = append(dirs,
			filepath.Join(home, "Library", "Application Support", "TimeClock"),
			"/Library/Application Support/TimeClock",
		)
	default:
		if v := getenv("XDG_DATA_HOME"); v != "" {
			dirs = append(dirs, filepath.Join(v, "timeclock"))
		}
		dirs = append(dirs,
			filepath.Join(home, ".local", "share", "timeclock"),
			"/var/lib/timeclock",
			"/opt/timeclock/data",
		)
	}

	paths := make([]string, 0, len(dirs))
	for _, d := range dirs {
		paths = append(paths, filepath.Join(d, DefaultFileName))
	}
	return paths
}

// DefaultCandidates returns Candidates for the running platform.
func DefaultCandidates() []string {
	home, _ := os.UserHomeDir()
	return Candidates(runtime.GOOS, os.Getenv, home)
}

// Discover returns the first candidate that exists as a regular file.
func Discover(candidates []string) (string, bool) {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err == nil && info.Mode().IsRegular() {
			return p, true
		}
	}
	return "", false
}
