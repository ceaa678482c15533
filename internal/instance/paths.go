package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.petchat, or $PETCHAT_HOME when set.
func BaseDir() string {
	if v := os.Getenv("PETCHAT_HOME"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".petchat")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// SocketPath returns the admin socket path for an instance.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "admin.sock")
}

// LockPath returns the lock file path for an instance.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath resolves the sqlite database path. Relative paths are placed in the
// instance directory.
func DBPath(name, configured string) string {
	if configured == "" {
		configured = "petchat.db"
	}
	if filepath.IsAbs(configured) {
		return configured
	}
	return filepath.Join(Dir(name), configured)
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "petchatd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the optional .env file next to the config.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
