package app

import (
	"os"
	"path/filepath"
)

// Paths holds all resolved filesystem paths for the .kwatch/ project directory.
// All fields are pre-computed strings, zero-alloc access after construction.
type Paths struct {
	Root   string // .kwatch/
	DB     string // .kwatch/kwatch.db
	Config string // .kwatch/kwatch.yaml

	LogDir    string // .kwatch/log/
	DaemonLog string // .kwatch/log/daemon.log

	RunDir   string // .kwatch/run/
	PIDFile  string // .kwatch/run/daemon.pid
	PortFile string // .kwatch/run/http.port

	ArchiveDir string // .kwatch/archive/
	FeedDir    string // .kwatch/feed/
}

// NewPaths constructs all resolved paths from a project root directory.
func NewPaths(projectRoot string) *Paths {
	root := filepath.Join(projectRoot, ".kwatch")
	return &Paths{
		Root:   root,
		DB:     filepath.Join(root, "kwatch.db"),
		Config: filepath.Join(root, "kwatch.yaml"),

		LogDir:    filepath.Join(root, "log"),
		DaemonLog: filepath.Join(root, "log", "daemon.log"),

		RunDir:   filepath.Join(root, "run"),
		PIDFile:  filepath.Join(root, "run", "daemon.pid"),
		PortFile: filepath.Join(root, "run", "http.port"),

		ArchiveDir: filepath.Join(root, "archive"),
		FeedDir:    filepath.Join(root, "feed"),
	}
}

// EnsureDirs creates all subdirectories under .kwatch/. Idempotent.
func (p *Paths) EnsureDirs() error {
	dirs := []string{
		p.Root,
		p.LogDir,
		p.RunDir,
		p.ArchiveDir,
		p.FeedDir,
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return err
		}
	}
	return nil
}

// CleanEphemeral removes ephemeral runtime files (PID file and port file).
// Called on clean daemon shutdown.
func (p *Paths) CleanEphemeral() {
	os.Remove(p.PIDFile)
	os.Remove(p.PortFile)
}
