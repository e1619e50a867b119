package models

// RemoteShutdownConfig holds SSH power-off configuration for another host.
type RemoteShutdownConfig struct {
	Host          string
	Port          int
	Username      string
	PrivateKey    []byte // loaded from KeyPath when empty
	KeyPath       string // path to key file
	ShutdownDelay int    // minutes on Linux, seconds on Windows
	OS            string // "linux" (default) or "windows"
}

// RemoteResult holds the result of a remote power-off.
type RemoteResult struct {
	CommandRun bool
	Output     string
	Error      error
}
