package loopback

import (
	"fmt"
	"os/exec"
	"runtime"
)

// OpenBrowser launches the platform URL handler without waiting for it to exit.
func OpenBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux", "freebsd", "openbsd", "netbsd":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}

	// reap the launcher so it does not linger as a zombie
	go func() { _ = cmd.Wait() }()

	return nil
}
