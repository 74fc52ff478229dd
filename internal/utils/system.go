package utils

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// OpenURL hands target to the desktop's default handler. A local path is
// made absolute first.
func OpenURL(target string) error {
	if !strings.Contains(target, "://") {
		abs, err := filepath.Abs(target)
		if err != nil {
			return fmt.Errorf("open %s: %w", target, err)
		}
		target = abs
	}

	cmd := openCommand(runtime.GOOS, target)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open url: %w", err)
	}
	return cmd.Wait()
}

func openCommand(goos, target string) *exec.Cmd {
	switch goos {
	case "darwin":
		return exec.Command("open", target)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return exec.Command("xdg-open", target)
	}
}
