// Package browser opens the authorization URL in the user's default browser.
package browser

import (
	"fmt"
	"os/exec"
	"runtime"

	log "github.com/sirupsen/logrus"
	"github.com/skratchdot/open-golang/open"
)

var linuxBrowsers = []string{"xdg-open", "x-www-browser", "www-browser", "firefox", "chromium", "google-chrome"}

// OpenURL opens url with open-golang, falling back to the platform launcher.
func OpenURL(url string) error {
	err := open.Run(url)
	if err == nil {
		log.Debug("opened authorization URL in browser")
		return nil
	}
	log.Debugf("open-golang failed: %v, trying platform launcher", err)

	cmd, err := platformCommand(url)
	if err != nil {
		return err
	}
	if err = cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser command: %w", err)
	}
	return nil
}

func platformCommand(url string) (*exec.Cmd, error) {
	switch runtime.GOOS {
	case "darwin":
		return lookCommand("open", url)
	case "windows":
		return lookCommand("rundll32", "url.dll,FileProtocolHandler", url)
	case "linux", "freebsd", "openbsd":
		for _, name := range linuxBrowsers {
			if cmd, err := lookCommand(name, url); err == nil {
				return cmd, nil
			}
		}
		return nil, fmt.Errorf("no browser launcher found")
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

func lookCommand(name string, args ...string) (*exec.Cmd, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	return exec.Command(path, args...), nil
}
