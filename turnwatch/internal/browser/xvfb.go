// CLAUDE:SUMMARY Provides the X display headful Chrome renders into: reuses a live display or runs a private Xvfb.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// xvfbReady bounds how long a fresh Xvfb may take to open its socket.
const xvfbReady = 3 * time.Second

// displaySocket maps ":99" or ":99.0" to the X server's unix socket.
func displaySocket(display string) (string, error) {
	num, ok := strings.CutPrefix(display, ":")
	if !ok || num == "" {
		return "", fmt.Errorf("unsupported display %q", display)
	}
	num, _, _ = strings.Cut(num, ".")
	return "/tmp/.X11-unix/X" + num, nil
}

// ensureDisplay makes the configured display usable. A desktop session or
// an Xvfb started by someone else is reused as is; otherwise the manager
// runs its own Xvfb and owns it until stopXvfb.
func (m *Manager) ensureDisplay() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}
	if _, err := os.Stat(sock); err == nil {
		m.cfg.Logger.Info("browser: reusing display", "display", display)
		return nil
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd

	deadline := time.Now().Add(xvfbReady)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			m.stopXvfb()
			return fmt.Errorf("xvfb on %s not ready after %s", display, xvfbReady)
		}
		time.Sleep(50 * time.Millisecond)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if p := m.xvfb.Process; p != nil {
		p.Kill()
		m.xvfb.Wait()
	}
	m.xvfb = nil
	m.cfg.Logger.Info("browser: xvfb stopped")
}
