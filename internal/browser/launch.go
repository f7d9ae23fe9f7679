package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// LaunchOptions configure a locally launched Chromium instance.
type LaunchOptions struct {
	// Path is the browser binary. Empty means attach-only mode; Launch
	// returns an error.
	Path     string
	Headless bool
	// DebugPort is the DevTools port. Zero picks 9222.
	DebugPort int
	// UserDataDir isolates the profile. Empty uses a temp directory.
	UserDataDir string
	Viewport    Viewport
}

// Process is a browser launched by this process.
type Process struct {
	cmd         *exec.Cmd
	DevToolsURL string
	dataDir     string
	ownsDataDir bool
}

// Launch starts a Chromium instance with remote debugging enabled and
// waits briefly for its DevTools endpoint to come up. The caller must
// Stop it.
func Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("no browser binary configured")
	}
	port := opts.DebugPort
	if port == 0 {
		port = 9222
	}

	dataDir := opts.UserDataDir
	ownsDataDir := false
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "webpilot-profile-")
		if err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
		dataDir = dir
		ownsDataDir = true
	}

	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
		fmt.Sprintf("--window-size=%d,%d", opts.Viewport.Width, opts.Viewport.Height),
		"about:blank",
	}
	if opts.Headless {
		args = append([]string{"--headless=new", "--disable-gpu"}, args...)
	}

	cmd := exec.CommandContext(ctx, opts.Path, args...)
	if err := cmd.Start(); err != nil {
		if ownsDataDir {
			_ = os.RemoveAll(dataDir)
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}

	p := &Process{
		cmd:         cmd,
		DevToolsURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		dataDir:     dataDir,
		ownsDataDir: ownsDataDir,
	}

	// DevTools takes a moment to start listening.
	select {
	case <-ctx.Done():
		_ = p.Stop()
		return nil, ctx.Err()
	case <-time.After(time.Second):
	}
	return p, nil
}

// Stop terminates the browser and removes the temporary profile.
func (p *Process) Stop() error {
	var err error
	if p.cmd.Process != nil {
		err = p.cmd.Process.Kill()
		_ = p.cmd.Wait()
	}
	if p.ownsDataDir {
		_ = os.RemoveAll(p.dataDir)
	}
	return err
}
