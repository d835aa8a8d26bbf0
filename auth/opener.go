package auth

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// URLOpener hands the authorization URL to the user agent. The coordinator
// injects the host application's opener; BrowserOpener is the CLI default.
type URLOpener interface {
	OpenURL(ctx context.Context, URL string) error
}

// OpenURLFunc adapts a function to URLOpener.
type OpenURLFunc func(ctx context.Context, URL string) error

func (f OpenURLFunc) OpenURL(ctx context.Context, URL string) error {
	return f(ctx, URL)
}

// BrowserOpener launches the platform browser.
type BrowserOpener struct{}

func (o *BrowserOpener) OpenURL(ctx context.Context, URL string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", URL)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", URL)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", URL)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
