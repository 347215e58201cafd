package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const deliverTimeout = 5 * time.Second

// DesktopDeliverer shows an OS notification: osascript on macOS,
// notify-send on Linux.
type DesktopDeliverer struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

func NewDesktopDeliverer() *DesktopDeliverer {
	return &DesktopDeliverer{
		goos: runtime.GOOS,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

func (d *DesktopDeliverer) Name() string {
	return "desktop"
}

func (d *DesktopDeliverer) Deliver(message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	switch d.goos {
	case "darwin":
		escaped := strings.ReplaceAll(message, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		script := fmt.Sprintf(`display notification "%s" with title "Drift Alert" sound name "default"`, escaped)
		if err := d.run(ctx, "osascript", "-e", script); err != nil {
			return fmt.Errorf("osascript: %w", err)
		}
		return nil
	case "linux":
		if err := d.run(ctx, "notify-send", "-u", "critical", "Drift Alert", message); err != nil {
			return fmt.Errorf("notify-send: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("desktop notifications unsupported on %s", d.goos)
	}
}
