package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "com.standin.run"
	systemdUnit  = "standin.service"
)

// service describes the per-platform user service that runs the daemon.
type service struct {
	path  string
	body  string
	hints []string
	// setup runs before the file is written.
	setup func() error
}

func platformService(goos, home, execPath, cfgPath string) (*service, error) {
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		logDir := filepath.Join(home, ".standin", "logs")
		return &service{
			path: path,
			body: renderService(launchdTemplate, map[string]string{
				"{{LABEL}}":   launchdLabel,
				"{{EXEC}}":    execPath,
				"{{CONFIG}}":  cfgPath,
				"{{LOG}}":     filepath.Join(logDir, "standin.log"),
				"{{ERR_LOG}}": filepath.Join(logDir, "standin-error.log"),
			}),
			hints: []string{"launchctl load " + path, "launchctl unload " + path},
			setup: func() error { return os.MkdirAll(logDir, 0o755) },
		}, nil
	case "linux":
		return &service{
			path: filepath.Join(home, ".config", "systemd", "user", systemdUnit),
			body: renderService(systemdTemplate, map[string]string{
				"{{EXEC}}":   execPath,
				"{{CONFIG}}": cfgPath,
			}),
			hints: []string{
				"systemctl --user daemon-reload",
				"systemctl --user enable --now standin",
				"journalctl --user -u standin -f",
			},
		}, nil
	}
	return nil, fmt.Errorf("no service manager support for %s (darwin and linux only)", goos)
}

func installDaemonCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install standin as a background service (launchd/systemd)",
		Long:  "Writes a user service that starts 'standin run' at login and restarts it when it exits with an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, err := platformService(runtime.GOOS, home, execPath, resolveConfigPath())
			if err != nil {
				return err
			}
			if printOnly {
				fmt.Println(svc.body)
				return nil
			}

			if svc.setup != nil {
				if err := svc.setup(); err != nil {
					return err
				}
			}
			if err := writeServiceFile(svc.path, svc.body); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", svc.path)
			for _, h := range svc.hints {
				fmt.Printf("  %s\n", h)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of installing it")
	return cmd
}

func uninstallDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the standin background service",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			svc, err := platformService(runtime.GOOS, home, "", "")
			if err != nil {
				return err
			}
			if err := os.Remove(svc.path); err != nil {
				return fmt.Errorf("remove %s: %w", svc.path, err)
			}
			fmt.Printf("Removed %s (stop the running service yourself)\n", svc.path)
			return nil
		},
	}
}

func renderService(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func writeServiceFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{ERR_LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=standin message triage and auto-reply
After=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target`
