package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const (
	launchdLabel = "net.dnswatch.watch"
	systemdUnit  = "dnswatch.service"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Install or remove a user service running dnswatch watch",
	}

	var interval time.Duration
	install := &cobra.Command{
		Use:   "install",
		Short: "Install a launchd agent or systemd user unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := absConfigPath()
			if err != nil {
				return err
			}
			switch runtime.GOOS {
			case "darwin":
				return installLaunchd(execPath, cfgPath, interval)
			case "linux":
				return installSystemd(execPath, cfgPath, interval)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", runtime.GOOS)
			}
		},
	}
	install.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between runs")

	cmd.AddCommand(install, &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the installed service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := serviceFilePath(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove %s: %w", path, err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

// absConfigPath pins the config the service reads, since a service does not
// start in the directory the operator installed it from.
func absConfigPath() (string, error) {
	if configPath == "" {
		return "", fmt.Errorf("--config is required so the service reads a fixed file")
	}
	return filepath.Abs(configPath)
}

func serviceFilePath(goos string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", systemdUnit), nil
	}
	return "", fmt.Errorf("unsupported OS: %s", goos)
}

func installLaunchd(execPath, cfgPath string, interval time.Duration) error {
	plistPath, err := serviceFilePath("darwin")
	if err != nil {
		return err
	}
	home, _ := os.UserHomeDir()
	logPath := filepath.Join(home, ".dnswatch", "logs", "dnswatch.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(renderLaunchd(execPath, cfgPath, logPath, interval)), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

func installSystemd(execPath, cfgPath string, interval time.Duration) error {
	unitPath, err := serviceFilePath("linux")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(renderSystemd(execPath, cfgPath, interval)), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unitPath)
	fmt.Printf("To start:  systemctl --user start dnswatch\n")
	fmt.Printf("To enable: systemctl --user enable dnswatch\n")
	return nil
}

func renderLaunchd(execPath, cfgPath, logPath string, interval time.Duration) string {
	return strings.NewReplacer(
		"{{LABEL}}", launchdLabel,
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{INTERVAL}}", interval.String(),
		"{{LOG}}", logPath,
	).Replace(launchdTemplate)
}

func renderSystemd(execPath, cfgPath string, interval time.Duration) string {
	return strings.NewReplacer(
		"{{EXEC}}", execPath,
		"{{CONFIG}}", cfgPath,
		"{{INTERVAL}}", interval.String(),
		"{{WORKDIR}}", filepath.Dir(cfgPath),
	).Replace(systemdTemplate)
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
        <string>watch</string>
        <string>--interval</string>
        <string>{{INTERVAL}}</string>
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
    <string>{{LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=dnswatch hostname watcher
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{WORKDIR}}
ExecStart={{EXEC}} watch --interval {{INTERVAL}} --config {{CONFIG}}
Restart=on-failure
RestartSec=30

[Install]
WantedBy=default.target`
