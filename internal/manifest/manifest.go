package manifest

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v4/host"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

func GetSystemInfo(ctx context.Context) SystemInfo {
	info := SystemInfo{Hostname: "unknown", OS: "unknown", Kernel: "unknown"}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		if hi.Platform != "" {
			info.OS = hi.Platform + " " + hi.PlatformVersion
		}
		if hi.KernelVersion != "" {
			info.Kernel = hi.KernelVersion
		}
	}

	return info
}

func Write(fs afero.Fs, filename string, m *Backup) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, filename, data, 0o644)
}

func Read(fs afero.Fs, filename string) (*Backup, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, err
	}
	var m Backup
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
