package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const templateHeader = `# boxrelay configuration
#
# Durations are strings such as "100ms" or "10s".
# supervisor.stop_timeout = "0s" never escalates to SIGKILL.
# worker.job_timeout = "0s" disables the job watchdog.
# supervisor.ipc_dir = "" places group sockets in a private temp dir.
# admin.listen_addr = "" disables the admin HTTP surface.

`

// Template renders Default as TOML.
func Template() (string, error) {
	body, err := toml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("config template render failed: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
