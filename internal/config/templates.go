package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "node", "server":
		return nodeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
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

const nodeTemplate = `name = "wirechan"
addr = ":7400"
admin_addr = "127.0.0.1:7401"
cors_origins = ["http://localhost:3000"]
# Bearer token for DELETE /channels/:id. Leave empty to disable.
admin_token = ""

[channel]
buffer_size = 65536
compression = "lzf"
connect_timeout = "5s"
write_timeout = "15s"
`
