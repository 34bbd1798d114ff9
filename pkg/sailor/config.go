package sailor

import (
	"fmt"
	"os"

	"github.com/cuemby/captain/pkg/types"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of a sailor's local config file, set up
// once (normally interactively, mirroring the crew_sailor.py prompts)
// and read on every start. Policy fields like services/max_time belong
// to the Captain's prereg record, not here.
type fileConfig struct {
	Name        string      `yaml:"name"`
	IP          string      `yaml:"ip"`
	CaptainIP   string      `yaml:"captain_ip"`
	CaptainPort int         `yaml:"captain_port"`
	Port        int         `yaml:"port"`
	DataDir     string      `yaml:"data_dir"`
	CPUs        int         `yaml:"cpus"`
	GPUs        []types.GPU `yaml:"gpus"`
}

// LoadConfigFile reads a sailor's local YAML config, returning the
// runtime Config plus the resource fields reported at registration
// (cpus, gpus).
func LoadConfigFile(path string) (Config, int, []types.GPU, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, 0, nil, fmt.Errorf("sailor: read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, 0, nil, fmt.Errorf("sailor: parse config %s: %w", path, err)
	}
	if fc.Name == "" {
		return Config{}, 0, nil, fmt.Errorf("sailor: config %s missing required field \"name\"", path)
	}
	if fc.DataDir == "" {
		fc.DataDir = "/var/lib/sailor"
	}

	cfg := Config{
		Name:        fc.Name,
		IP:          fc.IP,
		CaptainIP:   fc.CaptainIP,
		CaptainPort: fc.CaptainPort,
		Port:        fc.Port,
		DataDir:     fc.DataDir,
	}
	return cfg, fc.CPUs, fc.GPUs, nil
}
