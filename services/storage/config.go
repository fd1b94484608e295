package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"tinygo.org/x/drivers"

	"m24c64-go/errcode"
	"m24c64-go/types"
)

const partM24C64 = "m24c64"

// I2CFactory resolves a bus id ("i2c0") to a configured bus.
type I2CFactory interface {
	ByID(id string) (drivers.I2C, bool)
}

// BusMap is a fixed I2CFactory.
type BusMap map[string]drivers.I2C

func (m BusMap) ByID(id string) (drivers.I2C, bool) {
	b, ok := m[id]
	return b, ok
}

// ParseConfig decodes a YAML (or JSON) storage configuration and validates it.
func ParseConfig(data []byte) (types.StorageConfig, error) {
	var cfg types.StorageConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.StorageConfig{}, fmt.Errorf("storage config: %v: %w", err, errcode.InvalidPayload)
	}
	if err := Validate(&cfg); err != nil {
		return types.StorageConfig{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses a configuration file.
func LoadConfig(path string) (types.StorageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.StorageConfig{}, fmt.Errorf("storage config: %w", err)
	}
	return ParseConfig(data)
}

// Validate checks a configuration and fills in the part type.
func Validate(cfg *types.StorageConfig) error {
	seen := map[string]struct{}{}
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.ID == "" {
			return fmt.Errorf("storage config: device %d: missing id: %w", i, errcode.InvalidParams)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("storage config: duplicate id %q: %w", d.ID, errcode.InvalidParams)
		}
		seen[d.ID] = struct{}{}
		if d.Type == "" {
			d.Type = partM24C64
		}
		if d.Type != partM24C64 {
			return fmt.Errorf("storage config: %s: unsupported type %q: %w", d.ID, d.Type, errcode.Unsupported)
		}
		if d.Bus == "" {
			return fmt.Errorf("storage config: %s: missing bus: %w", d.ID, errcode.InvalidParams)
		}
		if d.EAddr > 7 {
			return fmt.Errorf("storage config: %s: e_addr %d out of range: %w", d.ID, d.EAddr, errcode.InvalidParams)
		}
		if d.Retries < 0 || d.RetryDelayMS < 0 || d.QueueLen < 0 {
			return fmt.Errorf("storage config: %s: negative policy value: %w", d.ID, errcode.InvalidParams)
		}
	}
	return nil
}

func decodeConfig(p any) (types.StorageConfig, error) {
	switch v := p.(type) {
	case types.StorageConfig:
		err := Validate(&v)
		return v, err
	case *types.StorageConfig:
		if v == nil {
			return types.StorageConfig{}, errcode.InvalidPayload
		}
		c := *v
		err := Validate(&c)
		return c, err
	case []byte:
		return ParseConfig(v)
	case string:
		return ParseConfig([]byte(v))
	default:
		return types.StorageConfig{}, errcode.InvalidPayload
	}
}
