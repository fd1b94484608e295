package types

// Storage service configuration supplied on topic "config/storage".

type StorageConfig struct {
	Devices []StorageDevice `json:"devices" yaml:"devices"`
}

type StorageDevice struct {
	ID   string `json:"id" yaml:"id"`     // capability name, e.g. "eeprom0"
	Type string `json:"type" yaml:"type"` // "m24c64"
	Bus  string `json:"bus" yaml:"bus"`   // "i2c0", ...
	// EAddr is the E2..E0 strap (0..7).
	EAddr uint8 `json:"e_addr" yaml:"e_addr"`
	// Retries and RetryDelayMS override the write-poll policy when non-zero.
	Retries      int `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryDelayMS int `json:"retry_delay_ms,omitempty" yaml:"retry_delay_ms,omitempty"`
	// QueueLen bounds pending controls per device. Default 4.
	QueueLen int `json:"queue_len,omitempty" yaml:"queue_len,omitempty"`
}
