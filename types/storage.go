package types

// ------------------------
// EEPROM capability
// ------------------------

type EEPROMInfo struct {
	Part     string `json:"part"`      // "m24c64"
	Bus      string `json:"bus"`       // "i2c0", ...
	Addr     uint16 `json:"addr"`      // 7-bit bus address
	Capacity int    `json:"capacity"`  // bytes
	PageSize int    `json:"page_size"` // bytes
}

// EEPROMRead is the payload of control/read.
type EEPROMRead struct {
	Addr uint32 `json:"addr" yaml:"addr"`
	Len  int    `json:"len" yaml:"len"`
}

// EEPROMWrite is the payload of control/write.
type EEPROMWrite struct {
	Addr uint32 `json:"addr" yaml:"addr"`
	Data []byte `json:"data" yaml:"data"`
}

// EEPROMData is the reply to control/read.
type EEPROMData struct {
	OK   bool   `json:"ok"`
	Addr uint32 `json:"addr"`
	Data []byte `json:"data"`
}
