package storage

import (
	"m24c64-go/bus"
	"m24c64-go/types"
)

const (
	domainStorage = "storage"
	kindEEPROM    = string(types.KindEEPROM)
)

// TopicConfig is where the service expects its configuration.
func TopicConfig() bus.Topic { return bus.T("config", "storage") }

// TopicState carries the retained service state.
func TopicState() bus.Topic { return bus.T("hal", "storage", "state") }

// hal/cap/storage/eeprom/<name>/...
func capBase(name string) bus.Topic { return bus.T("hal", "cap", domainStorage, kindEEPROM, name) }

func CapInfo(name string) bus.Topic   { return capBase(name).Append("info") }
func CapStatus(name string) bus.Topic { return capBase(name).Append("status") }

// CapCtrl is hal/cap/storage/eeprom/<name>/control/<verb>.
func CapCtrl(name, verb string) bus.Topic { return capBase(name).Append("control", verb) }

// hal/cap/storage/eeprom/+/control/+
func ctrlWildcard() bus.Topic {
	return bus.T("hal", "cap", domainStorage, kindEEPROM, "+", "control", "+")
}
