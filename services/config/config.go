// Package config publishes a board's embedded configuration on the bus.
//
// Each top-level section of the board's YAML becomes one retained message on
// config/<section>, carrying that section re-encoded as YAML. Services pick
// their own section up by subscribing.
package config

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"m24c64-go/bus"
	"m24c64-go/internal/logger"
)

const configPrefix = "config"

//go:embed boards/*.yaml
var boardFS embed.FS

// Lookup resolves a board name to its raw YAML. Tests may replace it.
var Lookup = func(board string) ([]byte, bool) {
	b, err := boardFS.ReadFile("boards/" + board + ".yaml")
	return b, err == nil
}

type Service struct {
	board string
	log   logger.Logger
}

func New(board string, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{board: board, log: log.With("svc", "config")}
}

// Publish sends the board's sections as retained messages.
func (s *Service) Publish(conn *bus.Connection) error {
	raw, ok := Lookup(s.board)
	if !ok || len(raw) == 0 {
		return fmt.Errorf("config: no embedded config for board %q", s.board)
	}
	keys, err := PublishYAML(conn, raw)
	if err != nil {
		s.log.Error("publish failed", "board", s.board, "err", err)
		return err
	}
	s.log.Info("published", "board", s.board, "sections", len(keys))
	return nil
}

// PublishYAML publishes every top-level section of raw and returns the
// section names.
func PublishYAML(conn *bus.Connection, raw []byte) ([]string, error) {
	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("config: no sections")
	}

	keys := make([]string, 0, len(sections))
	for k, node := range sections {
		out, err := yaml.Marshal(&node)
		if err != nil {
			return keys, fmt.Errorf("config: %s: %w", k, err)
		}
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), out, true))
		keys = append(keys, k)
	}
	return keys, nil
}
