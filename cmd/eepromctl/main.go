// Command eepromctl is an interactive shell for M24C64 parts behind the
// storage service. Configured parts are simulated unless -i2c names an
// i2c-dev node for i2c0; either way the shell goes through the same
// request/reply path a real deployment uses.
//
//	eepromctl [-config storage.yaml] [-i2c /dev/i2c-1]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"m24c64-go/bus"
	"m24c64-go/drivers/i2cdev"
	"m24c64-go/drivers/m24c64/m24c64sim"
	"m24c64-go/internal/logger"
	"m24c64-go/services/storage"
	"m24c64-go/types"
)

func main() {
	cfgPath := flag.String("config", "", "storage config (YAML); default one part on i2c0")
	i2cPath := flag.String("i2c", "", "i2c-dev node to use for i2c0 instead of a simulation")
	flag.Parse()

	cfg := types.StorageConfig{Devices: []types.StorageDevice{{ID: "eeprom0", Bus: "i2c0"}}}
	if *cfgPath != "" {
		var err error
		if cfg, err = storage.LoadConfig(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "eeprom> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logger.New(rl.Stderr(), logger.WarnLevel)
	buses := simBuses(cfg)
	if *i2cPath != "" {
		hw, err := i2cdev.OpenPath(*i2cPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer hw.Close()
		buses["i2c0"] = hw
	}
	sh, err := start(ctx, cfg, buses, log, rl.Stdout())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sh.help()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		quit, err := sh.exec(ctx, line)
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "error: %v\n", err)
		}
		if quit {
			return
		}
	}
}

// simBuses builds one simulated multi-drop bus per bus id in cfg.
func simBuses(cfg types.StorageConfig) storage.BusMap {
	parts := map[string]m24c64sim.Bus{}
	for _, d := range cfg.Devices {
		parts[d.Bus] = append(parts[d.Bus], m24c64sim.New(d.EAddr))
	}
	buses := storage.BusMap{}
	for id, b := range parts {
		buses[id] = b
	}
	return buses
}

// start runs a storage service over buses and returns a shell
// bound to it once the configuration has been applied.
func start(ctx context.Context, cfg types.StorageConfig, buses storage.BusMap, log logger.Logger, out io.Writer) (*shell, error) {
	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("config has no devices")
	}
	b := bus.NewBus(8)
	svc := storage.New(b.NewConnection("storage"), buses, log)
	go svc.Run(ctx)

	conn := b.NewConnection("eepromctl")
	st := conn.Subscribe(storage.TopicState())
	defer conn.Unsubscribe(st)
	conn.Publish(conn.NewMessage(storage.TopicConfig(), cfg, true))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-st.Channel():
			s, _ := m.Payload.(types.ServiceState)
			switch s.Level {
			case "ready":
				ids := make([]string, len(cfg.Devices))
				for i, d := range cfg.Devices {
					ids[i] = d.ID
				}
				return &shell{conn: conn, out: out, dev: ids[0], ids: ids}, nil
			case "error":
				return nil, fmt.Errorf("storage service: %s", s.Status)
			}
		case <-deadline:
			return nil, fmt.Errorf("storage service did not become ready")
		}
	}
}
