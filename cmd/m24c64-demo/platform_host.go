//go:build !rp2040

package main

import (
	"flag"
	"os"
	"time"

	"m24c64-go/drivers/i2cdev"
	"m24c64-go/drivers/m24c64/m24c64sim"
	"m24c64-go/internal/logger"
	"m24c64-go/services/storage"
	"tinygo.org/x/drivers"
)

var i2cPath = flag.String("i2c", "", "i2c-dev node for i2c0, e.g. /dev/i2c-1; default simulated")

func setup() platform {
	lvl := logger.InfoLevel
	if os.Getenv("DEBUG") != "" {
		lvl = logger.DebugLevel
	}
	log := logger.New(os.Stderr, lvl)

	var i2c0 drivers.I2C
	if *i2cPath != "" {
		b, err := i2cdev.OpenPath(*i2cPath)
		if err != nil {
			log.Error("open i2c", "path", *i2cPath, "err", err)
			os.Exit(1)
		}
		i2c0 = b
	} else {
		// Two parts on i2c0, matching the host board config.
		parts := m24c64sim.Bus{m24c64sim.New(0), m24c64sim.New(1)}
		for _, sim := range parts {
			// Stay off the bus after every page, like a real part mid-cycle.
			sim.WriteCycle = 3 * time.Millisecond
		}
		i2c0 = parts
	}

	return platform{
		board: "host",
		buses: storage.BusMap{"i2c0": i2c0},
		log:   log,
	}
}
