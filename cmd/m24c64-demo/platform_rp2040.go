//go:build rp2040

package main

import (
	"machine"
	"time"

	uartx "github.com/jangala-dev/tinygo-uartx/uartx"

	"m24c64-go/internal/logger"
	"m24c64-go/services/storage"
)

func setup() platform {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("[m24c64] boot")

	i2c := machine.I2C0
	if err := i2c.Configure(machine.I2CConfig{
		SCL:       machine.I2C0_SCL_PIN,
		SDA:       machine.I2C0_SDA_PIN,
		Frequency: 100 * machine.KHz,
	}); err != nil {
		println("[m24c64] i2c0 configure failed:", err.Error())
	}

	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{
		BaudRate: 115200,
		TX:       machine.UART0_TX_PIN,
		RX:       machine.UART0_RX_PIN,
	})

	return platform{
		board: "pico",
		buses: storage.BusMap{"i2c0": i2c},
		log:   &printLogger{out: u, level: logger.InfoLevel},
	}
}
