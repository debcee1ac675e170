package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	stts22h "github.com/vitkailev/stts22h-library"
	"github.com/vitkailev/stts22h-library/adapter"
	"github.com/vitkailev/stts22h-library/cmd/stts22h/console"
	"github.com/vitkailev/stts22h-library/i2c"
)

var busFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "adapter",
		Aliases: []string{"a"},
		Value:   "mcp2221",
		Usage:   "bus adapter: mcp2221, i2c, nanopi or sim",
	},
	&cli.StringFlag{
		Name:  "bus",
		Value: "/dev/i2c-1",
		Usage: "i2c bus device (i2c adapter) or bus number (nanopi adapter)",
	},
	&cli.IntFlag{
		Name:  "addr",
		Value: int(stts22h.DefaultAddress),
		Usage: "7-bit sensor address",
	},
	&cli.DurationFlag{
		Name:  "interval",
		Value: 5 * time.Millisecond,
		Usage: "update poll interval",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Value: 2 * time.Second,
		Usage: "per-transaction watchdog",
	},
	&cli.Float64Flag{
		Name:  "sim-temp",
		Value: 23.4,
		Usage: "temperature reported by the sim adapter",
	},
	&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
}

func openDevice(c *cli.Context) (*stts22h.STTS22H, error) {
	addr := byte(c.Int("addr"))
	var bus stts22h.AsyncBus
	switch c.String("adapter") {
	case "mcp2221":
		bus = adapter.NewMCP2221()
	case "i2c":
		generic, err := i2c.NewGenericBus(c.String("bus"))
		if err != nil {
			return nil, fmt.Errorf("could not open i2c bus: %w", err)
		}
		bus = generic
	case "nanopi":
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		bus = adapter.NewGobotBus(npi, busNumber(c.String("bus")))
	case "sim":
		sim := stts22h.NewSimBus(addr)
		sim.SetTemperature(float32(c.Float64("sim-temp")))
		bus = sim
	default:
		return nil, fmt.Errorf("unknown adapter %q", c.String("adapter"))
	}
	return stts22h.New(bus, addr)
}

func busNumber(dev string) int {
	var nr int
	_, err := fmt.Sscanf(dev, "%d", &nr)
	if err != nil {
		return 0
	}
	return nr
}

// start retries a triggering operation while the transport is still busy
// flushing a previous transfer.
func start(interval, timeout time.Duration, op func() error) error {
	deadline := time.Now().Add(timeout)
	for {
		err := op()
		if err == nil || !errors.Is(err, stts22h.ErrBusBusy) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(interval)
	}
}

// await polls the update cycle until the in-flight transaction finishes.
// The driver itself has no timeout, the watchdog lives here.
func await(ctx context.Context, dev *stts22h.STTS22H, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for dev.Busy() {
		if time.Now().After(deadline) {
			return fmt.Errorf("transaction did not complete within %s", timeout)
		}
		dev.Update(ctx)
		time.Sleep(interval)
	}
	return dev.LastError()
}

var checkCmd = cli.Command{
	Name:  "check",
	Usage: "check that the sensor answers on the bus",
	Flags: busFlags,
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		dev, err := openDevice(c)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		if err = start(c.Duration("interval"), c.Duration("timeout"), func() error {
			return dev.CheckConnection(ctx)
		}); err != nil {
			return console.Exit(1, "could not start connection check: %s", console.Red(err))
		}
		if err = await(ctx, dev, c.Duration("interval"), c.Duration("timeout")); err != nil {
			return console.Exit(1, "connection check failed: %s", console.Red(err))
		}
		if !dev.Connected() {
			return console.Exit(1, "%s sensor not detected", console.PictoStop)
		}
		console.Printf("%s sensor detected\n", console.PictoPlug)
		return nil
	},
}

// measure runs one full status transaction, retrying while the sensor's
// conversion is still in progress.
func measure(ctx context.Context, c *cli.Context, dev *stts22h.STTS22H) error {
	interval := c.Duration("interval")
	timeout := c.Duration("timeout")
	for attempt := 0; attempt < 5; attempt++ {
		if err := start(interval, timeout, func() error { return dev.Measure(ctx) }); err != nil {
			return err
		}
		if err := await(ctx, dev, interval, timeout); err != nil {
			return err
		}
		if !dev.Flags().Busy() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("conversion still in progress after retries")
}

func printReading(dev *stts22h.STTS22H, fahrenheit bool) {
	if fahrenheit {
		console.Printf("%s  %s°F\n", console.PictoThermometer, console.White(fmt.Sprintf("%.2f", dev.TemperatureF())))
	} else {
		console.Printf("%s  %s°C\n", console.PictoThermometer, console.White(fmt.Sprintf("%.2f", dev.TemperatureC())))
	}
	if dev.Overheated() {
		console.Printf("%s high temperature limit exceeded\n", console.PictoFire)
	}
	if dev.Overcooled() {
		console.Printf("%s low temperature limit exceeded\n", console.PictoSnow)
	}
}

var readCmd = cli.Command{
	Name:    "read",
	Aliases: []string{"temp"},
	Usage:   "trigger a one-shot conversion and print the reading",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "fahrenheit", Aliases: []string{"f"}},
		&cli.IntFlag{Name: "avg", Value: 0, Usage: "averaging selection 0-3"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		dev, err := openDevice(c)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		var ctrl stts22h.Control
		ctrl.SetOneShot(true)
		ctrl.SetBDU(true)
		ctrl.SetAutoIncrement(true)
		ctrl.SetAveraging(stts22h.Averaging(c.Int("avg")))
		if err = dev.Configure(ctx, ctrl); err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		if err = measure(ctx, c, dev); err != nil {
			return console.Exit(1, "measurement error: %s", console.Red(err))
		}
		printReading(dev, c.Bool("fahrenheit"))
		return nil
	},
}

var watchCmd = cli.Command{
	Name:  "watch",
	Usage: "configure freerun mode and print readings periodically",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "fahrenheit", Aliases: []string{"f"}},
		&cli.IntFlag{Name: "avg", Value: 0, Usage: "output data rate selection 0-3"},
		&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 0, Usage: "number of readings, 0 for unlimited"},
		&cli.DurationFlag{Name: "every", Value: time.Second, Usage: "time between readings"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		dev, err := openDevice(c)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		var ctrl stts22h.Control
		ctrl.SetFreerun(true)
		ctrl.SetBDU(true)
		ctrl.SetAutoIncrement(true)
		ctrl.SetAveraging(stts22h.Averaging(c.Int("avg")))
		if err = dev.Configure(ctx, ctrl); err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		count := c.Int("count")
		for i := 0; count == 0 || i < count; i++ {
			if i > 0 {
				time.Sleep(c.Duration("every"))
			}
			if err = start(c.Duration("interval"), c.Duration("timeout"), func() error {
				return dev.Measure(ctx)
			}); err != nil {
				return console.Exit(1, "measurement error: %s", console.Red(err))
			}
			if err = await(ctx, dev, c.Duration("interval"), c.Duration("timeout")); err != nil {
				console.Errorf("reading failed: %s", console.Red(err))
				continue
			}
			printReading(dev, c.Bool("fahrenheit"))
		}
		return nil
	},
}

var configCmd = cli.Command{
	Name:  "config",
	Usage: "write the control register",
	Flags: append([]cli.Flag{
		&cli.BoolFlag{Name: "one-shot", Usage: "trigger a single acquisition"},
		&cli.BoolFlag{Name: "freerun", Usage: "continuous conversion mode"},
		&cli.BoolFlag{Name: "low-odr", Usage: "1Hz operating mode"},
		&cli.BoolFlag{Name: "bdu", Usage: "block data update"},
		&cli.BoolFlag{Name: "inc", Usage: "register address auto-increment"},
		&cli.BoolFlag{Name: "timeout-disable", Usage: "disable the SMBus timeout"},
		&cli.IntFlag{Name: "avg", Value: 0, Usage: "averaging/ODR selection 0-3"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		dev, err := openDevice(c)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		var ctrl stts22h.Control
		ctrl.SetOneShot(c.Bool("one-shot"))
		ctrl.SetFreerun(c.Bool("freerun"))
		ctrl.SetLowODR(c.Bool("low-odr"))
		ctrl.SetBDU(c.Bool("bdu"))
		ctrl.SetAutoIncrement(c.Bool("inc"))
		ctrl.SetTimeoutDisabled(c.Bool("timeout-disable"))
		ctrl.SetAveraging(stts22h.Averaging(c.Int("avg")))
		if err = dev.Configure(ctx, ctrl); err != nil {
			return console.Exit(1, "configuration error: %s", console.Red(err))
		}
		console.Printf("control register set to %s\n", console.White(fmt.Sprintf("%#08b", byte(ctrl))))
		return nil
	},
}

var limitsCmd = cli.Command{
	Name:  "limits",
	Usage: "program or disable the temperature interrupt thresholds",
	Flags: append([]cli.Flag{
		&cli.Float64Flag{Name: "min", Value: 0.0, Usage: "low threshold in °C"},
		&cli.Float64Flag{Name: "max", Value: 50.0, Usage: "high threshold in °C"},
		&cli.BoolFlag{Name: "off", Usage: "turn threshold interrupts off"},
	}, busFlags...),
	Action: func(c *cli.Context) error {
		ctx := console.SetVerbose(context.Background(), c.Bool("verbose"))
		dev, err := openDevice(c)
		if err != nil {
			return console.Exit(1, "initialization error: %s", console.Red(err))
		}
		if c.Bool("off") {
			answer, err := console.YesOrNo("turn threshold interrupts off?")
			if err != nil {
				return console.Exit(1, "prompt error: %s", console.Red(err))
			}
			if answer != console.Yes {
				return nil
			}
			if err = dev.SetLimits(ctx, 0, 0, false); err != nil {
				return console.Exit(1, "could not disable limits: %s", console.Red(err))
			}
			console.Print("threshold interrupts disabled")
			return nil
		}
		minTemp := float32(c.Float64("min"))
		maxTemp := float32(c.Float64("max"))
		if err = dev.SetLimits(ctx, minTemp, maxTemp, true); err != nil {
			return console.Exit(1, "could not set limits: %s", console.Red(err))
		}
		console.Printf("thresholds set to %s..%s °C\n",
			console.White(fmt.Sprintf("%.1f", minTemp)), console.White(fmt.Sprintf("%.1f", maxTemp)))
		return nil
	},
}
