package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/mikesmitty/max31855"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

func main() {
	configFile := flag.String("config", "", "Path to a yaml config file")
	bus := flag.String("bus", "", "Name of the SPI bus (overrides config)")
	interval := flag.Duration("interval", 0, "Time between readings (overrides config)")
	linearize := flag.Bool("linearize", false, "Report the NIST corrected temperature")
	once := flag.Bool("once", false, "Take a single reading and exit")
	flag.Parse()

	cfg := DefaultConfig()
	if *configFile != "" {
		var err error
		if cfg, err = LoadConfig(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "max31855: %v\n", err)
			os.Exit(1)
		}
	}
	if *bus != "" {
		cfg.Sensor.Bus = *bus
	}
	if *interval > 0 {
		cfg.Interval = *interval
	}
	if *linearize {
		cfg.Sensor.Linearize = true
	}

	log := setupLogger(cfg.Log)

	if _, err := host.Init(); err != nil {
		log.Fatal(err)
	}

	dev, closer, err := openDevice(cfg.Sensor)
	if err != nil {
		log.Fatal(err)
	}
	defer closer()
	log.Infof("opened %s", dev)

	var m *metrics
	if cfg.Metrics.Enabled {
		m = newMetrics()
		m.serve(cfg.Metrics.Listen, log)
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		poll(dev, cfg.Sensor, m, log)
		if *once {
			return
		}
		<-ticker.C
	}
}

func poll(dev *max31855.Dev, cfg SensorConfig, m *metrics, log *logrus.Logger) {
	r, err := dev.Read()
	if err != nil {
		if m != nil {
			m.readErrors.Inc()
		}
		log.Error(err)
		return
	}
	if m != nil {
		m.observe(r)
	}
	if err := r.Err(); err != nil {
		log.WithField("internal", r.Internal).Warn(err)
		return
	}

	temp := r.Thermocouple
	if cfg.Linearize {
		temp = r.Linearized()
		if math.IsNaN(temp) {
			log.WithField("raw", r.Thermocouple).Warn(max31855.ErrOutOfRange)
			return
		}
	}
	unit := "°C"
	if cfg.Fahrenheit {
		temp, unit = max31855.Fahrenheit(temp), "°F"
	}
	log.WithField("internal", r.Internal).Infof("Temperature: %.2f%s", temp, unit)
}

// deviceOptions maps the sensor config to driver options. Linearization is
// done by poll on the decoded reading, so Opts.Linearize stays off.
func deviceOptions(cfg SensorConfig) *max31855.Opts {
	opts := max31855.DefaultOptions()
	opts.HalfPeriod = cfg.HalfPeriod
	return opts
}

func openDevice(cfg SensorConfig) (*max31855.Dev, func(), error) {
	opts := deviceOptions(cfg)

	switch cfg.Transport {
	case "bitbang":
		clk, err := pinByName(cfg.CLK)
		if err != nil {
			return nil, nil, err
		}
		cs, err := pinByName(cfg.CS)
		if err != nil {
			return nil, nil, err
		}
		miso, err := pinByName(cfg.MISO)
		if err != nil {
			return nil, nil, err
		}
		dev, err := max31855.NewBitBang(clk, cs, miso, opts)
		return dev, func() {}, err
	default:
		if cfg.CS != "" {
			cs, err := pinByName(cfg.CS)
			if err != nil {
				return nil, nil, err
			}
			opts.CSPin = cs
		}
		p, err := spireg.Open(cfg.Bus)
		if err != nil {
			return nil, nil, err
		}
		dev, err := max31855.New(p, opts)
		if err != nil {
			p.Close()
			return nil, nil, err
		}
		return dev, func() { p.Close() }, nil
	}
}

func pinByName(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.New("unknown gpio pin: " + name)
	}
	return p, nil
}

func setupLogger(cfg LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}

	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("cannot open log file: %v, using stdout", err)
		}
	}

	return log
}
