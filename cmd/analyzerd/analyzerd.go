package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/api"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/backend"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/config"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/mock"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/omix"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/session"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/syncqueue"
	"github.com/sirupsen/logrus"
)

const (
	scanWindow     = 30 * time.Second
	connectTimeout = 30 * time.Second
	reconnectDelay = 5 * time.Second
)

var log = logrus.New()

func main() {

	// Parse command line options
	var configPath string
	flag.StringVar(&configPath, "config", "/etc/btanalyzer/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %s", err)
	}
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	device, err := newDevice(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize analyzer: %s", err)
	}

	store, err := syncqueue.OpenStore(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open measurement store: %s", err)
	}

	client := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	queue := syncqueue.New(store, client, syncqueue.WithLogger(analyzer.NewDefaultLogger(cfg.Debug)))

	sess := session.New(device, session.WithLogger(analyzer.NewDefaultLogger(cfg.Debug)))
	device.SetEventHandler(sess.HandleEvent)

	sess.SetCompletionHandler(func(m analyzer.Measurement) {
		log.Infof("Measurement %s complete (coffee type %s)", m.ID, m.CoffeeType)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
		defer cancel()
		if err := queue.Complete(ctx, m, nil); err != nil {
			log.Errorf("Failed to store measurement %s: %s", m.ID, err)
		}
	})
	sess.SetFailureHandler(func(err error) {
		log.Warnf("Measurement did not complete: %s", err)
	})

	stateChan := make(chan analyzer.ConnectionStatus, 16)
	device.SetStateChangeChannel(stateChan)
	go func() {
		for st := range stateChan {
			log.Debugf("Connection state change: %s", st.State)

			// A dropped link cancels any in-flight measurement
			if st.State == analyzer.StateDisconnected {
				sess.Abort(analyzer.ErrNotConnected)
			}
		}
	}()

	// Keep a device connected, re-scanning whenever the link drops
	go maintainConnection(device, sess)

	// Periodically retry pending uploads
	go func() {
		for range time.Tick(cfg.Backend.RetryInterval) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
			n, err := queue.Retry(ctx)
			cancel()
			if err != nil {
				log.Debugf("Sync retry failed: %s", err)
				continue
			}
			if n > 0 {
				log.Infof("Synced %d pending measurements", n)
			}
		}
	}()

	srv := api.New(device, sess, queue)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Infof("Got signal, terminating connection to device")
		_ = srv.Shutdown()
		_ = device.Close()
		_ = store.Close()
		os.Exit(0)
	}()

	log.Infof("Listening on %s", cfg.API.Listen)
	if err := srv.Run(cfg.API.Listen); err != nil {
		log.Fatalf("API server failed: %s", err)
	}
}

func newDevice(cfg *config.Config) (analyzer.Analyzer, error) {
	if cfg.Device.Mock {
		return mock.New()
	}

	options := []func(*omix.Omix){
		omix.WithLogger(analyzer.NewDefaultLogger(cfg.Debug)),
	}
	if cfg.Device.ID != "" {
		options = append(options, omix.WithDeviceID(cfg.Device.ID))
	}
	if cfg.Device.Name != "" {
		options = append(options, omix.WithDeviceName(cfg.Device.Name))
	}

	return omix.New(options...)
}

func maintainConnection(device analyzer.Analyzer, sess *session.Controller) {
	for {
		if device.ConnectionStatus().State >= analyzer.StateConnected {
			time.Sleep(reconnectDelay)
			continue
		}

		deviceID, err := scanForDevice(device)
		if err != nil {
			log.Debugf("Scan did not yield a device: %s", err)
			time.Sleep(reconnectDelay)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		err = device.Connect(ctx, deviceID)
		cancel()
		if err != nil {
			log.Warnf("Failed to connect device `%s`: %s", deviceID, err)
			time.Sleep(reconnectDelay)
			continue
		}

		sess.SetDeviceID(deviceID)
		log.Infof("Connected analyzer `%s`", deviceID)

		if err := device.RequestDeviceInfo(); err != nil {
			log.Warnf("Failed to request device info: %s", err)
		}
	}
}

func scanForDevice(device analyzer.Analyzer) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), scanWindow)
	defer cancel()

	found := make(chan string, 1)
	go func() {
		if err := device.Scan(ctx, func(d analyzer.ScannedDevice) {
			log.Infof("Discovered analyzer `%s/%s` (RSSI %d)", d.Name, d.ID, d.RSSI)
			select {
			case found <- d.ID:
				cancel()
			default:
			}
		}); err != nil {
			cancel()
		}
	}()

	select {
	case deviceID := <-found:
		return deviceID, nil
	case <-ctx.Done():
		select {
		case deviceID := <-found:
			return deviceID, nil
		default:
			return "", analyzer.ErrNoDevice
		}
	}
}
