// Command-line companion for the analyzer daemon: scan for devices, run
// one-off measurements, inspect the local sync queue and force uploads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/backend"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/config"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/mock"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/omix"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/session"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/syncqueue"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	scanTimeout time.Duration
	useMock     bool

	linkType string
	linkID   string

	historyLimit int

	rootCmd = &cobra.Command{
		Use:   "analyzertool",
		Short: "Coffee analyzer CLI",
		Long:  "Command-line tool for measuring with the coffee analyzer and managing the local sync queue.",
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Scan for analyzer devices",
		RunE:  runScan,
	}

	measureCmd = &cobra.Command{
		Use:   "measure [coffee-type]",
		Short: "Run a measurement and store the result",
		Long:  "Connects to the first analyzer found, runs a full measurement for the given coffee type (general, cherry, parchment, green, roasted, ground or auto) and stores the result locally and on the backend.",
		Args:  cobra.ExactArgs(1),
		RunE:  runMeasure,
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Show device identity and battery status",
		RunE:  runInfo,
	}

	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List measurements awaiting upload",
		RunE:  runPending,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List recent measurements",
		RunE:  runHistory,
	}

	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Upload all pending measurements",
		RunE:  runSync,
	}
)

var log = logrus.New()

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/btanalyzer/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&useMock, "mock", false, "Use a mock analyzer instead of bluetooth")

	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 15*time.Second, "Scan window")
	measureCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 15*time.Second, "Scan window")
	measureCmd.Flags().StringVar(&linkType, "link-type", "", "Attach the measurement to an entity of this type (inventory or roast)")
	measureCmd.Flags().StringVar(&linkID, "link-id", "", "Identifier of the entity to attach the measurement to")
	infoCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 15*time.Second, "Scan window")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of records to show")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(measureCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		// The CLI stays usable without a config file for device-only commands
		log.Debugf("falling back to default configuration: %s", err)
		cfg = config.Default()
	}
	return cfg
}

func newDevice(cfg *config.Config) (analyzer.Analyzer, error) {
	if useMock || cfg.Device.Mock {
		return mock.New()
	}

	options := []func(*omix.Omix){}
	if cfg.Device.ID != "" {
		options = append(options, omix.WithDeviceID(cfg.Device.ID))
	}
	if cfg.Device.Name != "" {
		options = append(options, omix.WithDeviceName(cfg.Device.Name))
	}

	return omix.New(options...)
}

// connectFirst scans for analyzers and connects the first one found
func connectFirst(device analyzer.Analyzer) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	found := make(chan string, 1)
	go func() {
		_ = device.Scan(ctx, func(d analyzer.ScannedDevice) {
			select {
			case found <- d.ID:
				cancel()
			default:
			}
		})
	}()

	var deviceID string
	select {
	case deviceID = <-found:
	case <-ctx.Done():
		select {
		case deviceID = <-found:
		default:
			return "", analyzer.ErrNoDevice
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), scanTimeout)
	defer connectCancel()
	if err := device.Connect(connectCtx, deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	device, err := newDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI")
	err = device.Scan(ctx, func(d analyzer.ScannedDevice) {
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, d.Name, d.RSSI)
	})
	w.Flush()

	return err
}

func runMeasure(cmd *cobra.Command, args []string) error {
	coffeeType, ok := analyzer.ParseCoffeeType(args[0])
	if !ok {
		return fmt.Errorf("unknown coffee type: %s", args[0])
	}

	link, err := parseLink()
	if err != nil {
		return err
	}

	cfg := loadConfig()

	device, err := newDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	deviceID, err := connectFirst(device)
	if err != nil {
		return err
	}
	log.Infof("Connected analyzer `%s`", deviceID)

	sess := session.New(device, session.WithDeviceID(deviceID))
	device.SetEventHandler(sess.HandleEvent)

	results := make(chan analyzer.Measurement, 1)
	sess.SetCompletionChannel(results)
	failures := make(chan error, 1)
	sess.SetFailureHandler(func(err error) {
		failures <- err
	})

	if err := sess.Start(coffeeType); err != nil {
		return err
	}

	var m analyzer.Measurement
	select {
	case m = <-results:
	case err := <-failures:
		return fmt.Errorf("measurement failed: %w", err)
	case <-time.After(5 * time.Minute):
		return fmt.Errorf("timed out waiting for measurement to complete")
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	store, err := syncqueue.OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	queue := syncqueue.New(store, client)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()
	if err := queue.Complete(ctx, m, link); err != nil {
		return err
	}
	if pending, err := queue.Pending(); err == nil && len(pending) > 0 {
		log.Warnf("Backend unreachable, measurement queued for later sync (%d pending)", len(pending))
	}

	return nil
}

func parseLink() (*analyzer.Link, error) {
	if linkType == "" && linkID == "" {
		return nil, nil
	}
	if linkType == "" || linkID == "" {
		return nil, fmt.Errorf("--link-type and --link-id must be given together")
	}

	lt := analyzer.LinkType(linkType)
	if lt != analyzer.LinkTypeInventory && lt != analyzer.LinkTypeRoast {
		return nil, fmt.Errorf("unknown link type: %s", linkType)
	}

	return &analyzer.Link{Type: lt, ID: linkID}, nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	device, err := newDevice(cfg)
	if err != nil {
		return err
	}
	defer device.Close()

	if _, err := connectFirst(device); err != nil {
		return err
	}

	if err := device.RequestDeviceInfo(); err != nil {
		return err
	}

	// Responses arrive asynchronously; give the device a moment to answer
	time.Sleep(2 * time.Second)
	info := device.DeviceInfo()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Serial number\t%s\n", info.SerialNumber)
	fmt.Fprintf(w, "Firmware\t%s\n", info.FirmwareVersion)
	fmt.Fprintf(w, "Model\t%s\n", info.Model)
	fmt.Fprintf(w, "Battery\t%d%%\n", info.BatteryLevel)
	fmt.Fprintf(w, "Base battery\t%d%%\n", info.BaseBatteryLevel)
	return w.Flush()
}

func runPending(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	store, err := syncqueue.OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	pending, err := store.Pending()
	if err != nil {
		return err
	}

	printMeasurements(pending)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	store, err := syncqueue.OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	history, err := store.History(historyLimit)
	if err != nil {
		return err
	}

	printMeasurements(history)
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := syncqueue.OpenStore(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	client := backend.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	queue := syncqueue.New(store, client)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.Timeout)
	defer cancel()

	n, err := queue.Retry(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Synced %d measurements\n", n)
	return nil
}

func printMeasurements(measurements []analyzer.Measurement) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTAKEN AT\tCOFFEE TYPE\tSYNCED")
	for i := range measurements {
		m := &measurements[i]
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n",
			m.ID, m.TakenAt.Format(time.RFC3339), m.CoffeeType, m.Synced())
	}
	w.Flush()
}
