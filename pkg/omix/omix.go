package omix

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/gatt"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/analyzer"
	"github.com/giesencoffeeroasters/btanalyzer/pkg/protocol"
)

const (
	// Largest notification is the 120 byte roast analysis payload plus
	// framing, well above the 23 byte default ATT MTU
	connectionMTU = 247

	adapterReadyTimeout = 10 * time.Second
)

// Omix denotes a DiFluid Omix bluetooth coffee analyzer
type Omix struct {
	mu sync.Mutex

	connectionStatus analyzer.ConnectionStatus
	deviceInfo       analyzer.DeviceInfo

	deviceID   string
	deviceName string

	adapterState   gatt.State
	adapterChanged chan struct{}

	scanning     bool
	onFound      func(device analyzer.ScannedDevice)
	seen         map[string]struct{}
	candidates   map[string]gatt.Peripheral
	advertsTotal int
	advertsNamed int
	matches      int

	pendingID     string
	connectResult chan error
	doneChan      chan struct{}
	notifiedGone  *sync.Once

	awaitingWaterActivity bool

	eventHandler func(event protocol.Event)
	eventChan    chan protocol.Event

	stateChangeHandler func(status analyzer.ConnectionStatus)
	stateChangeChan    chan analyzer.ConnectionStatus

	disconnectHandler func()

	btDevice     gatt.Device
	btPeripheral gatt.Peripheral
	writeChar    *gatt.Characteristic
	notifyChar   *gatt.Characteristic

	logger analyzer.Logger
}

// New instantiates a new Omix struct, executing functional options, if any
func New(options ...func(*Omix)) (*Omix, error) {

	// Initialize a new instance of an Omix analyzer
	o := &Omix{
		adapterChanged: make(chan struct{}),
		seen:           make(map[string]struct{}),
		candidates:     make(map[string]gatt.Peripheral),
		logger:         &analyzer.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(o)
	}

	// Initialize a new GATT device (if not provided as option)
	if o.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, err
		}
		o.btDevice = btDevice
	}

	return o, o.subscribe()
}

// ConnectionStatus returns the current status of the bluetooth device
func (o *Omix) ConnectionStatus() analyzer.ConnectionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.connectionStatus
}

// DeviceInfo returns the device information received so far
func (o *Omix) DeviceInfo() analyzer.DeviceInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.deviceInfo
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (o *Omix) SetStateChangeHandler(fn func(status analyzer.ConnectionStatus)) {
	o.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that state changes are put on
func (o *Omix) SetStateChangeChannel(ch chan analyzer.ConnectionStatus) {
	o.stateChangeChan = ch
}

// SetEventHandler defines a handler function that is called upon retrieval of
// a device event
func (o *Omix) SetEventHandler(fn func(event protocol.Event)) {
	o.eventHandler = fn
}

// SetEventChannel defines a channel that device events are put on
func (o *Omix) SetEventChannel(ch chan protocol.Event) {
	o.eventChan = ch
}

// SetDisconnectHandler defines a handler function that is called once when an
// established connection ends, whether locally or device-initiated
func (o *Omix) SetDisconnectHandler(fn func()) {
	o.disconnectHandler = fn
}

// Scan discovers analyzers until the context ends, reporting each unique
// candidate via onFound. Returns ErrNoDevice if the scan window elapses
// without a single protocol-matching device.
func (o *Omix) Scan(ctx context.Context, onFound func(device analyzer.ScannedDevice)) error {
	if err := o.waitAdapterReady(ctx); err != nil {
		return err
	}

	// The HCI user channel claims the adapter exclusively, so no other
	// process can hold a connection to the analyzer: there are no
	// already-connected peripherals to report ahead of the scan.

	o.mu.Lock()
	o.scanning = true
	o.onFound = onFound
	o.seen = make(map[string]struct{})
	o.candidates = make(map[string]gatt.Peripheral)
	o.advertsTotal, o.advertsNamed, o.matches = 0, 0, 0
	o.mu.Unlock()

	o.setStatus(analyzer.StateScanning, nil)

	// Scan without a service UUID filter: identification needs the full
	// advertisement since some firmware revisions omit the service UUIDs
	if err := o.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		o.restoreIdleStatus()
		return fmt.Errorf("failed to start scanning: %w", err)
	}

	<-ctx.Done()

	if err := o.btDevice.StopScanning(); err != nil {
		o.logger.Warnf("failed to stop scanning: %s", err)
	}

	o.mu.Lock()
	o.scanning = false
	o.onFound = nil
	total, named, matches := o.advertsTotal, o.advertsNamed, o.matches
	o.mu.Unlock()

	o.restoreIdleStatus()

	if matches == 0 {
		o.logger.Warnf("scan ended without a matching analyzer: saw %d advertisements (%d carrying a name) - is the device awake and in range?",
			total, named)
		return analyzer.ErrNoDevice
	}

	return nil
}

// Connect establishes a connection to a previously scanned device and
// resolves its transport (service, write / notify characteristics). Any
// existing connection is torn down first.
func (o *Omix) Connect(ctx context.Context, deviceID string) error {
	if err := o.Disconnect(); err != nil {
		return err
	}
	if err := o.waitAdapterReady(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	p, exists := o.candidates[deviceID]
	if !exists {
		o.mu.Unlock()
		return fmt.Errorf("unknown device `%s` (not seen during scan): %w", deviceID, analyzer.ErrNoDevice)
	}
	o.pendingID = deviceID
	o.connectResult = make(chan error, 1)
	o.doneChan = make(chan struct{})
	o.notifiedGone = &sync.Once{}
	connectResult := o.connectResult
	o.mu.Unlock()

	o.setStatus(analyzer.StateConnecting, nil)

	if err := o.btDevice.Connect(p); err != nil {
		o.setStatus(analyzer.StateDisconnected, err)
		return fmt.Errorf("failed to connect device `%s/%s`: %w", p.Name(), p.ID(), err)
	}

	select {
	case <-ctx.Done():
		_ = o.btDevice.CancelConnection(p)
		o.setStatus(analyzer.StateDisconnected, ctx.Err())
		return ctx.Err()
	case err := <-connectResult:
		if err != nil {
			o.setStatus(analyzer.StateDisconnected, err)
			return err
		}
	}

	o.setStatus(analyzer.StateConnected, nil)
	return nil
}

// Disconnect terminates the current connection, if any. Safe to call in any
// state, including when the device already dropped the link on its own.
func (o *Omix) Disconnect() error {
	o.mu.Lock()
	p, c := o.btPeripheral, o.notifyChar
	done := o.doneChan
	o.mu.Unlock()

	if p == nil {
		return nil
	}

	// Remove the subscription first; failure is irrelevant if the device is
	// already gone
	if c != nil {
		if err := p.SetNotifyValue(c, nil); err != nil {
			o.logger.Debugf("failed to unsubscribe characteristic on disconnect: %s", err)
		}
	}

	if done != nil {
		select {
		case done <- struct{}{}:
		default:
		}
	}

	return nil
}

// StartMeasurement requests a new measurement for the given coffee type
func (o *Omix) StartMeasurement(coffeeType analyzer.CoffeeType) error {
	o.mu.Lock()
	state := o.connectionStatus.State
	o.mu.Unlock()

	switch state {
	case analyzer.StateMeasuring:
		return analyzer.ErrBusy
	case analyzer.StateConnected:
	default:
		return analyzer.ErrNotConnected
	}

	return o.write(protocol.FuncDetection, protocol.CmdStartMeasurement, []byte{byte(coffeeType)})
}

// RequestDeviceInfo asks the device for its identity and battery status. The
// responses arrive asynchronously and are cached, see DeviceInfo()
func (o *Omix) RequestDeviceInfo() error {
	for _, cmd := range []byte{
		protocol.CmdSerialNumber,
		protocol.CmdFirmwareVersion,
		protocol.CmdModel,
		protocol.CmdBattery,
	} {
		if err := o.write(protocol.FuncDeviceInfo, cmd, nil); err != nil {
			return err
		}
	}

	return nil
}

// Close terminates any connection and releases the bluetooth device
func (o *Omix) Close() error {
	_ = o.Disconnect()

	_ = o.btDevice.StopScanning()
	return o.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (o *Omix) subscribe() error {

	// Register handlers
	o.btDevice.Handle(
		gatt.AddPeripheralDiscovered(o.onPeriphDiscovered),
		gatt.AddPeripheralConnected(o.onPeriphConnected),
		gatt.AddPeripheralDisconnected(o.onPeriphDisconnected),
	)

	// Initialize the device
	return o.btDevice.Init(o.onStateChanged)
}

func (o *Omix) setStatus(state analyzer.State, err error) {
	o.mu.Lock()
	o.connectionStatus = analyzer.ConnectionStatus{
		State: state,
		Error: err,
	}
	status := o.connectionStatus
	o.mu.Unlock()

	// Call handler function, if any
	if o.stateChangeHandler != nil {
		o.stateChangeHandler(status)
	}

	// Put state change on channel, if any
	if o.stateChangeChan != nil {
		select {
		case o.stateChangeChan <- status:
		default:
		}
	}
}

func (o *Omix) write(function, command byte, data []byte) error {
	o.mu.Lock()
	p, c := o.btPeripheral, o.writeChar
	o.mu.Unlock()

	if p == nil || c == nil {
		return analyzer.ErrNotConnected
	}

	packet := protocol.BuildPacket(function, command, data)
	return writeWithFallback(func(noRsp bool) error {
		return p.WriteCharacteristic(c, packet, noRsp)
	})
}

// restoreIdleStatus resets the connection status after a scan window, back to
// connected if a peripheral is still held
func (o *Omix) restoreIdleStatus() {
	o.mu.Lock()
	connected := o.btPeripheral != nil
	o.mu.Unlock()

	if connected {
		o.setStatus(analyzer.StateConnected, nil)
	} else {
		o.setStatus(analyzer.StateDisconnected, nil)
	}
}

// waitAdapterReady blocks until the bluetooth adapter is powered on. States
// that cannot recover on their own (unsupported hardware, missing platform
// authorization, radio switched off) fail immediately, transient ones
// (unknown / resetting) are awaited with a bounded timeout.
func (o *Omix) waitAdapterReady(ctx context.Context) error {
	deadline := time.NewTimer(adapterReadyTimeout)
	defer deadline.Stop()

	for {
		o.mu.Lock()
		state, changed := o.adapterState, o.adapterChanged
		o.mu.Unlock()

		switch state {
		case gatt.StatePoweredOn:
			return nil
		case gatt.StateUnsupported:
			return fmt.Errorf("bluetooth is not supported on this host")
		case gatt.StateUnauthorized:
			return fmt.Errorf("bluetooth access is not authorized")
		case gatt.StatePoweredOff:
			return fmt.Errorf("bluetooth adapter is powered off")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("bluetooth adapter not ready after %v (state: %s)", adapterReadyTimeout, state)
		case <-changed:
		}
	}
}

////////////////////////////////////////////////////////////////////////////////

func (o *Omix) onStateChanged(d gatt.Device, s gatt.State) {
	o.logger.Debugf("bluetooth adapter state changed to `%s`", s)

	o.mu.Lock()
	o.adapterState = s
	close(o.adapterChanged)
	o.adapterChanged = make(chan struct{})
	o.mu.Unlock()

	if s != gatt.StatePoweredOn {
		if err := d.StopScanning(); err != nil {
			o.logger.Debugf("failed to stop scanning on adapter state change: %s", err)
		}
	}
}

func (o *Omix) onPeriphDiscovered(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
	o.mu.Lock()
	if !o.scanning {
		o.mu.Unlock()
		return
	}

	o.advertsTotal++
	name := p.Name()
	if a != nil && a.LocalName != "" {
		name = a.LocalName
	}
	if name != "" {
		o.advertsNamed++
	}

	if !o.matchesTarget(p) && !identifyAnalyzer(a, name) {
		o.mu.Unlock()
		return
	}
	o.matches++

	// Peripherals advertise repeatedly, report each device once per scan
	if _, reported := o.seen[p.ID()]; reported {
		o.candidates[p.ID()] = p
		o.mu.Unlock()
		return
	}
	o.seen[p.ID()] = struct{}{}
	o.candidates[p.ID()] = p
	onFound := o.onFound
	o.mu.Unlock()

	o.logger.Debugf("discovered analyzer `%s/%s` (RSSI %d)", name, p.ID(), rssi)

	if onFound != nil {
		onFound(analyzer.ScannedDevice{
			ID:   p.ID(),
			Name: name,
			RSSI: rssi,
		})
	}
}

func (o *Omix) onPeriphConnected(p gatt.Peripheral, connErr error) {

	o.mu.Lock()
	isPending := o.pendingID == p.ID()
	connectResult := o.connectResult
	done := o.doneChan
	notifiedGone := o.notifiedGone
	o.mu.Unlock()

	if !isPending {
		return
	}

	o.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	established := false
	defer func() {
		_ = p.Device().CancelConnection(p)

		// A newer Connect may have superseded this connection while
		// CancelConnection was in flight. The done channel identifies the
		// connection generation: only clear state this handler still owns.
		o.mu.Lock()
		owned := o.doneChan == done
		if owned {
			o.btPeripheral = nil
			o.writeChar = nil
			o.notifyChar = nil
			o.pendingID = ""
		}
		o.mu.Unlock()

		if established {
			o.notifyDisconnect(notifiedGone)
			if owned {
				o.setStatus(analyzer.StateDisconnected, connErr)
			}
		}
	}()

	fail := func(err error) {
		connErr = err
		select {
		case connectResult <- err:
		default:
		}
	}

	if connErr != nil {
		fail(connErr)
		return
	}

	// Negotiate connection MTU
	if err := p.SetMTU(connectionMTU); err != nil {
		fail(fmt.Errorf("failed to set MTU: %w", err))
		return
	}

	// Discover services and resolve the transport
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		fail(fmt.Errorf("failed to discover services: %w", err))
		return
	}
	svc, err := resolveService(ss)
	if err != nil {
		fail(err)
		return
	}

	cs, err := p.DiscoverCharacteristics(nil, svc)
	if err != nil {
		fail(fmt.Errorf("failed to discover characteristics: %w", err))
		return
	}
	writeChar, notifyChar, err := resolveCharacteristics(cs)
	if err != nil {
		fail(err)
		return
	}

	// Discover descriptors (required before subscribing)
	if _, err := p.DiscoverDescriptors(nil, notifyChar); err != nil {
		fail(fmt.Errorf("failed to discover descriptors: %w", err))
		return
	}
	if err := p.SetNotifyValue(notifyChar, o.receiveNotification); err != nil {
		fail(fmt.Errorf("failed to subscribe characteristic: %w", err))
		return
	}

	o.mu.Lock()
	if o.doneChan != done {
		o.mu.Unlock()
		fail(fmt.Errorf("connection to `%s` superseded by a newer connect", p.ID()))
		return
	}
	o.btPeripheral = p
	o.writeChar = writeChar
	o.notifyChar = notifyChar
	o.awaitingWaterActivity = false
	o.mu.Unlock()

	established = true
	select {
	case connectResult <- nil:
	default:
	}

	o.logger.Debugf("waiting to release peripheral `%s/%s`", p.Name(), p.ID())
	<-done
	o.logger.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())
}

func (o *Omix) onPeriphDisconnected(p gatt.Peripheral, _ error) {
	o.mu.Lock()
	current := o.btPeripheral
	done := o.doneChan
	notifiedGone := o.notifiedGone
	o.mu.Unlock()

	if current == nil || current.ID() != p.ID() {
		return
	}

	o.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())

	o.notifyDisconnect(notifiedGone)

	if done != nil {
		select {
		case done <- struct{}{}:
		default:
		}
	}
}

// notifyDisconnect runs the disconnect handler, at most once per connection
// regardless of whether the teardown was local or device-initiated
func (o *Omix) notifyDisconnect(once *sync.Once) {
	if once == nil || o.disconnectHandler == nil {
		return
	}
	once.Do(o.disconnectHandler)
}

func (o *Omix) matchesTarget(p gatt.Peripheral) bool {
	if o.deviceID != "" && strings.EqualFold(p.ID(), o.deviceID) {
		return true
	}
	return o.deviceName != "" && strings.EqualFold(p.Name(), o.deviceName)
}

func (o *Omix) receiveNotification(_ *gatt.Characteristic, req []byte, err error) {
	if err != nil {
		o.logger.Debugf("dropping notification with transport error: %s", err)
		return
	}

	event := protocol.Route(req)
	if event == nil {
		o.logger.Debugf("dropping malformed notification (%d bytes)", len(req))
		return
	}

	o.trackEvent(event)

	// Call handler function, if any
	if o.eventHandler != nil {
		o.eventHandler(event)
	}

	// Put event on channel, if any
	if o.eventChan != nil {
		o.eventChan <- event
	}
}

// trackEvent maintains the cached device info and the coarse measuring
// state derived from the notification stream
func (o *Omix) trackEvent(event protocol.Event) {
	o.mu.Lock()

	prior := o.connectionStatus.State
	next := prior
	measuring := func(active bool) {
		next = analyzer.StateConnected
		if active {
			next = analyzer.StateMeasuring
		}
	}

	switch ev := event.(type) {
	case protocol.MeasurementStarted:
		measuring(true)
	case protocol.MeasurementBusy, protocol.MeasurementFailed:
		measuring(false)
	case protocol.BeanType:
		o.awaitingWaterActivity = ev.DetectWaterActivity
	case protocol.WaterActivityStart:
		o.awaitingWaterActivity = true
	case protocol.WaterActivity:
		o.awaitingWaterActivity = false
		measuring(false)
	case protocol.Agtron:
		if !o.awaitingWaterActivity {
			measuring(false)
		}
	case protocol.SerialNumber:
		o.deviceInfo.SerialNumber = ev.Serial
	case protocol.FirmwareVersion:
		o.deviceInfo.FirmwareVersion = ev.Version
	case protocol.Model:
		o.deviceInfo.Model = ev.Model
	case protocol.Battery:
		o.deviceInfo.BatteryStatus = ev.Device.Status
		o.deviceInfo.BatteryLevel = ev.Device.Level
		o.deviceInfo.BaseBatteryStatus = ev.Base.Status
		o.deviceInfo.BaseBatteryLevel = ev.Base.Level
	}

	o.mu.Unlock()

	// Status changes derived from the notification stream go through
	// setStatus so state-change subscribers observe the measuring state
	if next != prior {
		o.setStatus(next, nil)
	}
}
