// Package testutils provides the scripted fake adapter and helpers shared by
// the session and command tests.
package testutils

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/bledb"
)

// FakeAdapter is a scripted in-memory adapter. A test describes the
// peripheral's GATT profile with the fluent With* builders, then drives the
// radio side through Emit* helpers. Commands complete synchronously by
// emitting the corresponding event on the adapter stream, mirroring a native
// stack that answers instantly.
//
// Failure knobs let a test break the script at a chosen step.
type FakeAdapter struct {
	// Device is the peripheral identifier events are stamped with.
	Device string

	// ConnectDelay postpones the KindConnected event, widening the window
	// in which concurrent callers can pile onto one attempt.
	ConnectDelay time.Duration

	// ConnectFailCode, when non-zero, fails every connect attempt with the
	// given native status code.
	ConnectFailCode int

	// ServiceDiscoveryErr fails service discovery with a command error.
	ServiceDiscoveryErr error

	// DropLinkDuringDiscovery emits a disconnect instead of answering the
	// first characteristics-discovery command.
	DropLinkDuringDiscovery bool
	dropCode                int

	mu        sync.Mutex
	events    chan adapter.Event
	closed    bool
	power     adapter.PowerState
	connected bool
	ready     bool
	mtu       int
	rssi      int

	profile    []*adapter.Service            // full scripted tree
	discovered []*adapter.Service            // what discovery has revealed so far
	values     map[string][]byte             // normalized char uuid -> readable value
	written    map[string][][]byte           // normalized char uuid -> writes observed
	notifying  map[string]bool               // normalized char uuid -> notify flag
	curSvc     *adapter.Service              // builder cursor
	curChar    *adapter.Characteristic       // builder cursor

	connectCalls int32
	inFlight     int32
	maxInFlight  int32
}

func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		Device:    "AA:BB:CC:DD:EE:FF",
		events:    make(chan adapter.Event, 256),
		power:     adapter.PoweredOn,
		ready:     true,
		mtu:       185,
		rssi:      -60,
		dropCode:  adapter.CodePeripheralDisconnected,
		values:    make(map[string][]byte),
		written:   make(map[string][][]byte),
		notifying: make(map[string]bool),
	}
}

// WithService appends a service to the scripted profile and moves the
// builder cursor onto it.
func (f *FakeAdapter) WithService(uuid string) *FakeAdapter {
	svc := &adapter.Service{UUID: uuid}
	f.profile = append(f.profile, svc)
	f.curSvc = svc
	f.curChar = nil
	return f
}

// WithCharacteristic appends a characteristic to the current service.
// Properties use the comma form, e.g. "read,write,notify".
func (f *FakeAdapter) WithCharacteristic(uuid, properties string, value []byte) *FakeAdapter {
	if f.curSvc == nil {
		panic("testutils: WithCharacteristic before WithService")
	}
	char := &adapter.Characteristic{UUID: uuid, Properties: ParseProperties(properties)}
	f.curSvc.Characteristics = append(f.curSvc.Characteristics, char)
	f.curChar = char
	if value != nil {
		f.values[bledb.NormalizeUUID(uuid)] = value
	}
	return f
}

// WithDescriptor appends a descriptor to the current characteristic.
func (f *FakeAdapter) WithDescriptor(uuid string, value adapter.Value) *FakeAdapter {
	if f.curChar == nil {
		panic("testutils: WithDescriptor before WithCharacteristic")
	}
	f.curChar.Descriptors = append(f.curChar.Descriptors, &adapter.Descriptor{UUID: uuid, Value: value})
	return f
}

// ParseProperties converts the comma form ("read,write,notify") into the
// characteristic property bit set.
func ParseProperties(s string) adapter.Property {
	var p adapter.Property
	for _, name := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "broadcast":
			p |= adapter.PropBroadcast
		case "read":
			p |= adapter.PropRead
		case "write_without_response", "writewithoutresponse":
			p |= adapter.PropWriteWithoutResponse
		case "write":
			p |= adapter.PropWrite
		case "notify":
			p |= adapter.PropNotify
		case "indicate":
			p |= adapter.PropIndicate
		case "signed_write":
			p |= adapter.PropSignedWrite
		case "extended":
			p |= adapter.PropExtended
		case "":
		default:
			panic("testutils: unknown property " + name)
		}
	}
	return p
}

func (f *FakeAdapter) emit(ev adapter.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(ev)
}

func (f *FakeAdapter) emitLocked(ev adapter.Event) {
	if f.closed {
		return
	}
	if ev.Device == "" && ev.Kind != adapter.KindPowerState {
		ev.Device = f.Device
	}
	f.events <- ev
}

// enter/exit bracket a command so tests can assert how many commands the
// caller had outstanding at once.
func (f *FakeAdapter) enter() {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if cur <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, cur) {
			break
		}
	}
	// widen the race window so unserialized callers actually overlap
	time.Sleep(time.Millisecond)
}

func (f *FakeAdapter) exit() {
	atomic.AddInt32(&f.inFlight, -1)
}

// ConnectCalls reports how many connect commands reached the fake.
func (f *FakeAdapter) ConnectCalls() int {
	return int(atomic.LoadInt32(&f.connectCalls))
}

// MaxInFlight reports the highest number of concurrently outstanding
// commands ever observed.
func (f *FakeAdapter) MaxInFlight() int {
	return int(atomic.LoadInt32(&f.maxInFlight))
}

// Written returns the payloads written to a characteristic, in order.
func (f *FakeAdapter) Written(charUUID string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written[bledb.NormalizeUUID(charUUID)]
}

// Notifying reports the native notification flag of a characteristic.
func (f *FakeAdapter) Notifying(charUUID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifying[bledb.NormalizeUUID(charUUID)]
}

func (f *FakeAdapter) State() adapter.PowerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.power
}

func (f *FakeAdapter) Events() <-chan adapter.Event { return f.events }

func (f *FakeAdapter) Connect(deviceID string) error {
	atomic.AddInt32(&f.connectCalls, 1)

	delay := f.ConnectDelay
	failCode := f.ConnectFailCode
	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		if failCode != 0 {
			f.emit(adapter.Event{Kind: adapter.KindConnectFailed, Device: deviceID, Code: failCode})
			return
		}
		f.mu.Lock()
		f.connected = true
		f.discovered = nil
		f.emitLocked(adapter.Event{Kind: adapter.KindConnected, Device: deviceID})
		f.mu.Unlock()
	}()
	return nil
}

func (f *FakeAdapter) CancelConnection(deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil
	}
	f.connected = false
	f.emitLocked(adapter.Event{Kind: adapter.KindDisconnected, Device: deviceID, Code: adapter.CodeNone})
	return nil
}

func (f *FakeAdapter) DiscoverServices(deviceID string, filter []string) error {
	f.enter()
	defer f.exit()

	if f.ServiceDiscoveryErr != nil {
		f.emit(adapter.Event{Kind: adapter.KindServicesDiscovered, Device: deviceID, Err: f.ServiceDiscoveryErr})
		return nil
	}

	want := make(map[string]bool, len(filter))
	for _, u := range filter {
		want[bledb.NormalizeUUID(u)] = true
	}

	f.mu.Lock()
	f.discovered = nil
	for _, svc := range f.profile {
		if len(want) > 0 && !want[bledb.NormalizeUUID(svc.UUID)] {
			continue
		}
		f.discovered = append(f.discovered, &adapter.Service{UUID: svc.UUID, Handle: svc.Handle, EndHandle: svc.EndHandle})
	}
	f.emitLocked(adapter.Event{Kind: adapter.KindServicesDiscovered, Device: deviceID})
	f.mu.Unlock()
	return nil
}

func (f *FakeAdapter) DiscoverCharacteristics(deviceID string, svc *adapter.Service) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.DropLinkDuringDiscovery {
		f.DropLinkDuringDiscovery = false
		f.connected = false
		f.emitLocked(adapter.Event{Kind: adapter.KindDisconnected, Device: deviceID, Code: f.dropCode})
		return nil
	}

	src := f.profileService(svc.UUID)
	if src == nil {
		f.emitLocked(adapter.Event{Kind: adapter.KindCharacteristicsDiscovered, Device: deviceID, Err: errors.New("unknown service")})
		return nil
	}
	for _, c := range src.Characteristics {
		svc.Characteristics = append(svc.Characteristics, &adapter.Characteristic{
			UUID:        c.UUID,
			Handle:      c.Handle,
			ValueHandle: c.ValueHandle,
			Properties:  c.Properties,
		})
	}
	f.emitLocked(adapter.Event{Kind: adapter.KindCharacteristicsDiscovered, Device: deviceID, Service: svc})
	return nil
}

func (f *FakeAdapter) DiscoverDescriptors(deviceID string, char *adapter.Characteristic) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()

	src := f.profileCharacteristic(char.UUID)
	if src != nil {
		for _, d := range src.Descriptors {
			char.Descriptors = append(char.Descriptors, &adapter.Descriptor{UUID: d.UUID, Handle: d.Handle, Value: d.Value})
		}
	}
	f.emitLocked(adapter.Event{Kind: adapter.KindDescriptorsDiscovered, Device: deviceID, Characteristic: char})
	return nil
}

func (f *FakeAdapter) Services(deviceID string) []*adapter.Service {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discovered
}

func (f *FakeAdapter) MTU(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return 0
	}
	return f.mtu
}

func (f *FakeAdapter) Read(deviceID string, char *adapter.Characteristic) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	data := f.values[bledb.NormalizeUUID(char.UUID)]
	f.emitLocked(adapter.Event{Kind: adapter.KindValueUpdated, Device: deviceID, Characteristic: char, Data: data})
	return nil
}

func (f *FakeAdapter) ReadDescriptor(deviceID string, desc *adapter.Descriptor) error {
	f.enter()
	defer f.exit()

	f.emit(adapter.Event{Kind: adapter.KindDescriptorRead, Device: deviceID, Descriptor: desc, Value: desc.Value})
	return nil
}

func (f *FakeAdapter) Write(deviceID string, char *adapter.Characteristic, data []byte, mode adapter.WriteMode) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	key := bledb.NormalizeUUID(char.UUID)
	f.written[key] = append(f.written[key], append([]byte(nil), data...))
	if mode == adapter.WriteWithResponse {
		f.emitLocked(adapter.Event{Kind: adapter.KindWriteCompleted, Device: deviceID, Characteristic: char})
	}
	return nil
}

func (f *FakeAdapter) SetNotifyEnabled(deviceID string, char *adapter.Characteristic, enabled bool) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifying[bledb.NormalizeUUID(char.UUID)] = enabled
	f.emitLocked(adapter.Event{Kind: adapter.KindNotifyStateSet, Device: deviceID, Characteristic: char})
	return nil
}

func (f *FakeAdapter) ReadRSSI(deviceID string) error {
	f.enter()
	defer f.exit()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitLocked(adapter.Event{Kind: adapter.KindRSSIRead, Device: deviceID, RSSI: f.rssi})
	return nil
}

func (f *FakeAdapter) CanWriteWithoutResponse(deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// EmitValue pushes an unsolicited value update for a characteristic, as a
// notifying peripheral would.
func (f *FakeAdapter) EmitValue(charUUID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	char := f.discoveredCharacteristic(charUUID)
	if char == nil {
		char = &adapter.Characteristic{UUID: charUUID}
	}
	f.emitLocked(adapter.Event{Kind: adapter.KindValueUpdated, Characteristic: char, Data: data})
}

// EmitDisconnect drops the link with the given native status code.
func (f *FakeAdapter) EmitDisconnect(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.emitLocked(adapter.Event{Kind: adapter.KindDisconnected, Code: code})
}

// SetPower flips the adapter's global power state.
func (f *FakeAdapter) SetPower(p adapter.PowerState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.power = p
	f.emitLocked(adapter.Event{Kind: adapter.KindPowerState, Power: p})
}

// SetReady flips write-without-response transport readiness.
func (f *FakeAdapter) SetReady(ready bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ready = ready
	f.emitLocked(adapter.Event{Kind: adapter.KindReadinessChanged, Ready: ready})
}

// Close shuts the event stream down.
func (f *FakeAdapter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
}

func (f *FakeAdapter) profileService(uuid string) *adapter.Service {
	key := bledb.NormalizeUUID(uuid)
	for _, svc := range f.profile {
		if bledb.NormalizeUUID(svc.UUID) == key {
			return svc
		}
	}
	return nil
}

func (f *FakeAdapter) profileCharacteristic(uuid string) *adapter.Characteristic {
	key := bledb.NormalizeUUID(uuid)
	for _, svc := range f.profile {
		for _, c := range svc.Characteristics {
			if bledb.NormalizeUUID(c.UUID) == key {
				return c
			}
		}
	}
	return nil
}

func (f *FakeAdapter) discoveredCharacteristic(uuid string) *adapter.Characteristic {
	key := bledb.NormalizeUUID(uuid)
	for _, svc := range f.discovered {
		for _, c := range svc.Characteristics {
			if bledb.NormalizeUUID(c.UUID) == key {
				return c
			}
		}
	}
	return nil
}
