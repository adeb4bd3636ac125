// Package goble implements the adapter contract on top of the go-ble stack.
// Each command runs on its own goroutine and reports completion as an event
// on the shared stream, so callers never block on the radio.
package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/groutine"
	"github.com/srg/gattlink/internal/ringchan"
)

const (
	// DefaultDialTimeout bounds a single dial. The session layer applies its
	// own attempt timeout on top; this one only keeps an abandoned dial from
	// leaking forever.
	DefaultDialTimeout = 30 * time.Second

	// DefaultDescriptorReadTimeout bounds the best-effort descriptor value
	// read during discovery.
	DefaultDescriptorReadTimeout = 2 * time.Second

	eventBuffer = 512
)

// DeviceFactory creates the ble.Device (overridable in tests).
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// peer is the live per-peripheral state: the dialed client, the discovered
// tree, and the mapping from contract structs back to ble structs.
type peer struct {
	client ble.Client
	tree   []*adapter.Service
	svcs   map[*adapter.Service]*ble.Service
	chars  map[*adapter.Characteristic]*ble.Characteristic
	descs  map[*adapter.Descriptor]*ble.Descriptor
}

// Adapter is the go-ble backed implementation of the adapter contract.
type Adapter struct {
	log    *logrus.Logger
	events *ringchan.RingChannel[adapter.Event]

	mu      sync.Mutex
	power   adapter.PowerState
	peers   map[string]*peer
	dialing map[string]context.CancelFunc
}

// New initializes the native stack and returns the adapter. go-ble reports
// no power transitions after initialization, so a successful device creation
// is taken as powered-on; stack errors that indicate a radio turned off
// later surface as failed commands.
func New(logger *logrus.Logger) (*Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	ble.SetDefaultDevice(dev)

	a := &Adapter{
		log:     logger,
		events:  ringchan.New[adapter.Event](eventBuffer),
		power:   adapter.PoweredOn,
		peers:   make(map[string]*peer),
		dialing: make(map[string]context.CancelFunc),
	}
	a.emit(adapter.Event{Kind: adapter.KindPowerState, Power: adapter.PoweredOn})
	return a, nil
}

func (a *Adapter) emit(ev adapter.Event) {
	a.events.Send(ev)
}

func (a *Adapter) State() adapter.PowerState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.power
}

func (a *Adapter) Events() <-chan adapter.Event { return a.events.C() }

func (a *Adapter) peerFor(deviceID string) *peer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peers[deviceID]
}

// Connect dials the peripheral. The completion, success or failure, arrives
// as an event; a CancelConnection issued while the dial is in flight aborts
// it.
func (a *Adapter) Connect(deviceID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultDialTimeout)

	a.mu.Lock()
	if _, busy := a.dialing[deviceID]; busy {
		a.mu.Unlock()
		cancel()
		return nil // dial already in flight, its outcome serves this call too
	}
	a.dialing[deviceID] = cancel
	a.mu.Unlock()

	groutine.Go(context.Background(), "goble-connect-"+deviceID, func(context.Context) {
		defer cancel()
		client, err := ble.Dial(ctx, ble.NewAddr(deviceID))

		a.mu.Lock()
		delete(a.dialing, deviceID)
		a.mu.Unlock()

		if err != nil {
			if a.log != nil {
				a.log.WithFields(logrus.Fields{
					"device": deviceID,
					"error":  err,
				}).Warn("Dial failed")
			}
			a.emit(adapter.Event{Kind: adapter.KindConnectFailed, Device: deviceID, Code: codeForError(err), Err: err})
			return
		}

		a.mu.Lock()
		a.peers[deviceID] = &peer{
			client: client,
			svcs:   make(map[*adapter.Service]*ble.Service),
			chars:  make(map[*adapter.Characteristic]*ble.Characteristic),
			descs:  make(map[*adapter.Descriptor]*ble.Descriptor),
		}
		a.mu.Unlock()

		a.watchLink(deviceID, client)
		a.emit(adapter.Event{Kind: adapter.KindConnected, Device: deviceID})
	})
	return nil
}

// watchLink turns the client's disconnect channel into a stream event and
// drops the peer state.
func (a *Adapter) watchLink(deviceID string, client ble.Client) {
	groutine.Go(context.Background(), "goble-link-watch-"+deviceID, func(context.Context) {
		<-client.Disconnected()

		a.mu.Lock()
		current, ok := a.peers[deviceID]
		if ok && current.client == client {
			delete(a.peers, deviceID)
		}
		a.mu.Unlock()

		if ok {
			if a.log != nil {
				a.log.WithField("device", deviceID).Info("Link closed by stack")
			}
			a.emit(adapter.Event{Kind: adapter.KindDisconnected, Device: deviceID, Code: adapter.CodePeripheralDisconnected})
		}
	})
}

// CancelConnection tears the link down, or aborts an in-flight dial.
func (a *Adapter) CancelConnection(deviceID string) error {
	a.mu.Lock()
	cancelDial := a.dialing[deviceID]
	p := a.peers[deviceID]
	a.mu.Unlock()

	if cancelDial != nil {
		cancelDial()
	}
	if p == nil {
		return nil
	}
	// the disconnect event is emitted by the link watcher
	return p.client.CancelConnection()
}

func (a *Adapter) DiscoverServices(deviceID string, filter []string) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}

	groutine.Go(context.Background(), "goble-discover-services-"+deviceID, func(context.Context) {
		uuids, err := parseUUIDs(filter)
		if err != nil {
			a.emit(adapter.Event{Kind: adapter.KindServicesDiscovered, Device: deviceID, Err: err})
			return
		}

		svcs, err := p.client.DiscoverServices(uuids)
		if err != nil {
			a.emit(adapter.Event{Kind: adapter.KindServicesDiscovered, Device: deviceID, Err: normalizeError(err)})
			return
		}

		a.mu.Lock()
		p.tree = p.tree[:0]
		for _, bs := range svcs {
			svc := &adapter.Service{
				UUID:      bs.UUID.String(),
				Handle:    bs.Handle,
				EndHandle: bs.EndHandle,
			}
			p.tree = append(p.tree, svc)
			p.svcs[svc] = bs
		}
		a.mu.Unlock()

		a.emit(adapter.Event{Kind: adapter.KindServicesDiscovered, Device: deviceID})
	})
	return nil
}

func (a *Adapter) DiscoverCharacteristics(deviceID string, svc *adapter.Service) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}

	groutine.Go(context.Background(), "goble-discover-chars-"+deviceID, func(context.Context) {
		a.mu.Lock()
		bs := p.svcs[svc]
		a.mu.Unlock()
		if bs == nil {
			a.emit(adapter.Event{Kind: adapter.KindCharacteristicsDiscovered, Device: deviceID, Service: svc, Err: ErrUnknownAttribute})
			return
		}

		chars, err := p.client.DiscoverCharacteristics(nil, bs)
		if err != nil {
			a.emit(adapter.Event{Kind: adapter.KindCharacteristicsDiscovered, Device: deviceID, Service: svc, Err: normalizeError(err)})
			return
		}

		a.mu.Lock()
		for _, bc := range chars {
			char := &adapter.Characteristic{
				UUID:        bc.UUID.String(),
				Handle:      bc.Handle,
				ValueHandle: bc.ValueHandle,
				Properties:  convertProperties(bc.Property),
			}
			svc.Characteristics = append(svc.Characteristics, char)
			p.chars[char] = bc
		}
		a.mu.Unlock()

		a.emit(adapter.Event{Kind: adapter.KindCharacteristicsDiscovered, Device: deviceID, Service: svc})
	})
	return nil
}

func (a *Adapter) DiscoverDescriptors(deviceID string, char *adapter.Characteristic) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}

	groutine.Go(context.Background(), "goble-discover-descs-"+deviceID, func(context.Context) {
		a.mu.Lock()
		bc := p.chars[char]
		a.mu.Unlock()
		if bc == nil {
			a.emit(adapter.Event{Kind: adapter.KindDescriptorsDiscovered, Device: deviceID, Characteristic: char, Err: ErrUnknownAttribute})
			return
		}

		descs, err := p.client.DiscoverDescriptors(nil, bc)
		if err != nil {
			a.emit(adapter.Event{Kind: adapter.KindDescriptorsDiscovered, Device: deviceID, Characteristic: char, Err: normalizeError(err)})
			return
		}

		a.mu.Lock()
		for _, bd := range descs {
			desc := &adapter.Descriptor{
				UUID:   bd.UUID.String(),
				Handle: bd.Handle,
				Value:  a.readDescriptorValue(p.client, bd),
			}
			char.Descriptors = append(char.Descriptors, desc)
			p.descs[desc] = bd
		}
		a.mu.Unlock()

		a.emit(adapter.Event{Kind: adapter.KindDescriptorsDiscovered, Device: deviceID, Characteristic: char})
	})
	return nil
}

// readDescriptorValue captures the descriptor value during discovery, best
// effort with a short deadline. On Darwin some descriptor handles are not
// populated and the read fails; those values stay absent.
func (a *Adapter) readDescriptorValue(client ble.Client, bd *ble.Descriptor) adapter.Value {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := client.ReadDescriptor(bd)
		ch <- result{data: data, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if a.log != nil {
				a.log.WithFields(logrus.Fields{
					"descriptor": bd.UUID.String(),
					"error":      r.err,
				}).Debug("Descriptor value read failed during discovery")
			}
			return adapter.Value{}
		}
		return adapter.BytesValue(r.data)
	case <-time.After(DefaultDescriptorReadTimeout):
		return adapter.Value{}
	}
}

func (a *Adapter) Services(deviceID string) []*adapter.Service {
	p := a.peerFor(deviceID)
	if p == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return p.tree
}

func (a *Adapter) MTU(deviceID string) int {
	p := a.peerFor(deviceID)
	if p == nil {
		return 0
	}
	return p.client.Conn().TxMTU()
}

func (a *Adapter) Read(deviceID string, char *adapter.Characteristic) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}
	a.mu.Lock()
	bc := p.chars[char]
	a.mu.Unlock()
	if bc == nil {
		return ErrUnknownAttribute
	}

	groutine.Go(context.Background(), "goble-read-"+deviceID, func(context.Context) {
		data, err := p.client.ReadCharacteristic(bc)
		a.emit(adapter.Event{
			Kind:           adapter.KindValueUpdated,
			Device:         deviceID,
			Characteristic: char,
			Data:           data,
			Err:            normalizeError(err),
		})
	})
	return nil
}

func (a *Adapter) ReadDescriptor(deviceID string, desc *adapter.Descriptor) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}
	a.mu.Lock()
	bd := p.descs[desc]
	a.mu.Unlock()
	if bd == nil {
		return ErrUnknownAttribute
	}

	groutine.Go(context.Background(), "goble-read-descriptor-"+deviceID, func(context.Context) {
		data, err := p.client.ReadDescriptor(bd)
		a.emit(adapter.Event{
			Kind:       adapter.KindDescriptorRead,
			Device:     deviceID,
			Descriptor: desc,
			Value:      adapter.BytesValue(data),
			Err:        normalizeError(err),
		})
	})
	return nil
}

func (a *Adapter) Write(deviceID string, char *adapter.Characteristic, data []byte, mode adapter.WriteMode) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}
	a.mu.Lock()
	bc := p.chars[char]
	a.mu.Unlock()
	if bc == nil {
		return ErrUnknownAttribute
	}

	payload := append([]byte(nil), data...)
	noRsp := mode == adapter.WriteWithoutResponse

	groutine.Go(context.Background(), "goble-write-"+deviceID, func(context.Context) {
		err := p.client.WriteCharacteristic(bc, payload, noRsp)
		if noRsp {
			// unacknowledged writes complete as soon as the stack takes them
			if err != nil && a.log != nil {
				a.log.WithFields(logrus.Fields{
					"device": deviceID,
					"char":   char.UUID,
					"error":  err,
				}).Warn("Write without response rejected by stack")
			}
			return
		}
		a.emit(adapter.Event{
			Kind:           adapter.KindWriteCompleted,
			Device:         deviceID,
			Characteristic: char,
			Err:            normalizeError(err),
		})
	})
	return nil
}

func (a *Adapter) SetNotifyEnabled(deviceID string, char *adapter.Characteristic, enabled bool) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}
	a.mu.Lock()
	bc := p.chars[char]
	a.mu.Unlock()
	if bc == nil {
		return ErrUnknownAttribute
	}

	// indications are used only when the characteristic cannot notify
	indicate := bc.Property&ble.CharNotify == 0 && bc.Property&ble.CharIndicate != 0

	groutine.Go(context.Background(), "goble-notify-"+deviceID, func(context.Context) {
		var err error
		if enabled {
			err = p.client.Subscribe(bc, indicate, func(data []byte) {
				a.emit(adapter.Event{
					Kind:           adapter.KindValueUpdated,
					Device:         deviceID,
					Characteristic: char,
					Data:           append([]byte(nil), data...),
				})
			})
		} else {
			err = p.client.Unsubscribe(bc, indicate)
		}
		a.emit(adapter.Event{
			Kind:           adapter.KindNotifyStateSet,
			Device:         deviceID,
			Characteristic: char,
			Err:            normalizeError(err),
		})
	})
	return nil
}

func (a *Adapter) ReadRSSI(deviceID string) error {
	p := a.peerFor(deviceID)
	if p == nil {
		return ErrNoConnection
	}

	groutine.Go(context.Background(), "goble-rssi-"+deviceID, func(context.Context) {
		rssi := p.client.ReadRSSI()
		a.emit(adapter.Event{Kind: adapter.KindRSSIRead, Device: deviceID, RSSI: rssi})
	})
	return nil
}

// CanWriteWithoutResponse always reports ready: go-ble exposes no buffer
// availability signal, so the stack's own blocking write provides the only
// backpressure.
func (a *Adapter) CanWriteWithoutResponse(deviceID string) bool {
	return a.peerFor(deviceID) != nil
}

// Close tears down every link and the event stream.
func (a *Adapter) Close() error {
	a.mu.Lock()
	peers := make([]*peer, 0, len(a.peers))
	for id, p := range a.peers {
		peers = append(peers, p)
		delete(a.peers, id)
	}
	for id, cancel := range a.dialing {
		cancel()
		delete(a.dialing, id)
	}
	a.mu.Unlock()

	for _, p := range peers {
		if err := p.client.CancelConnection(); err != nil && a.log != nil {
			a.log.WithField("error", err).Debug("Cancel during adapter close")
		}
	}
	a.events.Close()
	return nil
}

func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]ble.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := ble.Parse(u)
		if err != nil {
			return nil, err
		}
		result = append(result, parsed)
	}
	return result, nil
}

func convertProperties(p ble.Property) adapter.Property {
	var out adapter.Property
	if p&ble.CharBroadcast != 0 {
		out |= adapter.PropBroadcast
	}
	if p&ble.CharRead != 0 {
		out |= adapter.PropRead
	}
	if p&ble.CharWriteNR != 0 {
		out |= adapter.PropWriteWithoutResponse
	}
	if p&ble.CharWrite != 0 {
		out |= adapter.PropWrite
	}
	if p&ble.CharNotify != 0 {
		out |= adapter.PropNotify
	}
	if p&ble.CharIndicate != 0 {
		out |= adapter.PropIndicate
	}
	if p&ble.CharSignedWrite != 0 {
		out |= adapter.PropSignedWrite
	}
	if p&ble.CharExtended != 0 {
		out |= adapter.PropExtended
	}
	return out
}
