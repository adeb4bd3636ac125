package session

import (
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/gattlink/adapter"
	"github.com/srg/gattlink/internal/bledb"
)

// Catalog is the index of a peripheral's GATT tree, built once after a
// successful discovery walk and read-only afterwards. Services and
// characteristics keep discovery order. Lookups are keyed by normalized UUID.
type Catalog struct {
	services *orderedmap.OrderedMap[string, *Service]
}

// Service is a catalog entry for one GATT service.
type Service struct {
	uuid      string
	knownName string
	native    *adapter.Service
	chars     *orderedmap.OrderedMap[string, *Characteristic]
}

// UUID returns the normalized service UUID.
func (s *Service) UUID() string { return s.uuid }

// KnownName returns the Bluetooth SIG name for the service, or "".
func (s *Service) KnownName() string { return s.knownName }

// Characteristics returns the service's characteristics in discovery order.
func (s *Service) Characteristics() []*Characteristic {
	result := make([]*Characteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Characteristic is a catalog entry for one GATT characteristic.
type Characteristic struct {
	uuid        string
	knownName   string
	service     *Service
	native      *adapter.Characteristic
	descriptors []*Descriptor
}

// UUID returns the normalized characteristic UUID.
func (c *Characteristic) UUID() string { return c.uuid }

// KnownName returns the Bluetooth SIG name for the characteristic, or "".
func (c *Characteristic) KnownName() string { return c.knownName }

// Properties returns the characteristic's capability bits.
func (c *Characteristic) Properties() adapter.Property { return c.native.Properties }

// Descriptors returns the characteristic's descriptors in discovery order.
func (c *Characteristic) Descriptors() []*Descriptor { return c.descriptors }

// Descriptor is a catalog entry for one GATT descriptor. Value holds the
// canonical little-endian bytes normalized from whatever representation the
// native stack delivered at discovery; ParsedValue holds the structured form
// for well-known descriptor types.
type Descriptor struct {
	uuid      string
	knownName string
	native    *adapter.Descriptor
	value     []byte
	parsed    interface{}
}

// UUID returns the normalized descriptor UUID.
func (d *Descriptor) UUID() string { return d.uuid }

// KnownName returns the Bluetooth SIG name for the descriptor, or "".
func (d *Descriptor) KnownName() string { return d.knownName }

// Value returns the normalized descriptor value bytes captured at discovery.
func (d *Descriptor) Value() []byte { return d.value }

// ParsedValue returns the structured value for well-known descriptor types
// (see ParseDescriptorValue), or nil when no value was captured.
func (d *Descriptor) ParsedValue() interface{} { return d.parsed }

// newCatalog builds a catalog from the native service tree. The tree must be
// the result of a completed discovery walk; callers never see a catalog for a
// partial walk.
func newCatalog(tree []*adapter.Service, logger *logrus.Logger) *Catalog {
	cat := &Catalog{services: orderedmap.New[string, *Service]()}

	for _, ns := range tree {
		svcUUID := bledb.NormalizeUUID(ns.UUID)
		svc := &Service{
			uuid:      svcUUID,
			knownName: bledb.LookupService(ns.UUID),
			native:    ns,
			chars:     orderedmap.New[string, *Characteristic](),
		}

		for _, nc := range ns.Characteristics {
			charUUID := bledb.NormalizeUUID(nc.UUID)
			char := &Characteristic{
				uuid:      charUUID,
				knownName: bledb.LookupCharacteristic(nc.UUID),
				service:   svc,
				native:    nc,
			}

			for _, nd := range nc.Descriptors {
				descUUID := bledb.NormalizeUUID(nd.UUID)
				value := NormalizeDescriptorValue(descUUID, nd.Value, logger)
				desc := &Descriptor{
					uuid:      descUUID,
					knownName: bledb.LookupDescriptor(nd.UUID),
					native:    nd,
					value:     value,
				}
				if parsed, err := ParseDescriptorValue(descUUID, value); err == nil {
					desc.parsed = parsed
				} else if logger != nil {
					logger.WithFields(logrus.Fields{
						"descriptor_uuid": descUUID,
						"error":           err,
					}).Debug("Failed to parse descriptor value")
				}
				char.descriptors = append(char.descriptors, desc)
			}

			svc.chars.Set(charUUID, char)
		}

		cat.services.Set(svcUUID, svc)
	}

	return cat
}

// Services returns all services in discovery order.
func (cat *Catalog) Services() []*Service {
	result := make([]*Service, 0, cat.services.Len())
	for pair := cat.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Service retrieves a service by UUID. The UUID is normalized before lookup.
func (cat *Catalog) Service(uuid string) (*Service, error) {
	svc, ok := cat.services.Get(bledb.NormalizeUUID(uuid))
	if !ok {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// Characteristic retrieves a characteristic by service and characteristic
// UUID. Both UUIDs are normalized before lookup.
func (cat *Catalog) Characteristic(service, uuid string) (*Characteristic, error) {
	svc, err := cat.Service(service)
	if err != nil {
		return nil, err
	}
	char, ok := svc.chars.Get(bledb.NormalizeUUID(uuid))
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return char, nil
}

// Descriptor retrieves a descriptor by service, characteristic and
// descriptor UUID.
func (cat *Catalog) Descriptor(service, char, uuid string) (*Descriptor, error) {
	c, err := cat.Characteristic(service, char)
	if err != nil {
		return nil, err
	}
	descUUID := bledb.NormalizeUUID(uuid)
	for _, d := range c.descriptors {
		if d.uuid == descUUID {
			return d, nil
		}
	}
	return nil, &NotFoundError{Resource: "descriptor", UUIDs: []string{service, char, uuid}}
}

// capabilityName maps a required property bit to the name used in errors.
func capabilityName(p adapter.Property) string {
	switch p {
	case adapter.PropRead:
		return "read"
	case adapter.PropWrite:
		return "write"
	case adapter.PropWriteWithoutResponse:
		return "write_without_response"
	case adapter.PropNotify:
		return "notify"
	case adapter.PropIndicate:
		return "indicate"
	case adapter.PropNotify | adapter.PropIndicate:
		return "notify or indicate"
	case adapter.PropWrite | adapter.PropWriteWithoutResponse:
		return "write or write_without_response"
	default:
		return "requested capability"
	}
}

// resolve looks up a characteristic and validates that it supports at least
// one of the required property bits, returning its native reference. This is
// the only path operations take from logical UUIDs to native handles, so a
// CapabilityError here guarantees no native call was made.
func (cat *Catalog) resolve(service, uuid string, required adapter.Property) (*adapter.Characteristic, error) {
	char, err := cat.Characteristic(service, uuid)
	if err != nil {
		return nil, err
	}
	if required != 0 && char.native.Properties&required == 0 {
		return nil, &CapabilityError{
			Service:        char.service.uuid,
			Characteristic: char.uuid,
			Capability:     capabilityName(required),
		}
	}
	return char.native, nil
}
