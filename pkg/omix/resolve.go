package omix

import (
	"fmt"
	"strings"

	"github.com/fako1024/gatt"
)

const (
	// The analyzer advertises one of two service UUIDs depending on whether
	// it was last paired with the vendor SDK or the official app. Both are
	// 16-bit codes that may appear in their 128-bit Bluetooth base UUID
	// expansion as well.
	sdkService16 uint16 = 0x00FF
	appService16 uint16 = 0xFF00

	// Documented default characteristic for both write and notify; firmware
	// revisions without it fall back to capability-based discovery.
	dataCharacteristic16 uint16 = 0xFF01
)

var (
	sdkServiceUUIDs = []gatt.UUID{
		gatt.UUID16(sdkService16),
		gatt.MustParseUUID("000000ff-0000-1000-8000-00805f9b34fb"),
	}
	appServiceUUIDs = []gatt.UUID{
		gatt.UUID16(appService16),
		gatt.MustParseUUID("0000ff00-0000-1000-8000-00805f9b34fb"),
	}
	dataCharacteristicUUIDs = []gatt.UUID{
		gatt.UUID16(dataCharacteristic16),
		gatt.MustParseUUID("0000ff01-0000-1000-8000-00805f9b34fb"),
	}

	// Advertised name fallback for firmware that omits the service UUIDs
	// from its advertisement
	productNameSubstrings = []string{"Omix", "DiFluid"}
)

func uuidIn(u gatt.UUID, candidates []gatt.UUID) bool {
	for _, candidate := range candidates {
		if u.Equal(candidate) {
			return true
		}
	}
	return false
}

func isAnalyzerServiceUUID(u gatt.UUID) bool {
	return uuidIn(u, sdkServiceUUIDs) || uuidIn(u, appServiceUUIDs)
}

func isAnalyzerName(name string) bool {
	for _, substr := range productNameSubstrings {
		if strings.Contains(strings.ToLower(name), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

// identifyAnalyzer applies the two-tier identification heuristic to one
// advertisement: (1) any advertised service UUID matching either known
// service code, (2) fallback on the advertised name containing a product
// name substring. Advertisement data is inconsistent across firmware / app
// pairings, hence the fallback.
func identifyAnalyzer(a *gatt.Advertisement, peripheralName string) bool {
	if a != nil {
		for _, svc := range a.Services {
			if isAnalyzerServiceUUID(svc) {
				return true
			}
		}
		for _, svc := range a.OverflowService {
			if isAnalyzerServiceUUID(svc) {
				return true
			}
		}
		if isAnalyzerName(a.LocalName) {
			return true
		}
	}

	return isAnalyzerName(peripheralName)
}

// resolveService picks the usable GATT service, preferring the SDK service
// over the official-app one. If neither is present the connection cannot be
// used and the error names every discovered service UUID.
func resolveService(services []*gatt.Service) (*gatt.Service, error) {
	for _, s := range services {
		if uuidIn(s.UUID(), sdkServiceUUIDs) {
			return s, nil
		}
	}
	for _, s := range services {
		if uuidIn(s.UUID(), appServiceUUIDs) {
			return s, nil
		}
	}

	available := make([]string, len(services))
	for i, s := range services {
		available[i] = s.UUID().String()
	}

	return nil, fmt.Errorf("no analyzer service found, available services: [%s]",
		strings.Join(available, " "))
}

// resolveCharacteristics picks the write and notify characteristics within
// the resolved service. The documented default UUID is preferred for both;
// otherwise the first characteristic advertising a matching capability is
// used. Write and notify may resolve to the same characteristic.
//
// No characteristic outside the resolved service may ever be subscribed:
// subscribing on the non-preferred service redirects the device's responses
// to an unrelated, encrypted channel and breaks the integration.
func resolveCharacteristics(cs []*gatt.Characteristic) (write, notify *gatt.Characteristic, err error) {
	for _, c := range cs {
		if uuidIn(c.UUID(), dataCharacteristicUUIDs) {
			if write == nil && c.Properties()&(gatt.CharWrite|gatt.CharWriteNR) != 0 {
				write = c
			}
			if notify == nil && c.Properties()&(gatt.CharNotify|gatt.CharIndicate) != 0 {
				notify = c
			}
		}
	}

	for _, c := range cs {
		if write == nil && c.Properties()&(gatt.CharWrite|gatt.CharWriteNR) != 0 {
			write = c
		}
		if notify == nil && c.Properties()&(gatt.CharNotify|gatt.CharIndicate) != 0 {
			notify = c
		}
	}

	if write == nil || notify == nil {
		return nil, nil, fmt.Errorf("failed to resolve write/notify characteristics, discovered: [%s]",
			describeCharacteristics(cs))
	}

	return write, notify, nil
}

func describeCharacteristics(cs []*gatt.Characteristic) string {
	described := make([]string, len(cs))
	for i, c := range cs {
		described[i] = fmt.Sprintf("%s(%s)", c.UUID().String(), c.Properties().String())
	}
	return strings.Join(described, " ")
}
