// Package device provides the device registry for Gray Logic Access.
//
// The registry is the catalogue of access-control terminals (door
// controllers, face terminals, turnstiles and so on) the adapter layer can
// talk to. A Device record carries identity, classification, vendor and
// wire protocol, and network location. Everything else in the service
// treats a Device as read-only.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌────────────────┐   ┌────────────────┐  ┌────────────┐  │
//	│  │    Registry    │──▶│   Repository   │  │ Validation │  │
//	│  │ (registry.go)  │   │(repository.go) │  │            │  │
//	│  │ • in-mem cache │   │ • SQLite       │  │ • type set │  │
//	│  │ • RWMutex      │   │ • RFC3339 time │  │ • ip/port  │  │
//	│  └────────────────┘   └────────────────┘  └────────────┘  │
//	└───────────────────────────────────────────────────────────┘
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	dev := &device.Device{
//	    Name:         "North Gate",
//	    Type:         device.DeviceTypeDoorController,
//	    Manufacturer: "ZKTeco",
//	    ProtocolType: device.ProtocolTCP,
//	    IPAddress:    "192.168.1.40",
//	    Port:         4370,
//	}
//	if err := registry.CreateDevice(ctx, dev); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Returned devices are
// copies, so callers may modify them freely.
package device
