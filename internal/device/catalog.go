package device

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bluezctl/internal/bluez"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Characteristic is one GattCharacteristic1 object of the connected device.
type Characteristic struct {
	UUID    string `json:"uuid"`
	Path    string `json:"path"`
	Service string `json:"service,omitempty"`

	// Flags is filled by Catalog.List. FlagsErr holds the per-entry fetch failure.
	Flags    []string `json:"flags"`
	FlagsErr error    `json:"-"`
}

// Properties returns the standard property bits of the fetched Flags.
func (c Characteristic) Properties() ble.Property {
	return ParseFlags(c.Flags)
}

// Catalog indexes the characteristics under the connected device's subtree.
//
// Entries are keyed by object path in path order; UUIDs are not assumed to be
// unique, see Resolve. The dispatch goroutine reads the Catalog concurrently
// with the controlling caller, so access is guarded.
type Catalog struct {
	dir    *bluez.Directory
	bus    bluez.Bus
	settle time.Duration
	logger *logrus.Logger

	mu      sync.RWMutex
	entries *orderedmap.OrderedMap[string, Characteristic]
}

// NewCatalog creates an empty Catalog. settleDelay is waited before each
// discovery snapshot to let bluetoothd finish resolving services.
func NewCatalog(bus bluez.Bus, dir *bluez.Directory, settleDelay time.Duration, logger *logrus.Logger) *Catalog {
	if logger == nil {
		logger = logrus.New()
	}
	return &Catalog{
		dir:     dir,
		bus:     bus,
		settle:  settleDelay,
		logger:  logger,
		entries: orderedmap.New[string, Characteristic](),
	}
}

// Discover replaces the catalog with every characteristic below devicePath.
// It is a full re-scan: one settle delay then one snapshot. When the snapshot
// fails the previous catalog is left intact.
func (c *Catalog) Discover(ctx context.Context, devicePath string) (int, error) {
	if err := Wait(ctx, c.settle); err != nil {
		return 0, err
	}

	snap, err := c.dir.Snapshot(ctx)
	if err != nil {
		return 0, err
	}

	prefix := devicePath + "/"
	entries := orderedmap.New[string, Characteristic]()
	for _, p := range snap.Paths() {
		if !strings.HasPrefix(p, prefix) || !snap.Implements(p, bluez.GattCharacteristicInterface) {
			continue
		}
		props := snap[p][bluez.GattCharacteristicInterface]
		ch := Characteristic{Path: p}
		ch.UUID, _ = props["UUID"].AsString()
		ch.Service, _ = props["Service"].AsString()
		entries.Set(p, ch)
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"device":          devicePath,
		"characteristics": entries.Len(),
	}).Info("Characteristics discovered")
	return entries.Len(), nil
}

// List returns the characteristics in path order with their Flags fetched.
// A failed fetch is recorded on that entry only.
func (c *Catalog) List(ctx context.Context) []Characteristic {
	out := c.entriesSnapshot()
	for i := range out {
		c.fetchFlags(ctx, &out[i])
	}
	return out
}

// Describe resolves id like Resolve and fetches the entry's Flags.
func (c *Catalog) Describe(ctx context.Context, id string) (Characteristic, error) {
	ch, err := c.Resolve(id)
	if err != nil {
		return Characteristic{}, err
	}
	c.fetchFlags(ctx, &ch)
	return ch, nil
}

func (c *Catalog) fetchFlags(ctx context.Context, ch *Characteristic) {
	flags, err := bluez.NewCharacteristicObject(c.bus, ch.Path).Flags(ctx)
	if err != nil {
		c.logger.WithError(err).WithField("path", ch.Path).Warn("Failed to read characteristic flags")
		ch.FlagsErr = err
		return
	}
	ch.Flags = flags
}

// Resolve maps id to a characteristic. id is either a full object path or a
// UUID in any common notation (16-bit short forms match their 128-bit SIG form).
// A UUID shared by several characteristics yields an *AmbiguousError.
func (c *Catalog) Resolve(id string) (Characteristic, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if strings.HasPrefix(id, "/") {
		if ch, ok := c.entries.Get(id); ok {
			return ch, nil
		}
		return Characteristic{}, &NotFoundError{Resource: "characteristic", ID: id}
	}

	var matches []Characteristic
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		if SameUUID(pair.Value.UUID, id) {
			matches = append(matches, pair.Value)
		}
	}

	switch len(matches) {
	case 0:
		return Characteristic{}, &NotFoundError{Resource: "characteristic", ID: id}
	case 1:
		return matches[0], nil
	default:
		paths := make([]string, len(matches))
		for i, m := range matches {
			paths[i] = m.Path
		}
		return Characteristic{}, &AmbiguousError{UUID: id, Paths: paths}
	}
}

// Contains reports whether path is a current catalog entry.
func (c *Catalog) Contains(path string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries.Get(path)
	return ok
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Len()
}

// Clear drops every entry.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.entries = orderedmap.New[string, Characteristic]()
	c.mu.Unlock()
}

func (c *Catalog) entriesSnapshot() []Characteristic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Characteristic, 0, c.entries.Len())
	for pair := c.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
