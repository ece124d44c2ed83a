// Package attributes provides a static ports.AttributeLoader implementation
// and the periodic syncer that copies loader output into storage, since the
// core itself never discovers host attributes (spec.md's AttributeLoader
// port is "referenced only by its interface").
package attributes

import (
	"sync"
	"time"

	"github.com/cuemby/aurora-core/pkg/log"
	"github.com/cuemby/aurora-core/pkg/ports"
	"github.com/cuemby/aurora-core/pkg/storage"
	"github.com/cuemby/aurora-core/pkg/types"
)

// StaticLoader is a ports.AttributeLoader backed by a fixed, mutable map,
// suitable for tests and the dev harness. Production wiring would instead
// speak to whatever inventory/service-discovery system tracks hosts.
type StaticLoader struct {
	mu   sync.RWMutex
	data map[string]types.HostAttributes
}

// NewStaticLoader constructs an empty StaticLoader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{data: make(map[string]types.HostAttributes)}
}

// Set records the attributes reported for host.
func (l *StaticLoader) Set(host string, attrs types.HostAttributes) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data[host] = attrs
}

// Load implements ports.AttributeLoader.
func (l *StaticLoader) Load(host string) (types.HostAttributes, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.data[host]
	return a, ok
}

var _ ports.AttributeLoader = (*StaticLoader)(nil)

// Syncer periodically copies every host a loader knows about into storage,
// so the filter and preempter's direct storage reads see current attributes.
type Syncer struct {
	store    *storage.Store
	loader   ports.AttributeLoader
	hosts    func() []string
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSyncer constructs a Syncer. hosts supplies the set of host names to
// poll on each tick.
func NewSyncer(store *storage.Store, loader ports.AttributeLoader, hosts func() []string, interval time.Duration) *Syncer {
	return &Syncer{
		store:    store,
		loader:   loader,
		hosts:    hosts,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the periodic sync loop.
func (s *Syncer) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop halts the sync loop.
func (s *Syncer) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Syncer) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.syncOnce()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Syncer) syncOnce() {
	for _, host := range s.hosts() {
		attrs, ok := s.loader.Load(host)
		if !ok {
			continue
		}
		attrs.Host = host
		err := s.store.Write(func(mut storage.Mutator) error {
			mut.SaveAttributes(&attrs)
			return nil
		})
		if err != nil {
			log.WithComponent("attributes").Error().Err(err).Str("host", host).Msg("failed to sync host attributes")
		}
	}
}
