package main

import (
	"sync"
	"time"

	"github.com/cuemby/aurora-core/pkg/scheduler"
	"github.com/cuemby/aurora-core/pkg/types"
	"github.com/google/uuid"
)

// offerTicker periodically manufactures a fresh synthetic offer for the
// dev harness's single host, simulating the periodic offer stream a real
// cluster manager would push.
type offerTicker struct {
	sched *scheduler.Scheduler
	host  string
	cpu   float64
	ramMB int64

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newOfferTicker(sched *scheduler.Scheduler, host string, cpu float64, ramMB int64) *offerTicker {
	return &offerTicker{sched: sched, host: host, cpu: cpu, ramMB: ramMB, stopCh: make(chan struct{})}
}

func (o *offerTicker) start() {
	o.ticker = time.NewTicker(5 * time.Second)
	o.wg.Add(1)
	go o.run()
}

func (o *offerTicker) stop() {
	close(o.stopCh)
	o.wg.Wait()
	o.ticker.Stop()
}

func (o *offerTicker) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ticker.C:
			o.sched.OfferResources(scheduler.Offer{
				OfferID: uuid.NewString(),
				SlaveID: o.host,
				Host:    o.host,
				Resources: types.Resources{
					CPU:       o.cpu,
					RAMMB:     o.ramMB,
					DiskMB:    102400,
					FreePorts: 4,
				},
				Ports: []uint16{31000, 31001, 31002, 31003},
			})
		case <-o.stopCh:
			return
		}
	}
}
