package goble

import (
	"context"
	"strings"
	"sync"

	"github.com/go-ble/ble"

	"github.com/srg/blex/internal/explorer"
	"github.com/srg/blex/internal/groutine"
)

// link is one dial or established connection. Its context bounds the dial,
// the request queue, and the disconnect monitor.
type link struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	jobs   *groutine.Queue
	gone   sync.Once

	mu       sync.Mutex
	client   ble.Client
	closing  bool
	services map[string]*ble.Service
	chars    map[string]*ble.Characteristic
	descs    map[string]*ble.Descriptor
}

func newLink(parent context.Context, id string, backlog int) *link {
	ctx, cancel := context.WithCancel(parent)
	return &link{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		jobs:     groutine.NewQueue(ctx, "goble-link", backlog),
		services: make(map[string]*ble.Service),
		chars:    make(map[string]*ble.Characteristic),
		descs:    make(map[string]*ble.Descriptor),
	}
}

// attach stores the dialled client. Returns false if the link was cancelled meanwhile.
func (l *link) attach(c ble.Client) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil || l.closing {
		return false
	}
	l.client = c
	return true
}

// beginClose marks the link as closing on request and returns the client, or nil while dialing.
func (l *link) beginClose() ble.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closing = true
	return l.client
}

func (l *link) isClosing() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closing
}

func (l *link) currentClient() ble.Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

func attrKey(parts ...string) string {
	return strings.Join(parts, "/")
}

func (l *link) service(uuid string) (*ble.Service, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.services[explorer.NormalizeUUID(uuid)]
	return s, ok
}

func (l *link) characteristic(service, uuid string) (*ble.Characteristic, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.chars[attrKey(explorer.NormalizeUUID(service), explorer.NormalizeUUID(uuid))]
	return c, ok
}

func (l *link) descriptor(service, characteristic, uuid string) (*ble.Descriptor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.descs[attrKey(explorer.NormalizeUUID(service), explorer.NormalizeUUID(characteristic), explorer.NormalizeUUID(uuid))]
	return d, ok
}

// storeServices replaces the known services and forgets everything below them.
func (l *link) storeServices(services []*ble.Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = make(map[string]*ble.Service, len(services))
	l.chars = make(map[string]*ble.Characteristic)
	l.descs = make(map[string]*ble.Descriptor)
	for _, s := range services {
		l.services[explorer.NormalizeUUID(s.UUID.String())] = s
	}
}

func (l *link) storeCharacteristics(service string, chars []*ble.Characteristic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := explorer.NormalizeUUID(service)
	for _, c := range chars {
		l.chars[attrKey(prefix, explorer.NormalizeUUID(c.UUID.String()))] = c
	}
}

func (l *link) storeDescriptors(service, characteristic string, descs []*ble.Descriptor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := attrKey(explorer.NormalizeUUID(service), explorer.NormalizeUUID(characteristic))
	for _, d := range descs {
		l.descs[attrKey(prefix, explorer.NormalizeUUID(d.UUID.String()))] = d
	}
}
