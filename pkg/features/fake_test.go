package features

import (
	"context"
	"errors"
	"sync"
	"time"
)

type storeKey struct {
	entityType  EntityType
	entityValue string
	category    string
}

// memStore is an in-memory Store that counts calls per category
type memStore struct {
	mu      sync.Mutex
	records map[storeKey]Record
	gets    map[string]int
	puts    int
	getErr  map[string]error
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[storeKey]Record),
		gets:    make(map[string]int),
		getErr:  make(map[string]error),
	}
}

func (m *memStore) Get(ctx context.Context, entityType EntityType, entityValue, category string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets[category]++
	if err := m.getErr[category]; err != nil {
		return nil, err
	}
	rec, ok := m.records[storeKey{entityType, entityValue, category}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := rec
	cp.Data = make(map[string]interface{}, len(rec.Data))
	for k, v := range rec.Data {
		cp.Data[k] = v
	}
	return &cp, nil
}

func (m *memStore) Put(ctx context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.putErr != nil {
		return m.putErr
	}
	m.records[storeKey{record.EntityType, record.EntityValue, record.Category}] = *record
	return nil
}

func (m *memStore) totalGets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.gets {
		n += c
	}
	return n
}

func (m *memStore) getsFor(category string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets[category]
}

// stepClock advances by step on every call
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{
		now:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		step: time.Second,
	}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []FeatureAvailableEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event FeatureAvailableEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type panickingPublisher struct{}

func (panickingPublisher) Publish(context.Context, FeatureAvailableEvent) error {
	panic("broker client bug")
}

var errUnreachable = errors.New("dynamodb: connection refused")
