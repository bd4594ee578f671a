package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/tableside/ordering/internal/domain"
	"github.com/tableside/ordering/internal/repositories"
)

var (
	errTrackingRecordsRequired = errors.New("tracking service: record repository is required")

	// ErrTrackingInvalidInput indicates a missing customer id.
	ErrTrackingInvalidInput = errors.New("tracking service: invalid input")
)

// Default visibility window for delivered orders. An order stays on screen
// past the floor and is gone by the ceiling; the timer fires at the midpoint.
const (
	defaultDeliveredHideFloor   = 2 * time.Minute
	defaultDeliveredHideCeiling = 5 * time.Minute
)

// TimerFunc schedules fn after d and returns a stop function. Injectable so
// tests can fire timers deterministically.
type TimerFunc func(d time.Duration, fn func()) (stop func())

// TrackingServiceDeps wires the realtime order tracking feed.
type TrackingServiceDeps struct {
	Records repositories.CustomerRecordRepository

	// DeliveredHideFloor and DeliveredHideCeiling bound how long a
	// delivered order remains visible. Zero values take the defaults.
	DeliveredHideFloor   time.Duration
	DeliveredHideCeiling time.Duration

	Clock  func() time.Time
	Timer  TimerFunc
	Logger func(context.Context, string, map[string]any)
}

type trackingService struct {
	records   repositories.CustomerRecordRepository
	hideAfter time.Duration
	ceiling   time.Duration
	clock     func() time.Time
	timer     TimerFunc
	logger    func(context.Context, string, map[string]any)
}

// NewTrackingService constructs a TrackingService enforcing dependency validation.
func NewTrackingService(deps TrackingServiceDeps) (TrackingService, error) {
	if deps.Records == nil {
		return nil, errTrackingRecordsRequired
	}

	floor := deps.DeliveredHideFloor
	if floor <= 0 {
		floor = defaultDeliveredHideFloor
	}
	ceiling := deps.DeliveredHideCeiling
	if ceiling <= floor {
		ceiling = defaultDeliveredHideCeiling
		if ceiling <= floor {
			ceiling = floor * 2
		}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	timer := deps.Timer
	if timer == nil {
		timer = func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &trackingService{
		records:   deps.Records,
		hideAfter: floor + (ceiling-floor)/2,
		ceiling:   ceiling,
		clock:     func() time.Time { return clock().UTC() },
		timer:     timer,
		logger:    logger,
	}, nil
}

// deliveredEntry tracks when an order was first seen delivered and the timer
// that will remove it from view.
type deliveredEntry struct {
	at   time.Time
	stop func()
}

type trackingFeed struct {
	svc        *trackingService
	ctx        context.Context
	customerID string
	out        chan []domain.TrackedOrder

	mu        sync.Mutex
	orders    []domain.Order
	delivered map[string]*deliveredEntry
	expired   map[string]bool
	closed    bool
}

// Start subscribes to the customer's record and streams tracked snapshots.
func (s *trackingService) Start(ctx context.Context, customerID string) (<-chan []domain.TrackedOrder, error) {
	if customerID == "" {
		return nil, ErrTrackingInvalidInput
	}

	events, err := s.records.Watch(ctx, customerID)
	if err != nil {
		return nil, err
	}

	feed := &trackingFeed{
		svc:        s,
		ctx:        ctx,
		customerID: customerID,
		out:        make(chan []domain.TrackedOrder, 1),
		delivered:  make(map[string]*deliveredEntry),
		expired:    make(map[string]bool),
	}
	go feed.run(events)
	return feed.out, nil
}

func (f *trackingFeed) run(events <-chan repositories.CustomerRecordEvent) {
	defer f.close()

	for event := range events {
		if event.Err != nil {
			f.svc.logger(f.ctx, "tracking.watch_error", map[string]any{
				"customerId": f.customerID,
				"error":      event.Err.Error(),
			})
			return
		}

		f.mu.Lock()
		if event.Exists {
			f.orders = event.Record.Orders
		} else {
			f.orders = nil
		}
		f.reconcileDeliveredLocked()
		f.emitLocked(f.snapshotLocked())
		f.mu.Unlock()
	}
}

// reconcileDeliveredLocked arms hide timers for newly delivered orders and
// clears timers for orders that left the feed. Orders already hidden by a
// fired timer stay hidden across snapshots, since the remote record keeps
// listing them as delivered.
func (f *trackingFeed) reconcileDeliveredLocked() {
	now := f.svc.clock()
	seen := make(map[string]bool, len(f.orders))

	for _, order := range f.orders {
		seen[order.ID] = true
		if domain.DisplayStatus(string(order.Status)) != domain.OrderStatusDelivered {
			delete(f.expired, order.ID)
			if entry, ok := f.delivered[order.ID]; ok {
				entry.stop()
				delete(f.delivered, order.ID)
			}
			continue
		}
		if f.expired[order.ID] {
			continue
		}
		if _, ok := f.delivered[order.ID]; ok {
			continue
		}

		orderID := order.ID
		entry := &deliveredEntry{at: now}
		entry.stop = f.svc.timer(f.svc.hideAfter, func() { f.expire(orderID) })
		f.delivered[orderID] = entry
	}

	for id, entry := range f.delivered {
		if !seen[id] {
			entry.stop()
			delete(f.delivered, id)
		}
	}
	for id := range f.expired {
		if !seen[id] {
			delete(f.expired, id)
		}
	}
}

// expire hides one delivered order when its timer fires. The id is kept as
// a tombstone so later snapshots cannot resurrect the order.
func (f *trackingFeed) expire(orderID string) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if entry, ok := f.delivered[orderID]; ok {
		entry.stop()
		delete(f.delivered, orderID)
	}
	f.expired[orderID] = true
	f.emitLocked(f.snapshotLocked())
	f.mu.Unlock()
}

// snapshotLocked maps the raw orders to the read-only tracked view, newest first.
func (f *trackingFeed) snapshotLocked() []domain.TrackedOrder {
	tracked := make([]domain.TrackedOrder, 0, len(f.orders))
	for _, order := range f.orders {
		if f.expired[order.ID] {
			continue
		}
		view := domain.TrackedOrder{
			Order:         order,
			DisplayStatus: domain.DisplayStatus(string(order.Status)),
		}
		if entry, ok := f.delivered[order.ID]; ok {
			at := entry.at
			view.DeliveredAt = &at
		}
		tracked = append(tracked, view)
	}
	sort.SliceStable(tracked, func(i, j int) bool {
		return tracked[i].Order.CreatedAt.After(tracked[j].Order.CreatedAt)
	})
	return tracked
}

// emitLocked replaces any unconsumed snapshot; consumers only care about the
// latest. Never blocks, so holding the mutex across it is safe.
func (f *trackingFeed) emitLocked(snapshot []domain.TrackedOrder) {
	for {
		select {
		case f.out <- snapshot:
			return
		default:
			select {
			case <-f.out:
			default:
			}
		}
	}
}

func (f *trackingFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for id, entry := range f.delivered {
		entry.stop()
		delete(f.delivered, id)
	}
	close(f.out)
}
