package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/kioskshop/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// Actions recorded in the audit trail.
const (
	ActionPlaceOrder     = "place_order"
	ActionSettleDebt     = "settle_debt"
	ActionAddBalance     = "add_balance"
	ActionPettyCash      = "petty_cash_entry"
	ActionProductChanged = "product_changed"
)

// Event describes a committed operation. Data values must be plain strings
// or numbers; money is passed pre-formatted.
type Event struct {
	Action   string
	ActorID  string
	EntityID string
	Data     map[string]interface{}
	At       time.Time
}

// Recorder accepts events after the operation has committed. Implementations
// must not block the caller on I/O.
type Recorder interface {
	Record(e Event)
}

// Sink persists audit entries.
type Sink interface {
	Insert(ctx context.Context, log *repository.AuditLog) error
}

type Nop struct{}

func (Nop) Record(Event) {}

// auditActor drains events one at a time into the sink.
type auditActor struct {
	sink    Sink
	logger  *zap.Logger
	timeout time.Duration
}

func (a *auditActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *Event:
		c, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		err := a.sink.Insert(c, &repository.AuditLog{
			Action:    msg.Action,
			ActorID:   msg.ActorID,
			EntityID:  msg.EntityID,
			Data:      bson.M(msg.Data),
			CreatedAt: msg.At,
		})
		if err != nil {
			a.logger.Warn("Failed to write audit log",
				zap.String("action", msg.Action),
				zap.String("entity_id", msg.EntityID),
				zap.Error(err))
		}

	case *actor.Started:
		a.logger.Info("Audit actor started")

	case *actor.Stopped:
		a.logger.Info("Audit actor stopped")
	}
}

// Dispatcher is a Recorder backed by a single audit actor, so writes are
// serialised and never run on the request goroutine.
type Dispatcher struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func NewDispatcher(sink Sink, logger *zap.Logger) (*Dispatcher, error) {
	system := actor.NewActorSystem()

	props := actor.PropsFromProducer(func() actor.Actor {
		return &auditActor{
			sink:    sink,
			logger:  logger.Named("audit-actor"),
			timeout: 5 * time.Second,
		}
	})
	pid, err := system.Root.SpawnNamed(props, "audit")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn audit actor: %w", err)
	}

	return &Dispatcher{system: system, pid: pid}, nil
}

func (d *Dispatcher) Record(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	d.system.Root.Send(d.pid, &e)
}

// Close stops the actor after the events already queued are written.
func (d *Dispatcher) Close() error {
	return d.system.Root.PoisonFuture(d.pid).Wait()
}
