package bloodbank

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hemovault/hemovault/internal/platform/audit"
	"github.com/hemovault/hemovault/internal/platform/db"
	"github.com/hemovault/hemovault/internal/platform/notification"
)

// Deps bundles the repositories and platform collaborators shared by the
// blood bank services. Tests swap in memory implementations.
type Deps struct {
	Units        UnitRepository
	Groupings    GroupingRepository
	TTI          TTIRepository
	Equipment    EquipmentRepository
	TempLogs     TempLogRepository
	Slots        SlotRepository
	Facilities   FacilityRepository
	Patients     PatientRepository
	Requests     RequestRepository
	Samples      SampleRepository
	CrossMatches CrossMatchRepository
	Issues       IssueRepository
	Transfusions TransfusionRepository
	Reactions    ReactionRepository
	MTP          MTPRepository

	Audit    audit.Sink
	Notifier notification.Sink
	Tx       db.TxRunner
	Log      zerolog.Logger

	// Now is the clock; tests pin it.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// audit failures never fail the operation that produced them.
func (d *Deps) recordAudit(ctx context.Context, e *audit.Event) {
	if d.Audit == nil {
		return
	}
	if err := d.Audit.Record(ctx, e); err != nil {
		d.Log.Error().Err(err).Str("action", e.Action).Msg("audit record failed")
	}
}

func (d *Deps) notify(ctx context.Context, n *notification.Notification) {
	if d.Notifier == nil {
		return
	}
	if err := d.Notifier.Notify(ctx, n); err != nil {
		d.Log.Error().Err(err).Str("title", n.Title).Msg("notification delivery failed")
	}
}

func (d *Deps) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if d.Tx == nil {
		return fn(ctx)
	}
	return d.Tx.InTx(ctx, fn)
}
