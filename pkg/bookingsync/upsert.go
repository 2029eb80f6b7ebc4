package bookingsync

import (
	"context"
	"time"
)

// UpserterConfig holds the optional collaborators of an Upserter
type UpserterConfig struct {
	Logger  Logger
	Metrics Metrics

	// Now stamps patches that carry no EventAt. Defaults to time.Now.
	Now func() time.Time
}

// Upserter merges partial updates into booking and subscription records.
//
// Merging is commutative and idempotent: applying the same patch twice, or two
// patches in either order, converges to the same stored record.
type Upserter struct {
	store   Store
	logger  Logger
	metrics Metrics
	now     func() time.Time
}

// NewUpserter creates an Upserter over the given store
func NewUpserter(store Store, config UpserterConfig) (*Upserter, error) {
	if store == nil {
		return nil, ErrStorageUnavailable
	}

	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Upserter{
		store:   store,
		logger:  config.Logger,
		metrics: config.Metrics,
		now:     config.Now,
	}, nil
}

// Store returns the underlying store
func (u *Upserter) Store() Store {
	return u.store
}

// UpsertBooking merges patch into the booking with the given id, creating it if needed.
// The write is skipped when the merge leaves the record unchanged.
func (u *Upserter) UpsertBooking(ctx context.Context, id string, patch BookingPatch) (*BookingUpdate, error) {
	if id == "" {
		return nil, ErrInvalidKey
	}
	if patch.EventAt.IsZero() {
		patch.EventAt = u.now()
	}
	patch.EventAt = patch.EventAt.UTC()

	var result BookingUpdate
	err := UpdateBooking(ctx, u.store, id, func(current *Booking) (*Booking, error) {
		merged := mergeBooking(current, id, patch)
		result = BookingUpdate{Current: merged}
		if current != nil {
			prev := *current
			result.Previous = &prev
			if sameBooking(prev, merged) {
				return nil, nil
			}
		}
		result.Changed = true
		return &merged, nil
	})
	if err != nil {
		u.metrics.RecordUpsert("booking", "error")
		u.logger.Error("booking upsert failed", Field{"booking_id", id}, Err(err))
		return nil, err
	}

	u.metrics.RecordUpsert("booking", upsertOutcome(result.Previous == nil, result.Changed))
	if result.Changed {
		u.logger.Debug("booking upserted",
			Field{"booking_id", id},
			Field{"payment_status", result.Current.PaymentStatus},
			Field{"email_sent", result.Current.EmailSent},
		)
	}
	return &result, nil
}

// UpsertSubscription merges patch into the subscription keyed by email, creating it if needed.
func (u *Upserter) UpsertSubscription(ctx context.Context, email string, patch SubscriptionPatch) (*SubscriptionUpdate, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidKey
	}
	if patch.EventAt.IsZero() {
		patch.EventAt = u.now()
	}
	patch.EventAt = patch.EventAt.UTC()

	var result SubscriptionUpdate
	err := UpdateSubscription(ctx, u.store, email, func(current *Subscription) (*Subscription, error) {
		merged := mergeSubscription(current, email, patch)
		result = SubscriptionUpdate{Current: merged}
		if current != nil {
			prev := *current
			result.Previous = &prev
			if sameSubscription(prev, merged) {
				return nil, nil
			}
		}
		result.Changed = true
		return &merged, nil
	})
	if err != nil {
		u.metrics.RecordUpsert("subscription", "error")
		u.logger.Error("subscription upsert failed", Field{"email", email}, Err(err))
		return nil, err
	}

	u.metrics.RecordUpsert("subscription", upsertOutcome(result.Previous == nil, result.Changed))
	if result.Changed {
		u.logger.Debug("subscription upserted",
			Field{"email", email},
			Field{"tier", result.Current.Tier},
			Field{"status", result.Current.Status},
		)
	}
	return &result, nil
}

func upsertOutcome(created, changed bool) string {
	switch {
	case created:
		return "created"
	case changed:
		return "updated"
	default:
		return "unchanged"
	}
}

func mergeBooking(current *Booking, id string, p BookingPatch) Booking {
	var b Booking
	if current != nil {
		b = *current
	}
	b.ID = id

	mergeString(&b.ClientName, p.ClientName)
	mergeString(&b.ClientEmail, p.ClientEmail)
	mergeString(&b.ClientPhone, p.ClientPhone)
	mergeString(&b.EventType, p.EventType)
	mergeString(&b.EventDate, p.EventDate)
	mergeString(&b.Venue, p.Venue)
	mergeString(&b.StartTime, p.StartTime)
	mergeString(&b.EndTime, p.EndTime)
	if p.Amount != 0 {
		b.Amount = p.Amount
	}
	mergeString(&b.Currency, p.Currency)
	mergeString(&b.PaymentMethod, p.PaymentMethod)
	mergeString(&b.PaymentID, p.PaymentID)
	mergeString(&b.SessionID, p.SessionID)
	mergeString(&b.DJEmail, NormalizeEmail(p.DJEmail))

	if paymentRank(p.PaymentStatus) > paymentRank(b.PaymentStatus) {
		b.PaymentStatus = p.PaymentStatus
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = PaymentPending
	}

	// emailSent only moves forward; the error is history once a send succeeded
	b.EmailSent = b.EmailSent || p.EmailSent
	mergeString(&b.EmailMessageID, p.EmailMessageID)
	if b.EmailSent {
		b.EmailError = ""
	} else {
		mergeString(&b.EmailError, p.EmailError)
	}

	b.CreatedAt = minTime(b.CreatedAt, p.EventAt)
	b.UpdatedAt = maxTime(b.UpdatedAt, p.EventAt)
	return b
}

func mergeSubscription(current *Subscription, email string, p SubscriptionPatch) Subscription {
	var s Subscription
	if current != nil {
		s = *current
	}
	s.Email = email

	mergeString((*string)(&s.Provider), string(p.Provider))
	mergeString(&s.CustomerID, p.CustomerID)
	mergeString(&s.SubscriptionID, p.SubscriptionID)

	s.CurrentPeriodStart = maxTime(s.CurrentPeriodStart, p.CurrentPeriodStart)
	s.CurrentPeriodEnd = maxTime(s.CurrentPeriodEnd, p.CurrentPeriodEnd)
	s.LastPaymentAt = maxTime(s.LastPaymentAt, p.LastPaymentAt)
	s.LastPaymentFailedAt = maxTime(s.LastPaymentFailedAt, p.LastPaymentFailedAt)

	if p.Status != "" || p.Tier != "" || p.PlanID != "" || !p.CancelledAt.IsZero() {
		switch {
		case p.EventAt.After(s.StatusChangedAt):
			mergeString((*string)(&s.Status), string(p.Status))
			mergeString((*string)(&s.Tier), string(p.Tier))
			mergeString(&s.PlanID, p.PlanID)
			s.CancelledAt = maxTime(s.CancelledAt, p.CancelledAt)
			s.StatusChangedAt = p.EventAt
		case p.EventAt.Equal(s.StatusChangedAt):
			// same instant: pick deterministically so delivery order does not matter
			if statusRank(p.Status) > statusRank(s.Status) {
				s.Status = p.Status
			}
			if tierRank(p.Tier) > tierRank(s.Tier) {
				s.Tier = p.Tier
			}
			if p.PlanID > s.PlanID {
				s.PlanID = p.PlanID
			}
			s.CancelledAt = maxTime(s.CancelledAt, p.CancelledAt)
		default:
			// stale event: it may only fill in what newer events left unset
			fillString((*string)(&s.Status), string(p.Status))
			fillString((*string)(&s.Tier), string(p.Tier))
			fillString(&s.PlanID, p.PlanID)
		}
	}

	s.CreatedAt = minTime(s.CreatedAt, p.EventAt)
	s.UpdatedAt = maxTime(s.UpdatedAt, p.EventAt)
	return s
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fillString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func paymentRank(s PaymentStatus) int {
	switch s {
	case PaymentPaid:
		return 3
	case PaymentFailed:
		return 2
	case PaymentPending:
		return 1
	default:
		return 0
	}
}

func statusRank(s SubscriptionStatus) int {
	switch s {
	case SubscriptionCancelled:
		return 4
	case SubscriptionSuspended:
		return 3
	case SubscriptionPastDue:
		return 2
	case SubscriptionActive:
		return 1
	default:
		return 0
	}
}

func maxTime(a, b time.Time) time.Time {
	if b.After(a) {
		return b.UTC()
	}
	if a.IsZero() {
		return a
	}
	return a.UTC()
}

func minTime(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		if b.IsZero() {
			return b
		}
		return b.UTC()
	case b.IsZero() || !b.Before(a):
		return a.UTC()
	default:
		return b.UTC()
	}
}

func sameBooking(a, b Booking) bool {
	return normalizeBookingTimes(a) == normalizeBookingTimes(b)
}

func sameSubscription(a, b Subscription) bool {
	return normalizeSubscriptionTimes(a) == normalizeSubscriptionTimes(b)
}

func normalizeBookingTimes(b Booking) Booking {
	b.CreatedAt = canonicalTime(b.CreatedAt)
	b.UpdatedAt = canonicalTime(b.UpdatedAt)
	return b
}

func normalizeSubscriptionTimes(s Subscription) Subscription {
	s.CurrentPeriodStart = canonicalTime(s.CurrentPeriodStart)
	s.CurrentPeriodEnd = canonicalTime(s.CurrentPeriodEnd)
	s.CancelledAt = canonicalTime(s.CancelledAt)
	s.LastPaymentAt = canonicalTime(s.LastPaymentAt)
	s.LastPaymentFailedAt = canonicalTime(s.LastPaymentFailedAt)
	s.StatusChangedAt = canonicalTime(s.StatusChangedAt)
	s.CreatedAt = canonicalTime(s.CreatedAt)
	s.UpdatedAt = canonicalTime(s.UpdatedAt)
	return s
}

// canonicalTime drops the monotonic reading and location so == compares instants
func canonicalTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}
