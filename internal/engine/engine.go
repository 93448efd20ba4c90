// Package engine runs one delivery job: select a user's unpushed in-filter
// properties, push their owners as contacts, push the properties, associate
// the two, across every configured destination account in order. Entity
// failures are isolated; only missing settings and destination auth
// failures abort a job.
package engine

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/config"
	"github.com/oakmont/leadpipe/internal/domain"
	"github.com/oakmont/leadpipe/internal/ghl"
)

// Store is the slice of persistence the engine needs. *storage.Store
// satisfies it; tests use fakes.
type Store interface {
	GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	SelectDeliverableProperties(ctx context.Context, userID string, st *domain.UserSettings, limit int) ([]*domain.Property, error)
	BackfillContactExternalID(ctx context.Context, contactID, ghlContactID string) error
	MarkPropertyPushed(ctx context.Context, propertyID, ghlPropertyID string) error
	UpsertJobProgress(ctx context.Context, jobID string, p domain.Progress) error
}

// Destination is one account's CRM surface. *ghl.Client satisfies it.
type Destination interface {
	Account() config.Account
	FindContactByEmailOrPhone(ctx context.Context, email, phone string) (string, error)
	CreateContact(ctx context.Context, payload map[string]any) (string, error)
	FindPropertyByAddress(ctx context.Context, address string) (string, error)
	CreateProperty(ctx context.Context, payload map[string]any) (string, error)
	EnsureAssociation(ctx context.Context, contactID, propertyID string) bool
}

// AccountReport is the per-account outcome summary logged at the end of a
// job and rolled into the worker's structured logs.
type AccountReport struct {
	Account           string
	ContactsFound     int
	ContactsCreated   int
	ContactsSkipped   int
	ContactsFailed    int
	PropertiesFound   int
	PropertiesPushed  int
	PropertiesSkipped int
	PropertiesFailed  int
	Associations      int
}

type Report struct {
	UserID   string
	Selected int
	Accounts []AccountReport
}

type Engine struct {
	store        Store
	destinations []Destination
	log          *zap.Logger
}

// New wires the engine. destinations is the ordered account list; the
// first entry is the primary account and the only one allowed to write
// local pushed flags.
func New(store Store, destinations []Destination, log *zap.Logger) *Engine {
	return &Engine{store: store, destinations: destinations, log: log.Named("engine")}
}

// Deliver runs the state machine for one job. The returned error means the
// whole job failed and the queue's retry policy takes over.
func (e *Engine) Deliver(ctx context.Context, job *domain.Job) (*Report, error) {
	payload, err := job.DecodePayload()
	if err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	log := e.log.With(zap.String("jobId", job.ID), zap.String("userId", payload.UserID))

	settings, err := e.store.GetUserSettings(ctx, payload.UserID)
	if err != nil {
		return nil, errors.Wrapf(err, "load settings for user %s", payload.UserID)
	}

	// Batched jobs each take the next batchSize unpushed rows. No offset:
	// earlier batches shrink the unpushed set as they complete, and the
	// search-then-create dedup makes any overlap between concurrent
	// batches idempotent.
	limit := payload.BatchSize
	if limit <= 0 && settings.PlanLimit > 0 {
		limit = settings.PlanLimit
	}
	properties, err := e.store.SelectDeliverableProperties(ctx, payload.UserID, settings, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select properties")
	}

	report := &Report{UserID: payload.UserID, Selected: len(properties)}
	if len(properties) == 0 {
		log.Info("no deliverable properties, job is a no-op")
		return report, nil
	}

	owners, representative := deriveOwners(properties)
	log.Info("delivery set selected",
		zap.Int("properties", len(properties)),
		zap.Int("owners", len(owners)),
		zap.Int("accounts", len(e.destinations)))

	progress := domain.Progress{Total: len(properties) * len(e.destinations), Status: string(domain.JobInProgress)}

	for i, dest := range e.destinations {
		primary := i == 0
		ar := AccountReport{Account: dest.Account().Name}

		contactIDs, err := e.pushContacts(ctx, dest, primary, owners, representative, &ar, log)
		if err != nil {
			return report, err
		}
		if err := e.pushProperties(ctx, dest, primary, properties, contactIDs, &ar, &progress, job.ID, log); err != nil {
			return report, err
		}

		report.Accounts = append(report.Accounts, ar)
		log.Info("account delivery finished",
			zap.String("account", ar.Account),
			zap.Int("contactsFound", ar.ContactsFound),
			zap.Int("contactsCreated", ar.ContactsCreated),
			zap.Int("contactsSkipped", ar.ContactsSkipped),
			zap.Int("contactsFailed", ar.ContactsFailed),
			zap.Int("propertiesFound", ar.PropertiesFound),
			zap.Int("propertiesPushed", ar.PropertiesPushed),
			zap.Int("propertiesSkipped", ar.PropertiesSkipped),
			zap.Int("propertiesFailed", ar.PropertiesFailed),
			zap.Int("associations", ar.Associations))
	}

	progress.Status = string(domain.JobCompleted)
	if err := e.store.UpsertJobProgress(ctx, job.ID, progress); err != nil {
		log.Warn("final progress update failed", zap.Error(err))
	}
	return report, nil
}

// deriveOwners walks the selected properties in order and collects each
// distinct owner once, together with the first property it owns in batch
// order. That first property is the representative whose fields populate
// the contact payload; when a contact owns several differing properties the
// later ones do not contribute, matching how these records have always
// been delivered.
func deriveOwners(properties []*domain.Property) ([]*domain.Contact, map[string]*domain.Property) {
	var owners []*domain.Contact
	representative := make(map[string]*domain.Property)
	for _, p := range properties {
		if p.Owner == nil {
			continue
		}
		if _, seen := representative[p.Owner.ID]; seen {
			continue
		}
		representative[p.Owner.ID] = p
		owners = append(owners, p.Owner)
	}
	return owners, representative
}

// pushContacts resolves an external contact id per owner for one account.
// Each owner is attempted at most once regardless of how many selected
// properties it owns. The returned map only holds owners that resolved; a
// missing entry tells pushProperties to skip that owner's properties.
func (e *Engine) pushContacts(ctx context.Context, dest Destination, primary bool,
	owners []*domain.Contact, representative map[string]*domain.Property,
	ar *AccountReport, log *zap.Logger) (map[string]string, error) {

	locationID := dest.Account().LocationID
	contactIDs := make(map[string]string, len(owners))

	for _, owner := range owners {
		clog := log.With(zap.String("account", ar.Account), zap.String("contactId", owner.ID))

		// Primary already delivered this owner on an earlier run; reuse the
		// stored id instead of searching again.
		if primary && owner.Pushed && owner.GHLContactID != nil && *owner.GHLContactID != "" {
			contactIDs[owner.ID] = *owner.GHLContactID
			ar.ContactsFound++
			continue
		}

		if !owner.Reachable() {
			clog.Debug("contact has neither email nor phone, skipping")
			ar.ContactsSkipped++
			continue
		}

		email, phone := deref(owner.Email), deref(owner.Phone)
		extID, err := dest.FindContactByEmailOrPhone(ctx, email, phone)
		if err != nil {
			if errors.Is(err, ghl.ErrUnauthorized) {
				return nil, errors.Wrapf(err, "account %s", ar.Account)
			}
			clog.Warn("contact search failed, skipping contact", zap.Error(err))
			ar.ContactsFailed++
			continue
		}

		if extID != "" {
			contactIDs[owner.ID] = extID
			ar.ContactsFound++
			if primary && !owner.Pushed {
				if err := e.store.BackfillContactExternalID(ctx, owner.ID, extID); err != nil {
					clog.Warn("contact external-id backfill failed", zap.Error(err))
				}
			}
			continue
		}

		payload := ghl.ContactPayload(locationID, owner, representative[owner.ID], nil)
		extID, err = dest.CreateContact(ctx, payload)
		if err != nil {
			if errors.Is(err, ghl.ErrUnauthorized) {
				return nil, errors.Wrapf(err, "account %s", ar.Account)
			}
			clog.Warn("contact create failed, skipping contact", zap.Error(err))
			ar.ContactsFailed++
			continue
		}
		contactIDs[owner.ID] = extID
		ar.ContactsCreated++
		if primary {
			if err := e.store.BackfillContactExternalID(ctx, owner.ID, extID); err != nil {
				clog.Warn("contact external-id backfill failed", zap.Error(err))
			}
		}
	}
	return contactIDs, nil
}

// pushProperties pushes and associates each selected property for one
// account. Local pushed flags are written only on the primary pass; a
// property counts as delivered once the primary account has it, whatever
// the secondary accounts do.
func (e *Engine) pushProperties(ctx context.Context, dest Destination, primary bool,
	properties []*domain.Property, contactIDs map[string]string,
	ar *AccountReport, progress *domain.Progress, jobID string, log *zap.Logger) error {

	locationID := dest.Account().LocationID

	for _, p := range properties {
		plog := log.With(zap.String("account", ar.Account), zap.String("propertyId", p.ID))

		progress.Processed++
		if err := e.store.UpsertJobProgress(ctx, jobID, *progress); err != nil {
			plog.Warn("progress update failed", zap.Error(err))
		}

		if p.OwnerID == nil {
			plog.Debug("property has no owner, skipping")
			ar.PropertiesSkipped++
			continue
		}
		ownerExt, ok := contactIDs[*p.OwnerID]
		if !ok {
			plog.Debug("owner push failed or was skipped for this account, skipping property")
			ar.PropertiesSkipped++
			continue
		}

		existingID, err := dest.FindPropertyByAddress(ctx, p.FullAddress())
		if err != nil {
			if errors.Is(err, ghl.ErrUnauthorized) {
				return errors.Wrapf(err, "account %s", ar.Account)
			}
			plog.Warn("property search failed, skipping property", zap.Error(err))
			ar.PropertiesFailed++
			continue
		}
		if existingID != "" {
			// Already on the destination; do not recreate, but still make
			// sure the relation exists.
			ar.PropertiesFound++
			if dest.EnsureAssociation(ctx, ownerExt, existingID) {
				ar.Associations++
			}
			continue
		}

		newID, err := dest.CreateProperty(ctx, ghl.PropertyPayload(locationID, p))
		if err != nil {
			if errors.Is(err, ghl.ErrUnauthorized) {
				return errors.Wrapf(err, "account %s", ar.Account)
			}
			plog.Warn("property create failed, skipping property", zap.Error(err))
			ar.PropertiesFailed++
			continue
		}
		ar.PropertiesPushed++

		if newID == "" {
			// Created but the response shape hid the id; without it there is
			// nothing to persist or associate.
			plog.Warn("property created without a known id, leaving unpushed")
			continue
		}
		if primary {
			if err := e.store.MarkPropertyPushed(ctx, p.ID, newID); err != nil {
				plog.Warn("pushed flag update failed", zap.Error(err))
			}
		}
		if dest.EnsureAssociation(ctx, ownerExt, newID) {
			ar.Associations++
		}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
