package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/config"
	"github.com/oakmont/leadpipe/internal/domain"
	"github.com/oakmont/leadpipe/internal/ghl"
)

func s(v string) *string { return &v }

type fakeStore struct {
	settings    *domain.UserSettings
	settingsErr error
	properties  []*domain.Property

	backfilled map[string]string
	pushed     map[string]string
	progress   []domain.Progress
}

func newFakeStore(settings *domain.UserSettings, props []*domain.Property) *fakeStore {
	return &fakeStore{
		settings:   settings,
		properties: props,
		backfilled: map[string]string{},
		pushed:     map[string]string{},
	}
}

func (f *fakeStore) GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	if f.settingsErr != nil {
		return nil, f.settingsErr
	}
	return f.settings, nil
}

// SelectDeliverableProperties mirrors the store contract: oldest unpushed
// rows first, at most limit of them, no offset.
func (f *fakeStore) SelectDeliverableProperties(ctx context.Context, userID string, st *domain.UserSettings, limit int) ([]*domain.Property, error) {
	var out []*domain.Property
	for _, p := range f.properties {
		if p.Pushed {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) BackfillContactExternalID(ctx context.Context, contactID, ghlContactID string) error {
	f.backfilled[contactID] = ghlContactID
	return nil
}

func (f *fakeStore) MarkPropertyPushed(ctx context.Context, propertyID, ghlPropertyID string) error {
	f.pushed[propertyID] = ghlPropertyID
	for _, p := range f.properties {
		if p.ID == propertyID {
			p.Pushed = true
		}
	}
	return nil
}

func (f *fakeStore) UpsertJobProgress(ctx context.Context, jobID string, p domain.Progress) error {
	f.progress = append(f.progress, p)
	return nil
}

type fakeDest struct {
	account config.Account

	findContact    func(email, phone string) (string, error)
	createContact  func(payload map[string]any) (string, error)
	findProperty   func(address string) (string, error)
	createProperty func(payload map[string]any) (string, error)
	associate      func(contactID, propertyID string) bool

	contactSearches int
	contactCreates  int
	propertyCreates int
	associations    [][2]string
}

func newFakeDest(name string) *fakeDest {
	d := &fakeDest{account: config.Account{Name: name, LocationID: "loc-" + name, APIToken: "tok"}}
	d.findContact = func(email, phone string) (string, error) { return "", nil }
	d.createContact = func(payload map[string]any) (string, error) {
		return fmt.Sprintf("%s-contact-%d", name, d.contactCreates), nil
	}
	d.findProperty = func(address string) (string, error) { return "", nil }
	d.createProperty = func(payload map[string]any) (string, error) {
		return fmt.Sprintf("%s-prop-%d", name, d.propertyCreates), nil
	}
	d.associate = func(contactID, propertyID string) bool { return true }
	return d
}

func (d *fakeDest) Account() config.Account { return d.account }

func (d *fakeDest) FindContactByEmailOrPhone(ctx context.Context, email, phone string) (string, error) {
	d.contactSearches++
	return d.findContact(email, phone)
}

func (d *fakeDest) CreateContact(ctx context.Context, payload map[string]any) (string, error) {
	d.contactCreates++
	return d.createContact(payload)
}

func (d *fakeDest) FindPropertyByAddress(ctx context.Context, address string) (string, error) {
	return d.findProperty(address)
}

func (d *fakeDest) CreateProperty(ctx context.Context, payload map[string]any) (string, error) {
	d.propertyCreates++
	return d.createProperty(payload)
}

func (d *fakeDest) EnsureAssociation(ctx context.Context, contactID, propertyID string) bool {
	ok := d.associate(contactID, propertyID)
	if ok {
		d.associations = append(d.associations, [2]string{contactID, propertyID})
	}
	return ok
}

func testJob(t *testing.T) *domain.Job {
	t.Helper()
	payload, err := domain.JobPayload{
		RunID:      "run-1",
		IngestedAt: time.Now(),
		UserID:     "user-1",
	}.Marshal()
	require.NoError(t, err)
	return &domain.Job{ID: "job-1", Type: domain.JobTypeDeliverLeads, Payload: payload}
}

func defaultSettings() *domain.UserSettings {
	return &domain.UserSettings{UserID: "user-1", ZipCodes: []string{"62701"}}
}

func owner(id string) *domain.Contact {
	return &domain.Contact{ID: id, Email: s(id + "@example.com"), Phone: s("+15550000")}
}

func prop(id string, c *domain.Contact) *domain.Property {
	p := &domain.Property{ID: id, Address: s(id + " Main St"), City: s("Springfield"), PostalCode: s("62701")}
	if c != nil {
		p.OwnerID = &c.ID
		p.Owner = c
	}
	return p
}

func TestDeliverFailsWithoutSettings(t *testing.T) {
	st := newFakeStore(nil, nil)
	st.settingsErr = fmt.Errorf("user settings not found")
	eng := New(st, []Destination{newFakeDest("primary")}, zap.NewNop())

	_, err := eng.Deliver(context.Background(), testJob(t))
	assert.Error(t, err)
}

func TestDeliverEmptySelectionIsNoOp(t *testing.T) {
	st := newFakeStore(defaultSettings(), nil)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Selected)
	assert.Zero(t, dest.contactSearches)
	assert.Zero(t, dest.contactCreates)
	assert.Zero(t, dest.propertyCreates)
}

func TestDeliverSharedOwnerPushedOncePerAccount(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o), prop("p2", o)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	// One search + one create for the shared owner, not one per property.
	assert.Equal(t, 1, dest.contactSearches)
	assert.Equal(t, 1, dest.contactCreates)
	assert.Equal(t, 2, dest.propertyCreates)
	assert.Len(t, dest.associations, 2)

	// Pushed invariant: every pushed property got a non-empty external id,
	// and the owner was backfilled first.
	require.Len(t, st.pushed, 2)
	for id, ext := range st.pushed {
		assert.NotEmpty(t, ext, id)
	}
	assert.NotEmpty(t, st.backfilled["c1"])

	require.Len(t, report.Accounts, 1)
	assert.Equal(t, 1, report.Accounts[0].ContactsCreated)
	assert.Equal(t, 2, report.Accounts[0].PropertiesPushed)
	assert.Equal(t, 2, report.Accounts[0].Associations)
}

func TestDeliverContactFailureIsolation(t *testing.T) {
	bad, good := owner("bad"), owner("good")
	props := []*domain.Property{prop("p1", bad), prop("p2", good)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	dest.createContact = func(payload map[string]any) (string, error) {
		if dest.contactCreates == 1 {
			return "", fmt.Errorf("connection reset")
		}
		return "ext-good", nil
	}
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err, "entity failures never fail the job")

	// Only the good owner's property got pushed; the bad owner's property
	// was skipped, not attempted.
	assert.Equal(t, 1, dest.propertyCreates)
	assert.Len(t, st.pushed, 1)
	assert.Contains(t, st.pushed, "p2")
	assert.NotContains(t, st.backfilled, "bad")

	assert.Equal(t, 1, report.Accounts[0].ContactsFailed)
	assert.Equal(t, 1, report.Accounts[0].PropertiesSkipped)
}

func TestDeliverFoundPropertyAssociatesWithoutRecreate(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	dest.findProperty = func(address string) (string, error) { return "existing-prop", nil }
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	assert.Zero(t, dest.propertyCreates)
	require.Len(t, dest.associations, 1)
	assert.Equal(t, "existing-prop", dest.associations[0][1])
	// Found-existing does not flip the local pushed flag.
	assert.Empty(t, st.pushed)
	assert.Equal(t, 1, report.Accounts[0].PropertiesFound)
}

func TestDeliverSecondaryFailureDoesNotBlockPrimary(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)

	primary := newFakeDest("primary")
	secondary := newFakeDest("secondary")
	secondary.createProperty = func(payload map[string]any) (string, error) {
		return "", fmt.Errorf("boom")
	}
	eng := New(st, []Destination{primary, secondary}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	// pushed is driven by the primary account alone.
	assert.Len(t, st.pushed, 1)
	require.Len(t, report.Accounts, 2)
	assert.Equal(t, 1, report.Accounts[0].PropertiesPushed)
	assert.Equal(t, 1, report.Accounts[1].PropertiesFailed)

	// Secondary runs its own contact fan-out.
	assert.Equal(t, 1, primary.contactCreates)
	assert.Equal(t, 1, secondary.contactCreates)
}

func TestDeliverSecondaryNeverWritesLocalFlags(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)
	eng := New(st, []Destination{newFakeDest("primary"), newFakeDest("secondary")}, zap.NewNop())

	_, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	// One backfill and one pushed mark despite two accounts.
	assert.Len(t, st.backfilled, 1)
	assert.Len(t, st.pushed, 1)
	assert.Equal(t, "primary-prop-1", st.pushed["p1"])
}

func TestDeliverAuthFailureAbortsJob(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	dest.findContact = func(email, phone string) (string, error) { return "", ghl.ErrUnauthorized }
	eng := New(st, []Destination{dest}, zap.NewNop())

	_, err := eng.Deliver(context.Background(), testJob(t))
	assert.ErrorIs(t, err, ghl.ErrUnauthorized)
	assert.Zero(t, dest.propertyCreates)
}

func TestDeliverUnreachableContactSkipped(t *testing.T) {
	o := &domain.Contact{ID: "c1"} // no email, no phone
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)
	assert.Zero(t, dest.contactSearches)
	assert.Equal(t, 1, report.Accounts[0].ContactsSkipped)
	assert.Equal(t, 1, report.Accounts[0].PropertiesSkipped)
}

func TestDeliverOwnerlessPropertySkipped(t *testing.T) {
	props := []*domain.Property{prop("p1", nil)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	report, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)
	assert.Zero(t, dest.propertyCreates)
	assert.Equal(t, 1, report.Accounts[0].PropertiesSkipped)
}

func TestDeliverAlreadyPushedOwnerReusesStoredID(t *testing.T) {
	o := owner("c1")
	o.Pushed = true
	o.GHLContactID = s("stored-ext")
	props := []*domain.Property{prop("p1", o)}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	_, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	assert.Zero(t, dest.contactSearches, "stored id must short-circuit the search")
	require.Len(t, dest.associations, 1)
	assert.Equal(t, "stored-ext", dest.associations[0][0])
}

func TestDeliverBatchedJobsCoverAllProperties(t *testing.T) {
	props := []*domain.Property{
		prop("p1", owner("c1")), prop("p2", owner("c2")),
		prop("p3", owner("c3")), prop("p4", owner("c4")),
	}
	st := newFakeStore(defaultSettings(), props)
	dest := newFakeDest("primary")
	eng := New(st, []Destination{dest}, zap.NewNop())

	// Two batches of two. The first batch marks its rows pushed, which
	// shrinks the unpushed set before the second batch selects.
	for i := 0; i < 2; i++ {
		payload, err := domain.JobPayload{
			RunID:        "run-1",
			IngestedAt:   time.Now(),
			UserID:       "user-1",
			BatchIndex:   i,
			BatchSize:    2,
			TotalBatches: 2,
		}.Marshal()
		require.NoError(t, err)

		report, err := eng.Deliver(context.Background(),
			&domain.Job{ID: fmt.Sprintf("job-%d", i), Type: domain.JobTypeDeliverLeads, Payload: payload})
		require.NoError(t, err)
		assert.Equal(t, 2, report.Selected, "batch %d", i)
	}

	assert.Len(t, st.pushed, 4, "every property of the run is delivered")
	assert.Equal(t, 4, dest.propertyCreates)
}

func TestDeliverProgressReachesTotal(t *testing.T) {
	o := owner("c1")
	props := []*domain.Property{prop("p1", o), prop("p2", o)}
	st := newFakeStore(defaultSettings(), props)
	eng := New(st, []Destination{newFakeDest("primary"), newFakeDest("secondary")}, zap.NewNop())

	_, err := eng.Deliver(context.Background(), testJob(t))
	require.NoError(t, err)

	require.NotEmpty(t, st.progress)
	last := st.progress[len(st.progress)-1]
	assert.Equal(t, 4, last.Total)
	assert.Equal(t, 4, last.Processed)
	assert.Equal(t, string(domain.JobCompleted), last.Status)
}
