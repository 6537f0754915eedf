// Package conversationtest wires a conversation service over temporary
// storage and fake collaborators for tests.
package conversationtest

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/geo"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/messaging/messagingtest"
	"github.com/amp-labs/denguebot/records"
	"github.com/amp-labs/denguebot/session"
	"github.com/amp-labs/denguebot/sqlitedb"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/stretchr/testify/require"
)

// Tainan is the point the stub geocoder resolves for TainanAddress, within
// reach of the seeded facilities.
var Tainan = geo.Point{Lat: 22.997, Lng: 120.212}

// TainanAddress is an address the stub geocoder knows.
const TainanAddress = "台南火車站"

// Facilities are seeded into every environment.
var Facilities = []geo.Facility{
	{Name: "成大醫院", Address: "台南市北區勝利路138號", Phone: "06-2353535", Lat: 22.9997, Lng: 120.2186},
	{Name: "台南醫院", Address: "台南市中西區中山路125號", Phone: "06-2200055", Lat: 22.9930, Lng: 120.2075},
}

// StubGeocoder resolves a fixed set of addresses.
type StubGeocoder map[string]geo.Point

// Geocode implements geo.Geocoder.
func (s StubGeocoder) Geocode(_ context.Context, address string) (geo.Point, error) {
	point, ok := s[address]
	if !ok {
		return geo.Point{}, geo.ErrNoResult
	}

	return point, nil
}

// Env is a conversation service and the collaborators behind it.
type Env struct {
	Service    *conversation.Service
	Sessions   *session.Manager
	Client     *messagingtest.Client
	Store      *records.SQLiteStore
	Facilities *geo.FacilityStore
	Deps       denguebot.MachineDeps
}

// New builds an environment running the bundled configuration. Sources, when
// given, replace the bundled documents and make Reload available.
func New(t *testing.T, sources *conversation.Sources, opts ...conversation.Option) *Env {
	t.Helper()

	return NewWithBackend(t, session.NewMemoryBackend(0), sources, opts...)
}

// NewWithBackend is New with sessions kept in backend.
func NewWithBackend(
	t *testing.T,
	backend session.Backend,
	sources *conversation.Sources,
	opts ...conversation.Option,
) *Env {
	t.Helper()

	db, err := sqlitedb.Open(t.Context(), sqlitedb.DefaultConfig(filepath.Join(t.TempDir(), "conversation.db")))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlitedb.Migrate(t.Context(), db, slices.Concat(records.Migrations, geo.Migrations)...))

	env := &Env{
		Client:     messagingtest.NewClient(),
		Store:      records.NewSQLiteStore(db),
		Facilities: geo.NewFacilityStore(db),
		Sessions:   session.NewManager(backend, denguebot.StateUser),
	}

	_, err = env.Facilities.Upsert(t.Context(), Facilities)
	require.NoError(t, err)

	env.Deps = denguebot.MachineDeps{
		Dependencies: denguebot.Dependencies{
			Client:     env.Client,
			Store:      env.Store,
			Facilities: env.Facilities,
		},
		GuardOptions: guards.Options{
			Geocoder: StubGeocoder{TainanAddress: Tainan},
		},
	}

	var src conversation.Sources
	if sources != nil {
		src = *sources
	}

	loader := conversation.NewLoader(src, env.Deps)

	machine, err := loader.Build(t.Context())
	require.NoError(t, err)

	opts = append([]conversation.Option{conversation.WithLoader(loader)}, opts...)
	env.Service = conversation.NewService(statemachine.NewHolder(machine), env.Sessions, env.Store, opts...)

	return env
}

// State returns the stored state of user.
func (e *Env) State(t *testing.T, userID string) string {
	t.Helper()

	s, err := e.Sessions.Get(t.Context(), userID)
	require.NoError(t, err)

	return s.State
}
