package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/types"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestPrepare(t *testing.T) {
	store, err := persistence.NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}})
	require.NoError(t, err)
	defer store.Close()
	logger := hclog.NewNullLogger()

	stale := &types.Connection{Id: uuid.NewString(), UserId: uuid.NewString(), Ip: "10.0.0.1"}
	require.NoError(t, store.StoreConnection(stale))

	group, err := Prepare(store, "lobby", testEpoch, logger)
	require.NoError(t, err)
	assert.True(t, group.IsDefault)
	assert.Equal(t, "lobby", group.Name)
	assert.Empty(t, group.Creator)
	conns, err := store.GetConnectionsByUsers([]string{stale.UserId})
	require.NoError(t, err)
	assert.Empty(t, conns)

	again, err := EnsureDefaultGroup(store, "other", testEpoch, logger)
	require.NoError(t, err)
	assert.Equal(t, group.Id, again.Id)
	groups, err := store.ListGroups()
	require.NoError(t, err)
	assert.Len(t, groups, 1)
}
