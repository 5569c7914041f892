package service

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/types"
)

// Prepare gets the store ready for serving: connection records left over from a previous run are removed,
// since no connection survives a restart, and the default group is created if there is none.
func Prepare(store persistence.Persister, defaultGroupName string, now time.Time, logger hclog.Logger) (*types.Group, error) {
	n, err := store.DeleteAllConnections()
	if err != nil {
		return nil, err
	}
	if n > 0 {
		logger.Info("removed stale connections", "count", n)
	}
	return EnsureDefaultGroup(store, defaultGroupName, now, logger)
}

// EnsureDefaultGroup returns the default group, creating it without a creator if it does not exist yet. The
// first user to register becomes its creator.
func EnsureDefaultGroup(store persistence.Persister, name string, now time.Time, logger hclog.Logger) (*types.Group, error) {
	group, err := store.GetDefaultGroup()
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	group = &types.Group{
		Id:         uuid.NewString(),
		Name:       name,
		Avatar:     randomAvatar(),
		IsDefault:  true,
		Members:    make([]string, 0),
		CreateTime: now.UTC(),
	}
	if err := store.CreateGroup(group); err != nil {
		return nil, errors.Wrapf(err, "could not create default group %q", name)
	}
	logger.Info("created default group", "group", group.Id, "name", name)
	return group, nil
}
