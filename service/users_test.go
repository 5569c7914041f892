package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-presence/types"
)

func TestFriends(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	bob, _ := f.register(t, "bob")

	_, err := f.users.AddFriend(ctx, alice, "x")
	assertKind(t, err, KindValidation)
	_, err = f.users.AddFriend(ctx, alice, alice.UserID)
	assertKind(t, err, KindPolicy)
	_, err = f.users.AddFriend(ctx, alice, uuid.NewString())
	assertKind(t, err, KindNotFound)

	resp, err := f.users.AddFriend(ctx, alice, bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, &types.AddFriendResponse{
		Id:       bob.UserID,
		Username: "bob",
		Avatar:   resp.Avatar,
		From:     alice.UserID,
		To:       bob.UserID,
	}, resp)
	_, err = f.users.AddFriend(ctx, alice, bob.UserID)
	assertKind(t, err, KindPolicy)

	// edges are directed
	friends, err := f.store.GetFriends(bob.UserID)
	require.NoError(t, err)
	assert.Empty(t, friends)
	_, err = f.users.AddFriend(ctx, bob, alice.UserID)
	require.NoError(t, err)

	require.NoError(t, f.users.DeleteFriend(ctx, alice, bob.UserID))
	require.NoError(t, f.users.DeleteFriend(ctx, alice, bob.UserID))
	friends, err = f.store.GetFriends(alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, friends)
	friends, err = f.store.GetFriends(bob.UserID)
	require.NoError(t, err)
	assert.Len(t, friends, 1)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")

	assertKind(t, f.users.ChangePassword(ctx, alice, "password-alice", ""), KindValidation)
	assertKind(t, f.users.ChangePassword(ctx, alice, "same", "same"), KindValidation)
	assertKind(t, f.users.ChangePassword(ctx, alice, "wrong", "new"), KindPolicy)
	require.NoError(t, f.users.ChangePassword(ctx, alice, "password-alice", "new"))

	_, err := f.auth.Login(ctx, f.connect(t, "10.8.0.1"), credentials("alice"))
	assertKind(t, err, KindPolicy)
	_, err = f.auth.Login(ctx, f.connect(t, "10.8.0.1"), &types.CredentialsRequest{Username: "alice", Password: "new"})
	require.NoError(t, err)
}

func TestChangeProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	f.register(t, "bob")

	assertKind(t, f.users.ChangeUsername(ctx, alice, ""), KindValidation)
	assertKind(t, f.users.ChangeUsername(ctx, alice, "bob"), KindPolicy)
	require.NoError(t, f.users.ChangeUsername(ctx, alice, "alicia"))

	assertKind(t, f.users.ChangeAvatar(ctx, alice, ""), KindValidation)
	require.NoError(t, f.users.ChangeAvatar(ctx, alice, "/avatar/3.jpg"))

	user, err := f.store.GetUser(alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alicia", user.Username)
	assert.Equal(t, "/avatar/3.jpg", user.Avatar)
	_, err = f.store.GetUserByUsername("alice")
	assert.Error(t, err)
}

func TestResetUserPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice")

	_, err := f.users.ResetUserPassword(ctx, "")
	assertKind(t, err, KindValidation)
	_, err = f.users.ResetUserPassword(ctx, "nobody")
	assertKind(t, err, KindNotFound)

	password, err := f.users.ResetUserPassword(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, ResetPassword, password)
	_, err = f.auth.Login(ctx, f.connect(t, "10.9.0.1"), &types.CredentialsRequest{Username: "alice", Password: password})
	require.NoError(t, err)
}

func TestSetUserTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	second, err := f.auth.Login(ctx, f.connect(t, "10.10.0.1"), credentials("alice"))
	require.NoError(t, err)
	require.Equal(t, alice.UserID, second.Id)

	for _, tag := range []string{"", "a b", "toolongtag1", "a-b"} {
		assertKind(t, f.users.SetUserTag(ctx, "alice", tag), KindValidation)
	}
	assertKind(t, f.users.SetUserTag(ctx, "nobody", "ok"), KindNotFound)

	conns, err := f.store.GetConnectionsByUsers([]string{alice.UserID})
	require.NoError(t, err)
	require.Len(t, conns, 2)
	ids := []string{conns[0].Id, conns[1].Id}
	f.rooms.On("EmitTo", ids, types.EventChangeTag, "管理").Once()
	require.NoError(t, f.users.SetUserTag(ctx, "alice", "管理"))
	f.rooms.AssertExpectations(t)

	user, err := f.store.GetUser(alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "管理", user.Tag)
	assert.True(t, tagPattern.MatchString("ab12"))
	assert.True(t, tagPattern.MatchString("abcdefghij"))
}

func TestUserConnections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	for _, ip := range []string{"10.11.0.1", "10.11.0.1", "10.11.0.2"} {
		_, err := f.auth.Login(ctx, f.connect(t, ip), credentials("alice"))
		require.NoError(t, err)
	}

	ips, err := f.users.GetUserIps(ctx, alice.UserID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{alice.IP, "10.11.0.1", "10.11.0.2"}, ips)
	_, err = f.users.GetUserIps(ctx, "")
	assertKind(t, err, KindValidation)

	status, err := f.users.GetUserOnlineStatus(ctx, alice.UserID)
	require.NoError(t, err)
	assert.True(t, status.IsOnline)
	status, err = f.users.GetUserOnlineStatus(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.False(t, status.IsOnline)
	_, err = f.users.GetUserOnlineStatus(ctx, "x")
	assertKind(t, err, KindValidation)
}

func TestSetNotificationToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.register(t, "alice")
	bob, _ := f.register(t, "bob")

	assertKind(t, f.users.SetNotificationToken(ctx, alice, ""), KindValidation)
	require.NoError(t, f.users.SetNotificationToken(ctx, alice, "push-a"))
	require.NoError(t, f.users.SetNotificationToken(ctx, alice, "push-shared"))

	resp, err := f.auth.Login(ctx, f.connect(t, "10.9.0.1"), credentials("alice"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"push-a", "push-shared"}, resp.NotificationTokens)

	// a token moves to the user who set it last
	require.NoError(t, f.users.SetNotificationToken(ctx, bob, "push-shared"))
	tokens, err := f.store.GetNotificationTokens(alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"push-a"}, tokens)
	tokens, err = f.store.GetNotificationTokens(bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{"push-shared"}, tokens)
}
