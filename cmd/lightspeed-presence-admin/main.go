package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/globals"
	"github.com/tcriess/lightspeed-presence/kvstore"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/service"
	"github.com/tcriess/lightspeed-presence/types"
)

// A very simple CLI tool for the administration of lightspeed-presence groups and users. It works on the
// store directly, so it refuses to run while a server holds the lock file.

type userListing struct {
	Id            string    `json:"id"`
	Username      string    `json:"username"`
	Tag           string    `json:"tag,omitempty"`
	CreateTime    time.Time `json:"createTime"`
	LastLoginTime time.Time `json:"lastLoginTime"`
	LastLoginIp   string    `json:"lastLoginIp"`
	IsNew         bool      `json:"isNew"`
}

type groupListing struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	Creator   string `json:"creator"`
	IsDefault bool   `json:"isDefault"`
	Members   int    `json:"members"`
}

func main() {
	var (
		configPath string
		deps       *service.Deps
		lock       *flock.Flock
	)
	flagSet := config.GetFlagSet()

	var rootCmd = &cobra.Command{
		Use:           "lightspeed-presence-admin",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ReadConfiguration(configPath, flagSet)
			if err != nil {
				return err
			}
			globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
			if cfg.PersistenceConfig.LockPath != "" {
				lock = flock.New(cfg.PersistenceConfig.LockPath)
				locked, err := lock.TryLock()
				if err != nil {
					return err
				}
				if !locked {
					return errors.Errorf("lock %s is held, stop the server first", cfg.PersistenceConfig.LockPath)
				}
			}
			store, err := persistence.NewPersister(cfg)
			if err != nil {
				return err
			}
			clk := clock.New()
			kv, err := kvstore.Open(cmd.Context(), cfg.KVConfig, clk)
			if err != nil {
				store.Close()
				return err
			}
			deps = &service.Deps{
				Config: cfg,
				Store:  store,
				KV:     kv,
				Rooms:  service.NopRooms{},
				Clock:  clk,
				Logger: globals.AppLogger.Named("admin"),
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps != nil {
				deps.KV.Close()
				deps.Store.Close()
			}
			if lock != nil {
				lock.Unlock()
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file or directory")
	rootCmd.PersistentFlags().AddFlagSet(flagSet)

	var cmdGroups = &cobra.Command{
		Use:   "groups",
		Short: "Show groups",
		Long:  `groups lists all groups with their member counts.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := deps.Store.ListGroups()
			if err != nil {
				return err
			}
			listing := make([]groupListing, len(groups))
			for i, g := range groups {
				listing[i] = groupListing{Id: g.Id, Name: g.Name, Creator: g.Creator, IsDefault: g.IsDefault, Members: len(g.Members)}
			}
			return printJSON(listing)
		},
	}
	var onlyNew bool
	var cmdUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `users lists all users. With --new only users registered within the last day are shown.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := deps.Store.ListUsers()
			if err != nil {
				return err
			}
			auth := service.NewAuthService(deps)
			listing := make([]userListing, 0, len(users))
			for _, u := range users {
				isNew, err := auth.IsNewUser(cmd.Context(), u.Id)
				if err != nil {
					return err
				}
				if onlyNew && !isNew {
					continue
				}
				listing = append(listing, newUserListing(u, isNew))
			}
			return printJSON(listing)
		},
	}
	cmdUsers.Flags().BoolVar(&onlyNew, "new", false, "only show new users")

	var cmdResetPassword = &cobra.Command{
		Use:   "reset-password [username]",
		Short: "Reset a user's password",
		Long:  `reset-password sets the password of the user to the reset password and prints it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := service.NewUserService(deps).ResetUserPassword(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(password)
			return nil
		},
	}
	var cmdSetTag = &cobra.Command{
		Use:   "set-tag [username] [tag]",
		Short: "Set a user's tag",
		Long:  `set-tag sets the display tag of the user. Connected clients see it after their next login.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.NewUserService(deps).SetUserTag(cmd.Context(), args[0], args[1])
		},
	}
	var cmdPurgeConnections = &cobra.Command{
		Use:   "purge-connections",
		Short: "Remove all connection records",
		Long:  `purge-connections removes the connection records left behind by a server that did not shut down cleanly.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := deps.Store.DeleteAllConnections()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d connections\n", n)
			return nil
		},
	}

	rootCmd.AddCommand(cmdGroups, cmdUsers, cmdResetPassword, cmdSetTag, cmdPurgeConnections)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		globals.AppLogger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newUserListing(u *types.User, isNew bool) userListing {
	return userListing{
		Id:            u.Id,
		Username:      u.Username,
		Tag:           u.Tag,
		CreateTime:    u.CreateTime,
		LastLoginTime: u.LastLoginTime,
		LastLoginIp:   u.LastLoginIp,
		IsNew:         isNew,
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
