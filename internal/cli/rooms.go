package cli

import (
	"github.com/spf13/cobra"
)

func newRoomsCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List active rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(*opts)
			if err != nil {
				return err
			}
			dir, err := newDirectory(cfg)
			if err != nil {
				return err
			}
			defer dir.Close()

			rooms, err := dir.ListRooms(cmd.Context())
			if err != nil {
				return err
			}
			renderRooms(cmd.OutOrStdout(), rooms)
			return nil
		},
	}
}

func newWhoCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "who ROOM",
		Short: "List participants of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Load(*opts)
			if err != nil {
				return err
			}
			dir, err := newDirectory(cfg)
			if err != nil {
				return err
			}
			defer dir.Close()

			parts, err := dir.Participants(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderParticipants(cmd.OutOrStdout(), args[0], parts)
			return nil
		},
	}
}

func newNewRoomCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "new-room",
		Short: "Ask the server for a fresh room id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := Load(*opts)
			if err != nil {
				return err
			}
			id, err := newRESTDirectory(cfg.HTTPURL, nil).CreateRoom(cmd.Context())
			if err != nil {
				return err
			}
			renderRoomCreated(cmd.OutOrStdout(), id)
			return nil
		},
	}
}
