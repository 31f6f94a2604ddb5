package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/countertop/errors"
)

func newStreamsCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "streams [snapshot-id]",
		Short: "List saved topology snapshots, or the streams of one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return errors.WrapInvalid(errors.ErrInvalidConfig, "main", "streams", "store.enabled is false")
			}

			store, client, err := openStore(cmd.Context(), cfg, nil, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = client.Close(cmd.Context()) }()

			if len(args) == 1 {
				snap, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeSnapshot(cmd, snap, format)
			}

			snaps, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			switch format {
			case formatJSON:
				return writeJSON(cmd, snaps)
			case formatYAML:
				return writeYAML(cmd, snaps)
			}
			if len(snaps) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No saved topologies")
				return err
			}
			rows := make([][]string, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, []string{
					s.ID,
					strconv.FormatInt(s.Version, 10),
					strconv.Itoa(len(s.Stations)),
					strconv.Itoa(len(s.Streams)),
					s.UpdatedAt.Format(time.RFC3339),
				})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTable([]column{
				{title: "ID"},
				{title: "Version", numeric: true},
				{title: "Stations", numeric: true},
				{title: "Streams", numeric: true},
				{title: "Updated"},
			}, rows))
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}
