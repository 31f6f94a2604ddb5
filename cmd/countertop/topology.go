package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/c360/countertop/broker/memory"
	"github.com/c360/countertop/topologystore"
)

func newTopologyCommand(ctx *commandContext) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Show the streams the configured appliances produce",
		Long: "Generates the topology for the configured appliances without connecting to a broker\n" +
			"and prints one row per stream.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			ct, err := buildCountertop(cfg, memory.New())
			if err != nil {
				return err
			}
			return writeSnapshot(cmd, topologystore.FromTopology(cfg.Broker.ClientID, ct.Topology()), format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", formatTable, "Output format: table, json or yaml")
	return cmd
}

func writeSnapshot(cmd *cobra.Command, snap *topologystore.Snapshot, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(cmd, snap)
	case formatYAML:
		return writeYAML(cmd, snap)
	}

	out := cmd.OutOrStdout()
	if len(snap.Streams) == 0 {
		_, err := fmt.Fprintln(out, "No streams")
		return err
	}

	names := make(map[string]string, len(snap.Stations))
	outputs := make(map[string][]string, len(snap.Stations))
	for _, st := range snap.Stations {
		names[st.ID] = st.Name
		outputs[st.ID] = st.OutputTypes
	}

	rows := make([][]string, 0, len(snap.Streams))
	for _, rec := range snap.Streams {
		retained := ""
		if rec.Retained {
			retained = "yes"
		}
		rows = append(rows, []string{
			rec.Path,
			names[rec.Source],
			names[rec.Mouth],
			strconv.Itoa(rec.Length),
			joinOrDash(outputs[rec.Mouth]),
			retained,
		})
	}
	table := renderTable([]column{
		{title: "Path"},
		{title: "Source"},
		{title: "Mouth"},
		{title: "Length", numeric: true},
		{title: "Outputs"},
		{title: "Retained"},
	}, rows)
	_, err := fmt.Fprintln(out, table)
	return err
}
