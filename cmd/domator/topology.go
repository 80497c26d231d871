package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"domator-go/internal/store"
)

func newTopologyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topology",
		Short: "Inspect the stored device topology",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "Print relays, switches and connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromFlags(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			db, err := store.NewBoltStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()
			return listTopology(cmd.OutOrStdout(), db, asJSON)
		},
	}
	list.Flags().Bool("json", false, "print as JSON")
	cmd.AddCommand(list)
	return cmd
}

type topologyDump struct {
	Relays      []store.Relay      `json:"relays"`
	Outputs     []store.Output     `json:"outputs"`
	Switches    []store.Switch     `json:"switches"`
	Connections []store.Connection `json:"connections"`
}

func listTopology(w io.Writer, st store.Store, asJSON bool) error {
	var (
		d   topologyDump
		err error
	)
	if d.Relays, err = st.AllRelays(); err != nil {
		return err
	}
	if d.Outputs, err = st.AllOutputs(); err != nil {
		return err
	}
	if d.Switches, err = st.AllSwitches(); err != nil {
		return err
	}
	if d.Connections, err = st.AllConnections(); err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tNAME\tSIZE")
	for _, r := range d.Relays {
		fmt.Fprintf(tw, "relay\t%d\t%s\t%d outputs\n", r.ID, r.Name, r.OutputCount)
	}
	for _, s := range d.Switches {
		fmt.Fprintf(tw, "switch\t%d\t%s\t%d buttons\n", s.ID, s.Name, s.ButtonCount)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SWITCH\tBUTTON\tRELAY\tOUTPUT")
	for _, c := range d.Connections {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", c.SwitchID, c.ButtonID, c.RelayID, c.OutputID)
	}
	return tw.Flush()
}
