package main

import (
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection>",
		Short: "Print a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			col, err := store.GetCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, col)
		},
	}
}

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <collection> <file.json|->",
		Short: "Replace a collection with a JSON array of records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var records []json.RawMessage
			if err := readJSON(cmd, args[1], &records); err != nil {
				return err
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			col, err := store.PutCollection(cmd.Context(), args[0], records)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"name": col.Name, "records": col.Len(), "version": col.Version})
		},
	}
}
