package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/provtrack/repostore/internal/filegw"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <logical-name> <path>",
		Short: "Upload a file and print the record to embed in its collection",
		Long: "Upload a file. Small files are returned inline, larger ones are stored " +
			"as repository blobs under the logical name, e.g. suppliers/17.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			src, err := filegw.FileSource(args[1])
			if err != nil {
				return err
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.UploadFile(cmd.Context(), src, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rec)
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <record.json|->",
		Short: "Download the file referenced by a file record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var rec filegw.FileRecord
			if err := readJSON(cmd, args[0], &rec); err != nil {
				return err
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			data, err := store.DownloadFile(cmd.Context(), &rec)
			if err != nil {
				return err
			}

			if output == "" {
				output = filepath.Base(rec.Name)
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", output, humanize.IBytes(uint64(len(data))))
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, - for stdout (default: the record name)")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <record.json|->",
		Short: "Delete the blob referenced by a file record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			var rec filegw.FileRecord
			if err := readJSON(cmd, args[0], &rec); err != nil {
				return err
			}

			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteFile(cmd.Context(), &rec); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", rec.Name)
			return err
		},
	}
}

func newListFilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls-files [logical-name]",
		Short: "List uploaded blobs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			logical := ""
			if len(args) == 1 {
				logical = args[0]
			}
			blobs, err := store.ListFiles(cmd.Context(), logical)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range blobs {
				fmt.Fprintf(out, "%-10s %s\n", humanize.IBytes(uint64(b.Size)), b.Path)
			}
			return nil
		},
	}
}
