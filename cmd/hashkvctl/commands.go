package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oba-hashkv/hashkv/internal/logging"
	"github.com/oba-hashkv/hashkv/internal/status"
)

var putCmd = &cobra.Command{
	Use:   "put [key] [value]",
	Short: "Insert or overwrite a key's value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		s, err := eng.Put(collection, []byte(key), []byte(value))
		if err != nil {
			return err
		}
		if s != status.Ok {
			return fmt.Errorf("put: %s", s)
		}
		fmt.Println("put successfully")
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Look up a key's current value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, s, err := eng.Get(collection, []byte(args[0]))
		if err != nil {
			return err
		}
		switch s {
		case status.Ok:
			fmt.Fprintln(cmd.OutOrStdout(), string(value))
			return nil
		case status.NotFound:
			return fmt.Errorf("key not found")
		default:
			return fmt.Errorf("get: %s", s)
		}
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Supersede a key's current value with a tombstone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := eng.Delete(collection, []byte(args[0]))
		if err != nil {
			return err
		}
		if s != status.Ok {
			return fmt.Errorf("delete: %s", s)
		}
		fmt.Println("deleted successfully")
		return nil
	},
}

var createCollectionCmd = &cobra.Command{
	Use:   "create-collection [name]",
	Short: "Create a new, empty collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := eng.CreateCollection(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "collection %q created\n", args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the cleaner's current queue depths",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := eng.CleanerStats()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "referred records: %d\n", s.ReferredRecords)
		fmt.Fprintf(out, "pending batches:  %d\n", s.PendingBatches)
		fmt.Fprintf(out, "pending spans:    %d\n", s.PendingSpans)
		fmt.Fprintf(out, "last clean-all ts: %d\n", s.LastCleanAllTS)

		if coll, ok := eng.Collection(collection); ok {
			fmt.Fprintf(out, "collection %q size: %d\n", collection, coll.Size())
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print hashkvctl's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "hashkvctl v%s\n", version)
		return nil
	},
}

var (
	logsLevel string
	logsLimit int
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect rotated log archives (see log.archive in the config)",
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive files, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !archiveCfg.Enabled {
			return fmt.Errorf("log archiving is disabled (set log.archive.enabled and log.archive.dir)")
		}
		archive, err := logging.NewLogArchive(logging.ArchiveConfig{Enabled: true, ArchiveDir: archiveCfg.Dir})
		if err != nil {
			return err
		}
		files, err := archive.ListArchives()
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Printf("%s\t%d entries\t%d bytes\t%s..%s\n",
				f.Name, f.Count, f.Size, f.StartTime.Format("2006-01-02T15:04:05"), f.EndTime.Format("2006-01-02T15:04:05"))
		}
		return nil
	},
}

var logsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search archived log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !archiveCfg.Enabled {
			return fmt.Errorf("log archiving is disabled (set log.archive.enabled and log.archive.dir)")
		}
		archive, err := logging.NewLogArchive(logging.ArchiveConfig{Enabled: true, ArchiveDir: archiveCfg.Dir})
		if err != nil {
			return err
		}
		entries, total, err := archive.QueryAllArchives(logging.QueryOptions{Level: logsLevel, Limit: logsLimit})
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s [%s] %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
		}
		fmt.Printf("%d of %d matching entries\n", len(entries), total)
		return nil
	},
}

func init() {
	logsQueryCmd.Flags().StringVar(&logsLevel, "level", "", "filter by log level")
	logsQueryCmd.Flags().IntVar(&logsLimit, "limit", 100, "maximum entries to print")
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsQueryCmd)
}
