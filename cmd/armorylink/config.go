package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/policy"
)

// configBundle is the on-disk exchange format for configuration
// export/import. Each bucket carries its raw JSON payload so a bundle
// survives schema additions it does not know about.
type configBundle struct {
	Version   string                     `json:"version"`
	Timestamp string                     `json:"timestamp"`
	Buckets   map[string]json.RawMessage `json:"buckets"`
}

// bucketBundle is the single-bucket exchange shape produced by
// 'config export --bucket'.
type bucketBundle struct {
	Bucket    string          `json:"bucket"`
	Version   string          `json:"version"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Export or import agent configuration",
}

var configExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export configuration buckets to a JSON bundle",
	Long: `Exports every bucket as one bundle, or a single bucket with
--bucket (fields, rules, prefixes, macros or settings).`,
	RunE: runConfigExport,
}

var configImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a configuration bundle",
	Long: `Imports buckets from a bundle produced by 'config export'. By default
every bucket present in the bundle replaces the stored one; with
--merge, buckets that already exist in the store are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigImport,
}

var exportBucket string

func init() {
	configCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Configuration data directory")
	configExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	configExportCmd.Flags().StringVar(&exportBucket, "bucket", "", "Export only this bucket")
	configImportCmd.Flags().BoolVar(&importMerge, "merge", false, "Keep buckets already present in the store")
	configCmd.AddCommand(configExportCmd)
	configCmd.AddCommand(configImportCmd)
}

func runConfigExport(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC().Format(time.RFC3339)

	var toMarshal any
	exported := 0
	if exportBucket != "" {
		if !knownBucket(exportBucket) {
			return fmt.Errorf("unknown bucket %q", exportBucket)
		}
		single := bucketBundle{Bucket: exportBucket, Version: Version, Timestamp: now}
		if !store.Get(exportBucket, &single.Data) {
			return fmt.Errorf("bucket %q is empty", exportBucket)
		}
		toMarshal = single
		exported = 1
	} else {
		bundle := configBundle{
			Version:   Version,
			Timestamp: now,
			Buckets:   map[string]json.RawMessage{},
		}
		for _, bucket := range policy.Buckets() {
			var raw json.RawMessage
			if store.Get(bucket, &raw) {
				bundle.Buckets[bucket] = raw
			}
		}
		toMarshal = bundle
		exported = len(bundle.Buckets)
	}

	out, err := json.MarshalIndent(toMarshal, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	if exportOut == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(exportOut, out, 0o600); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	fmt.Printf("Exported %d buckets to %s\n", exported, exportOut)
	return nil
}

func knownBucket(name string) bool {
	for _, bucket := range policy.Buckets() {
		if bucket == name {
			return true
		}
	}
	return false
}

func runConfigImport(cmd *cobra.Command, args []string) error {
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	var bundle configBundle
	if err := json.Unmarshal(payload, &bundle); err != nil {
		return fmt.Errorf("malformed bundle: %w", err)
	}
	if len(bundle.Buckets) == 0 {
		// Try the single-bucket shape before giving up.
		var single bucketBundle
		if err := json.Unmarshal(payload, &single); err == nil && single.Bucket != "" && len(single.Data) > 0 {
			bundle.Timestamp = single.Timestamp
			bundle.Buckets = map[string]json.RawMessage{single.Bucket: single.Data}
		} else {
			return fmt.Errorf("bundle contains no buckets")
		}
	}

	logger := zap.NewNop()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	known := map[string]bool{}
	for _, bucket := range policy.Buckets() {
		known[bucket] = true
	}

	imported, skipped := 0, 0
	for bucket, raw := range bundle.Buckets {
		if !known[bucket] {
			fmt.Printf("Skipping unknown bucket %q\n", bucket)
			skipped++
			continue
		}
		if importMerge {
			var existing json.RawMessage
			if store.Get(bucket, &existing) {
				skipped++
				continue
			}
		}
		if !store.Set(bucket, raw) {
			return fmt.Errorf("failed to store bucket %q", bucket)
		}
		imported++
	}

	fmt.Printf("Imported %d buckets (%d skipped) from bundle of %s\n",
		imported, skipped, bundle.Timestamp)
	return nil
}
