package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/willibrandon/storagebench/internal/logger"
	"github.com/willibrandon/storagebench/wal"
)

func verifyCmd() *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "verify <wal-path>",
		Short: "Verify a log written by the wal plugin",
		Long: `Verify a log written by the wal plugin, usually <output-dir>/out.wal.

This command checks:
- record checksums
- sequence numbers for gaps
- that every payload decodes (with --passphrase for encrypted logs)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			walPath := args[0]

			var opts []wal.ReaderOption
			if passphrase != "" {
				opts = append(opts, wal.WithReadPassphrase(passphrase))
			}

			logger.Log.Info("Verifying WAL: {path}", walPath)
			report, err := verifyWAL(walPath, opts...)
			if err != nil {
				return err
			}

			if report.Valid {
				logger.Log.Info("Integrity check PASSED")
			} else {
				logger.Log.Error("Integrity check FAILED")
			}
			logger.Log.Info("  Segments: {count}", report.Segments)
			logger.Log.Info("  Total records: {count}", report.TotalRecords)
			logger.Log.Info("  Messages: {count}", report.Messages)
			logger.Log.Info("  Last sequence: {seq}", report.LastSequence)
			for id := 0; id < len(report.Channels); id++ {
				// #nosec G115 - channel ids are uint16
				logger.Log.Info("  Channel {id}: {topic}", id, report.Channels[uint16(id)])
			}
			for _, e := range report.Errors {
				logger.Log.Error("  - {error}", e)
			}

			if !report.Valid {
				return fmt.Errorf("integrity check failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase for encrypted logs")

	return cmd
}

// verifyWAL checks framing and sequence continuity, then decodes every
// payload.
func verifyWAL(walPath string, opts ...wal.ReaderOption) (*wal.IntegrityReport, error) {
	r, err := wal.NewReader(walPath, opts...)
	if err != nil {
		return nil, err
	}
	report, err := r.Verify()
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}
	if !report.Valid {
		return report, nil
	}

	if _, err := r.ReadAll(); err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, err.Error())
	}
	return report, nil
}
