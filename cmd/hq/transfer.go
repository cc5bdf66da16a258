package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hiamp/hq/internal/transfer"
)

func newExportCmd() *cobra.Command {
	var (
		paths          string
		domain         string
		toPeer         string
		outputDir      string
		description    string
		supersedes     string
		sequence       int
		workerID       string
		patternVersion string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Build a knowledge or worker-pattern bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			var summary *transfer.Summary
			if workerID != "" {
				summary, err = engine.ExportPattern(transfer.PatternRequest{
					WorkerID:       workerID,
					PatternVersion: patternVersion,
					ToPeer:         toPeer,
					OutputDir:      outputDir,
					Description:    description,
					Supersedes:     supersedes,
					Sequence:       sequence,
				})
			} else {
				summary, err = engine.ExportKnowledge(transfer.KnowledgeRequest{
					Paths:       splitCSV(paths),
					Domain:      domain,
					ToPeer:      toPeer,
					OutputDir:   outputDir,
					Description: description,
					Supersedes:  supersedes,
					Sequence:    sequence,
				})
			}
			if err != nil {
				return err
			}
			fmt.Printf("Exported %s: %d files, %d bytes\n%s\n",
				summary.TransferID, summary.FileCount, summary.PayloadSize, summary.BundlePath)
			return nil
		},
	}

	cmd.Flags().StringVar(&paths, "paths", "", "comma-separated paths for a knowledge bundle")
	cmd.Flags().StringVar(&domain, "domain", "", "knowledge domain tag")
	cmd.Flags().StringVar(&workerID, "worker-pattern", "", "worker id for a pattern bundle (instead of --paths)")
	cmd.Flags().StringVar(&patternVersion, "pattern-version", "1.0", "pattern version")
	cmd.Flags().StringVar(&toPeer, "to", "", "destination peer owner")
	cmd.Flags().StringVar(&outputDir, "output", "exports", "output directory")
	cmd.Flags().StringVar(&description, "description", "", "bundle description")
	cmd.Flags().StringVar(&supersedes, "supersedes", "", "transfer id this bundle supersedes")
	cmd.Flags().IntVar(&sequence, "sequence", 1, "chain sequence number")
	cmd.MarkFlagRequired("to")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview <bundle-dir>",
		Short: "Inspect an inbound bundle before approving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			p, err := engine.PreviewBundle(args[0])
			if err != nil {
				return err
			}
			fmt.Println(p.Summary)
			for _, e := range p.Verification.Errors {
				fmt.Printf("  integrity: %s\n", e)
			}
			for _, c := range p.Conflicts {
				fmt.Printf("  conflict: %s (%s)\n", c.LocalPath, c.Description)
			}
			if p.Adaptation != nil {
				for _, cp := range p.Adaptation.CustomizationPoints {
					fmt.Printf("  customize [%s] %s: %s\n", cp.Priority, cp.Field, cp.Guidance)
				}
			}
			return nil
		},
	}
	return cmd
}

func newStageCmd() *cobra.Command {
	var approvedBy string

	cmd := &cobra.Command{
		Use:   "stage <bundle-dir>",
		Short: "Approve a bundle into the world inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			staged, err := engine.StageBundle(args[0], approvedBy)
			if err != nil {
				return err
			}
			fmt.Printf("Staged to %s\n", staged)
			return nil
		},
	}
	cmd.Flags().StringVar(&approvedBy, "approved-by", "operator", "who approved the bundle")
	return cmd
}

func newRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <bundle-dir>",
		Short: "Record a bundle rejection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Close()

			if err := engine.RejectBundle(args[0], reason); err != nil {
				return err
			}
			fmt.Println("Rejected.")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the bundle was rejected")
	return cmd
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
