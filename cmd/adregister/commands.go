package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"adregister/internal/directive"
	"adregister/internal/pipeline"
	"adregister/internal/registry"
)

func (a *app) extractCmd() *cobra.Command {
	var (
		typeCert       string
		ignoreInactive bool
		format         string
		output         string
		pretty         bool
	)
	cmd := &cobra.Command{
		Use:   "extract <path|->",
		Short: "Extract directives from a register workbook without storing them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := pipeline.Query{MatchTypeCertificate: typeCert, IgnoreInactive: ignoreInactive}
			directives, err := pipeline.ExtractFromSource(sourceArg(args[0]), q, a.cfg.SourceMaxBytes)
			if err != nil {
				return err
			}
			return writeDirectives(cmd.OutOrStdout(), directives, format, output, pretty)
		},
	}
	cmd.Flags().StringVar(&typeCert, "type-cert", "", "keep only rows with this exact type certificate")
	cmd.Flags().BoolVar(&ignoreInactive, "ignore-inactive", false, "drop directives that are not active")
	cmd.Flags().StringVar(&format, "format", "json", "output format: json or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file path (default: stdout, json only)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print JSON output")
	return cmd
}

func writeDirectives(stdout io.Writer, directives []directive.Directive, format, output string, pretty bool) error {
	switch strings.ToLower(format) {
	case "json":
		if output == "" {
			return pipeline.WriteJSON(stdout, directives, pretty)
		}
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return err
		}
		f, err := os.Create(output)
		if err != nil {
			return err
		}
		if err := pipeline.WriteJSON(f, directives, pretty); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	case "xlsx":
		if output == "" {
			return errors.New("--output is required for xlsx")
		}
		if err := pipeline.ExportDirectivesToXLSX(directives, output); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "exported %d directives to %s\n", len(directives), output)
		return nil
	default:
		return fmt.Errorf("invalid format: %s (must be json or xlsx)", format)
	}
}

func (a *app) importCmd() *cobra.Command {
	var (
		typeCert       string
		ignoreInactive bool
	)
	cmd := &cobra.Command{
		Use:   "import <path|->",
		Short: "Extract directives and store them as a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			processor := pipeline.NewProcessingService(db, a.cfg)
			q := processor.DefaultQuery()
			if cmd.Flags().Changed("type-cert") {
				q.MatchTypeCertificate = typeCert
			}
			if cmd.Flags().Changed("ignore-inactive") {
				q.IgnoreInactive = ignoreInactive
			}
			res, err := processor.Import(sourceArg(args[0]), q)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "import done run=%s directives=%d hash=%s\n", res.RunID, res.Directives, res.SourceHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&typeCert, "type-cert", "", "keep only rows with this exact type certificate (default: MATCH_TYPE_CERT)")
	cmd.Flags().BoolVar(&ignoreInactive, "ignore-inactive", false, "drop directives that are not active (default: IGNORE_INACTIVE)")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent extraction runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			runs, err := db.ListRuns(limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%d\t%s\t%s:%s\n", r.ID, r.Status, r.DirectiveCount, r.StartedAt, r.SourceKind, r.SourceRef)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

// resolveRun returns runID, or the latest successful run when it is empty.
func (a *app) resolveRun(runID string) (string, error) {
	db, err := a.openDB()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(runID) != "" {
		return runID, nil
	}
	latest, err := db.LatestRun()
	if err != nil {
		return "", err
	}
	if latest == nil {
		return "", errors.New("no successful runs")
	}
	return latest.ID, nil
}

func (a *app) listCmd() *cobra.Command {
	var (
		runID  string
		pretty bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the directives stored for a run as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := a.resolveRun(runID)
			if err != nil {
				return err
			}
			directives, err := a.db.ListDirectives(id)
			if err != nil {
				return err
			}
			return pipeline.WriteJSON(cmd.OutOrStdout(), directives, pretty)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest successful run)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "pretty-print JSON output")
	return cmd
}

func (a *app) exportCmd() *cobra.Command {
	var runID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the directives stored for a run to an xlsx file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(out) == "" {
				return errors.New("--out is required")
			}
			id, err := a.resolveRun(runID)
			if err != nil {
				return err
			}
			directives, err := a.db.ListDirectives(id)
			if err != nil {
				return err
			}
			if err := pipeline.ExportDirectivesToXLSX(directives, out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d directives from run %s to %s\n", len(directives), id, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id (default: latest successful run)")
	cmd.Flags().StringVar(&out, "out", "", "output xlsx path")
	return cmd
}

func (a *app) syncCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the published register and import it when it changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB()
			if err != nil {
				return err
			}
			res, err := registry.NewSyncService(db, a.cfg).Sync(cmd.Context(), force)
			if err != nil {
				return err
			}
			if res.Unchanged {
				fmt.Fprintf(cmd.OutOrStdout(), "register unchanged hash=%s\n", res.SourceHash)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sync done file=%s run=%s directives=%d\n", res.FileName, res.RunID, res.Directives)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "import even if the register is unchanged")
	return cmd
}
