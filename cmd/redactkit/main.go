// Command redactkit detects and masks personally identifiable information in
// images. Configuration comes from REDACT_-prefixed environment variables;
// see pipeline.LoadConfig.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkarpel/redactkit/batch"
	"github.com/mkarpel/redactkit/mask"
	"github.com/mkarpel/redactkit/observability"
	"github.com/mkarpel/redactkit/pipeline"
	"github.com/mkarpel/redactkit/raster"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "redactkit: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "redactkit",
		Short:         "Detect and mask PII in images",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newDetectCmd(), newMaskCmd())
	return root
}

func newDetectCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "detect <image>...",
		Short: "Report detected PII with pixel coordinates as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, err := assemble()
			if err != nil {
				return err
			}
			items, err := loadItems(args)
			if err != nil {
				return err
			}
			report, err := orch.Detect(cmd.Context(), items)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			return emit(outPath, append(data, '\n'))
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write the JSON report to a file instead of stdout")
	return cmd
}

func newMaskCmd() *cobra.Command {
	var (
		outPath  string
		maskType string
		piiTypes []string
		padding  int
	)
	cmd := &cobra.Command{
		Use:   "mask <image>...",
		Short: "Write masked copies of the input images",
		Long: "Masks detected PII and writes the result: a single input produces a PNG,\n" +
			"multiple inputs produce a zip archive with one PNG per input plus a JSON report.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			strategy, err := mask.ParseType(maskType)
			if err != nil {
				return err
			}
			opts := mask.DefaultOptions(strategy)
			opts.SelectedTypes = piiTypes
			opts.Padding = padding

			orch, _, err := assemble()
			if err != nil {
				return err
			}
			items, err := loadItems(args)
			if err != nil {
				return err
			}
			report, err := orch.Mask(cmd.Context(), items, opts)
			if err != nil {
				return err
			}
			for i := range report.Items {
				res := &report.Items[i]
				if res.Status != batch.StatusOK {
					fmt.Fprintf(cmd.ErrOrStderr(), "redactkit: %s: %s\n", res.ID, res.Error)
				}
				for _, w := range res.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "redactkit: %s: %s (%s)\n", res.ID, w.Reason, w.MatchType)
				}
			}

			if len(items) == 1 {
				if report.Items[0].Status != batch.StatusOK {
					return fmt.Errorf("%s: %s", report.Items[0].ID, report.Items[0].Error)
				}
				return emit(defaultOut(outPath, args[0], ".masked.png"), report.Items[0].PNG)
			}
			archive, err := batch.Zip(report)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = "masked.zip"
			}
			return emit(outPath, archive)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default <input>.masked.png, or masked.zip for batches)")
	cmd.Flags().StringVarP(&maskType, "type", "t", string(mask.TypeBlackout), "mask strategy: blackout, hash, blur, pixelate")
	cmd.Flags().StringSliceVar(&piiTypes, "pii-types", nil, "restrict masking to these PII types (default all)")
	cmd.Flags().IntVar(&padding, "padding", 0, "expand every mask box outward by this many pixels")
	return cmd
}

func assemble() (*batch.Orchestrator, *pipeline.Pipeline, error) {
	cfg, err := pipeline.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	p, err := pipeline.New(cfg, pipeline.WithLogger(observability.NewLogxLogger()))
	if err != nil {
		return nil, nil, err
	}
	return p.Orchestrator(cfg), p, nil
}

func loadItems(paths []string) ([]batch.Item, error) {
	items := make([]batch.Item, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		items = append(items, batch.Item{
			ID:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Data:   data,
			Format: raster.FormatUnknown,
		})
	}
	return items, nil
}

func emit(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultOut(explicit, input, suffix string) string {
	if explicit != "" {
		return explicit
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + suffix
}
