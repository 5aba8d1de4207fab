package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
	"github.com/dunamismax/imagery/internal/id"
	"github.com/dunamismax/imagery/internal/pipeline"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var errBadSize = errors.New("size must look like WIDTHxHEIGHT")

// NewCLI builds the imagectl command tree.
func NewCLI(logger *log.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "imagectl",
		Short:         "Inspect, plan and run image pipelines locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetErr(os.Stderr)

	root.AddCommand(
		newInspectCmd(logger),
		newPlanCmd(logger),
		newRunCmd(logger),
		newDriversCmd(),
	)
	return root
}

func newInspectCmd(logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print an image's size and format, and the full header of a bitmap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := inspect(cmd.OutOrStdout(), data); err != nil {
				logger.Printf("inspect failed file=%s err=%v", args[0], err)
				return err
			}
			return nil
		},
	}
}

func inspect(w io.Writer, data []byte) error {
	info, err := pipeline.Inspect(data)
	if err != nil {
		return err
	}

	rows := [][]string{
		{"format", info.Format},
		{"size", fmt.Sprintf("%dx%d", info.Size.Width, info.Size.Height)},
		{"bytes", strconv.Itoa(len(data))},
	}
	if h := info.Bitmap; h != nil {
		rows = append(rows,
			[]string{"bits per pixel", strconv.Itoa(int(h.Info.BitsPerPixel))},
			[]string{"header size", strconv.Itoa(int(h.Info.HeaderSize))},
			[]string{"pixel offset", strconv.Itoa(int(h.File.BitmapOffset))},
			[]string{"compression", strconv.Itoa(int(h.Info.Compression))},
			[]string{"colors", strconv.Itoa(h.Info.Colors())},
			[]string{"palette entries", strconv.Itoa(len(h.Palette))},
			[]string{"top down", strconv.FormatBool(h.Info.TopDown())},
			[]string{"row stride", strconv.Itoa(h.Info.RowStride())},
			[]string{"row padding", strconv.Itoa(h.Info.RowPadding())},
		)
	}

	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func newPlanCmd(logger *log.Logger) *cobra.Command {
	var pipelinePath string

	cmd := &cobra.Command{
		Use:   "plan WIDTHxHEIGHT",
		Short: "Resolve a pipeline's geometry for a source size without touching pixels",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := parseSize(args[0])
			if err != nil {
				return err
			}
			steps, err := readPipeline(pipelinePath)
			if err != nil {
				return err
			}
			plans, err := pipeline.PlanSteps(size, steps)
			if err != nil {
				logger.Printf("plan failed err=%v", err)
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(plans)
		},
	}
	cmd.Flags().StringVarP(&pipelinePath, "pipeline", "p", "", "JSON file holding the pipeline steps")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func newRunCmd(logger *log.Logger) *cobra.Command {
	var (
		pipelinePath string
		outputDir    string
		driver       string
		concurrency  int
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a pipeline against a local file and write every step's output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := readPipeline(pipelinePath)
			if err != nil {
				return err
			}
			if err := pipeline.Startup(); err != nil {
				return fmt.Errorf("start image runtime: %w", err)
			}
			defer pipeline.Shutdown()
			backend, err := pipeline.NewRegistry(pipeline.DetectCapabilities()).Backend(driver)
			if err != nil {
				return err
			}

			jobID := id.New()
			logger.Printf("running job_id=%s driver=%s steps=%d", jobID, backend.Name(), len(steps))

			result, err := pipeline.NewLocalProcessor(outputDir, backend).
				WithStepConcurrency(concurrency).
				Process(cmd.Context(), pipeline.Request{
					JobID:      jobID,
					SourceType: domain.SourceTypeLocalFile,
					ObjectKey:  args[0],
					Pipeline:   steps,
				})
			if err != nil {
				return err
			}
			renderOutputs(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&pipelinePath, "pipeline", "p", "", "JSON file holding the pipeline steps")
	cmd.Flags().StringVarP(&outputDir, "out", "o", "./.imagery-output", "directory receiving outputs")
	cmd.Flags().StringVar(&driver, "driver", "", "image driver, empty picks the best available")
	cmd.Flags().IntVar(&concurrency, "concurrency", 2, "steps processed at once")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func renderOutputs(w io.Writer, result pipeline.Result) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"STEP", "ACTIONS", "FORMAT", "SIZE", "BYTES", "PATH"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, o := range result.Outputs {
		table.Append([]string{
			o.StepID,
			strings.Join(o.Actions, ","),
			o.Format,
			fmt.Sprintf("%dx%d", o.Width, o.Height),
			strconv.Itoa(o.Bytes),
			o.Path,
		})
	}
	table.Render()
}

func newDriversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drivers",
		Short: "List the image drivers built into this binary",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			caps := pipeline.DetectCapabilities()
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"DRIVER", "OUTPUT FORMATS"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetBorder(false)
			for _, d := range caps.Drivers() {
				table.Append([]string{d, strings.Join(caps.OutputFormats(d), ",")})
			}
			table.Render()
		},
	}
}

func parseSize(s string) (geometry.Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return geometry.Size{}, fmt.Errorf("%w: %q", errBadSize, s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return geometry.Size{}, fmt.Errorf("%w: %q", errBadSize, s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return geometry.Size{}, fmt.Errorf("%w: %q", errBadSize, s)
	}
	return geometry.Size{Width: width, Height: height}, nil
}

func readPipeline(path string) ([]domain.PipelineStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var steps []domain.PipelineStep
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("parse pipeline %s: %w", path, err)
	}
	if err := domain.ValidatePipeline(steps); err != nil {
		return nil, err
	}
	return steps, nil
}
