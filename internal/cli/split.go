package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yezidelongshao/fastGPTProject/internal/chunk"
	"github.com/yezidelongshao/fastGPTProject/internal/domain"
	"github.com/yezidelongshao/fastGPTProject/internal/service"
)

func newSplitCmd() *cobra.Command {
	var (
		mode      string
		chunkSize int
	)

	cmd := &cobra.Command{
		Use:   "split <file>",
		Short: "Preview how a file is chunked on import",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var size *int
			if cmd.Flags().Changed("chunk-size") {
				size = &chunkSize
			}
			return runSplit(cmd.OutOrStdout(), args[0], mode, size)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.TrainingModeChunk), "training mode (auto, chunk, qa)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "chunk size, chunk mode only")
	return cmd
}

func runSplit(w io.Writer, path, mode string, chunkSize *int) error {
	fileType := service.DetectFileType(filepath.Base(path))
	if !service.IsSupported(fileType) {
		return fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}

	trainingMode, err := domain.ParseTrainingMode(mode)
	if err != nil {
		return err
	}
	ds := domain.Dataset{VectorModel: cfg.Dataset.VectorModel, AgentModel: cfg.Dataset.AgentModel}
	pol, err := chunk.Resolve(trainingMode, ds.Limits(), &chunk.Overrides{ChunkSize: chunkSize})
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	text, err := service.ExtractText(fileType, f)
	if err != nil {
		return err
	}
	chunks, err := chunk.SplitAtBoundaries(text, pol.ChunkSize, pol.OverlapRatio)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "mode=%s chunk_size=%d overlap=%d chunks=%d estimate=%.4f\n",
		pol.Mode, pol.ChunkSize, chunk.Overlap(pol.ChunkSize, pol.OverlapRatio), len(chunks),
		pol.Estimate(len([]rune(text))))
	for _, c := range chunks {
		fmt.Fprintf(w, "--- #%d (%d chars)\n%s\n", c.Index, len([]rune(c.Text)), c.Text)
	}
	return nil
}
