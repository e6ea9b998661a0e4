package commands

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittoshuffle/internal/cli/output"
	"github.com/marmos91/dittoshuffle/internal/logger"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/transfer"
)

var (
	uploadShuffle int32
	uploadRetry   bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload PATH...",
	Short: "Upload local map outputs",
	Long: `Upload map outputs to the configured storage.

Each PATH is a shuffle_<shuffle>_<map>_<attempt>.data file or a directory
scanned recursively for them. A matching .index file next to a data file is
uploaded with it. Uploads run concurrently up to transfer.upload_parallelism.

Examples:
  # Upload every map output under a Spark local dir
  dshuffle upload /tmp/blockmgr-1234

  # Upload only shuffle 3, retrying transient failures
  dshuffle upload /tmp/blockmgr-1234 --shuffle 3 --retry`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Int32Var(&uploadShuffle, "shuffle", -1, "Only upload map outputs of this shuffle")
	uploadCmd.Flags().BoolVar(&uploadRetry, "retry", false, "Retry transient failures with exponential backoff")
}

func runUpload(cmd *cobra.Command, args []string) error {
	outputs, err := collectMapOutputs(args, uploadShuffle)
	if err != nil {
		return err
	}
	printer, err := newPrinter()
	if err != nil {
		return err
	}
	if len(outputs) == 0 {
		printer.Warning("No map outputs found")
		return nil
	}

	sess, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	report := uploadAll(cmd.Context(), sess.engine.Client, outputs, uploadRetry)
	return finishReport(printer, report, "upload")
}

func uploadAll(ctx context.Context, client *transfer.Client, outputs []shuffle.MapOutput, retry bool) *output.TransferReport {
	var (
		mu     sync.Mutex
		report output.TransferReport
	)
	record := func(mo shuffle.MapOutput, res *transfer.UploadResult, err error) {
		entry := output.TransferEntry{Block: mo.ID().String(), Kind: transfer.KindUpload.String()}
		if err != nil {
			entry.Error = err.Error()
		} else {
			entry.Backend = res.Backend
			entry.Bytes = res.BytesUploaded
			entry.Duration = res.Duration
			entry.Target = res.Location.DataKey
		}
		mu.Lock()
		report.Add(entry)
		mu.Unlock()
	}

	var g errgroup.Group
	for _, mo := range outputs {
		mo := mo // per-iteration copy for goroutine capture (go 1.21 loop semantics)
		if retry {
			g.Go(func() error {
				res, err := transfer.UploadWithRetry(ctx, client, mo, transfer.DefaultRetryPolicy())
				record(mo, res, err)
				return nil
			})
			continue
		}

		fut, err := client.UploadMapOutput(ctx, mo)
		if err != nil {
			record(mo, nil, err)
			continue
		}
		g.Go(func() error {
			res, err := fut.Wait(ctx)
			record(mo, res, err)
			return nil
		})
	}
	_ = g.Wait()
	return &report
}

// collectMapOutputs finds map-output data files under paths, pairing each
// with its index file when present. shuffleID < 0 keeps every shuffle.
func collectMapOutputs(paths []string, shuffleID int32) ([]shuffle.MapOutput, error) {
	found := make(map[shuffle.BlockID]*shuffle.MapOutput)
	visit := func(path string) {
		id, isIndex, ok := shuffle.ParseMapOutputFile(path)
		if !ok || (shuffleID >= 0 && id.ShuffleID != shuffleID) {
			return
		}
		mo := found[id]
		if mo == nil {
			mo = &shuffle.MapOutput{ShuffleID: id.ShuffleID, MapID: id.MapID, AttemptID: id.AttemptID}
			found[id] = mo
		}
		if isIndex {
			mo.IndexPath = path
		} else {
			mo.DataPath = path
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			visit(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				visit(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
	}

	outputs := make([]shuffle.MapOutput, 0, len(found))
	for id, mo := range found {
		if mo.DataPath == "" {
			logger.Warn("Index file without data file, skipping",
				logger.KeyPath, mo.IndexPath,
				logger.KeyShuffleID, id.ShuffleID,
				logger.KeyMapID, id.MapID)
			continue
		}
		outputs = append(outputs, *mo)
	}
	sort.Slice(outputs, func(i, j int) bool {
		a, b := outputs[i], outputs[j]
		if a.ShuffleID != b.ShuffleID {
			return a.ShuffleID < b.ShuffleID
		}
		if a.MapID != b.MapID {
			return a.MapID < b.MapID
		}
		return a.AttemptID < b.AttemptID
	})
	return outputs, nil
}

// finishReport prints the report and turns failures into the command error.
func finishReport(printer *output.Printer, report *output.TransferReport, verb string) error {
	if err := printer.Print(report); err != nil {
		return err
	}
	failed := report.Failures()
	if failed > 0 {
		return fmt.Errorf("%d of %d %ss failed", failed, len(report.Entries), verb)
	}
	printer.Success("%d %ss completed, %s transferred", len(report.Entries), verb, output.FormatBytes(report.TotalBytes()))
	return nil
}
