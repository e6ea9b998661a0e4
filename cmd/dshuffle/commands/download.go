package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittoshuffle/internal/cli/output"
	"github.com/marmos91/dittoshuffle/pkg/shuffle"
	"github.com/marmos91/dittoshuffle/pkg/transfer"
)

var (
	downloadShuffle int32
	downloadMap     int32
	downloadAttempt int64
	downloadReduces []int32
	downloadOut     string
	downloadRetry   bool
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download shuffle blocks",
	Long: `Download shuffle blocks from the configured storage.

Without --reduce the whole map output is fetched. With --reduce, each listed
reduce partition is fetched as its own block using the map output's index.
Blocks are written to --out as <block>.block files; use --out - to stream a
single block to stdout.

Examples:
  # Fetch reduce partitions 0-2 of map 4 in shuffle 1
  dshuffle download --shuffle 1 --map 4 --reduce 0,1,2 --out ./blocks

  # Stream one block to another tool
  dshuffle download --shuffle 1 --map 4 --reduce 7 --out - | hexdump -C`,
	Args: cobra.NoArgs,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().Int32Var(&downloadShuffle, "shuffle", 0, "Shuffle id")
	downloadCmd.Flags().Int32Var(&downloadMap, "map", 0, "Map id")
	downloadCmd.Flags().Int64Var(&downloadAttempt, "attempt", 0, "Map task attempt id")
	downloadCmd.Flags().Int32SliceVar(&downloadReduces, "reduce", nil, "Reduce partitions to fetch (default: whole map output)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", ".", "Output directory, or - for stdout")
	downloadCmd.Flags().BoolVar(&downloadRetry, "retry", false, "Retry transient failures with exponential backoff")
	_ = downloadCmd.MarkFlagRequired("shuffle")
	_ = downloadCmd.MarkFlagRequired("map")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ids := blockIDs(downloadShuffle, downloadMap, downloadAttempt, downloadReduces)
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return err
		}
	}
	toStdout := downloadOut == "-"
	if toStdout && len(ids) != 1 {
		return fmt.Errorf("--out - needs exactly one block, got %d", len(ids))
	}

	printer, err := newPrinter()
	if err != nil {
		return err
	}

	sess, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	if toStdout {
		return streamBlock(cmd.Context(), sess.engine.Client, ids[0], cmd.OutOrStdout())
	}

	if err := os.MkdirAll(downloadOut, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	report := downloadAll(cmd.Context(), sess.engine.Client, ids, downloadOut, downloadRetry)
	return finishReport(printer, report, "download")
}

func blockIDs(shuffleID, mapID int32, attemptID int64, reduces []int32) []shuffle.BlockID {
	if len(reduces) == 0 {
		return []shuffle.BlockID{{ShuffleID: shuffleID, MapID: mapID, ReduceID: shuffle.NoReduceID, AttemptID: attemptID}}
	}
	ids := make([]shuffle.BlockID, 0, len(reduces))
	for _, r := range reduces {
		ids = append(ids, shuffle.BlockID{ShuffleID: shuffleID, MapID: mapID, ReduceID: r, AttemptID: attemptID})
	}
	return ids
}

func streamBlock(ctx context.Context, client *transfer.Client, id shuffle.BlockID, w io.Writer) error {
	fut, err := client.DownloadBlockTo(ctx, id, w)
	if err != nil {
		return err
	}
	_, err = fut.Wait(ctx)
	return err
}

func downloadAll(ctx context.Context, client *transfer.Client, ids []shuffle.BlockID, dir string, retry bool) *output.TransferReport {
	var (
		mu     sync.Mutex
		report output.TransferReport
	)
	record := func(id shuffle.BlockID, path string, res *transfer.DownloadResult, err error) {
		entry := output.TransferEntry{Block: id.String(), Kind: transfer.KindDownload.String()}
		if err != nil {
			entry.Error = err.Error()
			_ = os.Remove(path)
		} else {
			entry.Backend = res.Backend
			entry.Bytes = res.Size
			entry.Duration = res.Duration
			entry.Target = path
		}
		mu.Lock()
		report.Add(entry)
		mu.Unlock()
	}

	var g errgroup.Group
	for _, id := range ids {
		id := id // per-iteration copy for goroutine capture (go 1.21 loop semantics)
		path := filepath.Join(dir, id.String()+".block")

		if retry {
			g.Go(func() error {
				res, err := transfer.DownloadWithRetry(ctx, client, id, transfer.DefaultRetryPolicy())
				if err == nil {
					err = saveResult(res, path)
				}
				record(id, path, res, err)
				return nil
			})
			continue
		}

		f, err := os.Create(path)
		if err != nil {
			record(id, path, nil, err)
			continue
		}
		fut, err := client.DownloadBlockTo(ctx, id, f)
		if err != nil {
			_ = f.Close()
			record(id, path, nil, err)
			continue
		}
		g.Go(func() error {
			res, err := fut.Wait(ctx)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			record(id, path, res, err)
			return nil
		})
	}
	_ = g.Wait()
	return &report
}

// saveResult copies a buffered or spilled result to path and releases it.
func saveResult(res *transfer.DownloadResult, path string) (err error) {
	defer func() { _ = res.Close() }()

	src, err := res.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(dst, src)
	return err
}
