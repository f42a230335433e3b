package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jmerrifield20/starregistry/internal/chain"
	"github.com/jmerrifield20/starregistry/pkg/client"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	exportFrom        int
	exportTo          int
	exportOut         string
	exportConcurrency int
	exportVerify      bool
	exportProgress    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download ledger blocks as JSON lines",
	Long: `Export fetches a range of blocks from the notary and writes one JSON
object per line, in height order.

With --verify the downloaded range is re-validated locally: every block hash
is recomputed and every link checked, without trusting the notary's own audit.

  starctl export --out ledger.jsonl --verify`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().IntVar(&exportFrom, "from", 0, "First height to export")
	exportCmd.Flags().IntVar(&exportTo, "to", -1, "Last height to export (default: current tip)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().IntVar(&exportConcurrency, "concurrency", 8, "Parallel block fetches")
	exportCmd.Flags().BoolVar(&exportVerify, "verify", false, "Recompute hashes and links of the exported range")
	exportCmd.Flags().BoolVar(&exportProgress, "progress", true, "Show a progress bar on stderr")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	to := exportTo
	if to < 0 {
		st, err := c.Ledger(cmd.Context())
		if err != nil {
			return fmt.Errorf("get ledger tip: %w", err)
		}
		to = st.Height
	}
	if exportFrom < 0 || exportFrom > to {
		return fmt.Errorf("invalid range [%d, %d]", exportFrom, to)
	}
	if exportConcurrency < 1 {
		exportConcurrency = 1
	}

	var bar *progressbar.ProgressBar
	if exportProgress {
		bar = progressbar.NewOptions(
			to-exportFrom+1,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Fetching blocks..."),
			progressbar.OptionShowCount(),
		)
	}

	blocks := make([]*client.Block, to-exportFrom+1)
	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.SetLimit(exportConcurrency)
	for height := exportFrom; height <= to; height++ {
		eg.Go(func() error {
			b, err := c.GetBlockByHeight(ctx, height)
			if err != nil {
				return fmt.Errorf("block %d: %w", height, err)
			}
			blocks[height-exportFrom] = b
			if bar != nil {
				_ = bar.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	for _, b := range blocks {
		if err := enc.Encode(b); err != nil {
			return fmt.Errorf("write block %d: %w", b.Height, err)
		}
	}

	if !exportVerify {
		return nil
	}
	errs := verifyBlocks(blocks)
	for _, e := range errs {
		fmt.Fprintln(cmd.ErrOrStderr(), e.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("exported range has %d integrity errors", len(errs))
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Verified blocks %d..%d\n", exportFrom, to)
	return nil
}

// verifyBlocks re-validates a contiguous range of downloaded blocks. A range
// starting at genesis gets the full chain checks.
func verifyBlocks(blocks []*client.Block) []chain.ValidationError {
	local := make([]*chain.Block, len(blocks))
	for i, b := range blocks {
		local[i] = &chain.Block{
			Height:       b.Height,
			Timestamp:    b.Time,
			PreviousHash: b.PreviousHash,
			Hash:         b.Hash,
			Body:         b.Body,
		}
	}
	hasher := chain.SHA256Hasher{}
	if len(local) > 0 && local[0].IsGenesis() {
		return chain.ValidateChain(local, hasher)
	}

	var errs []chain.ValidationError
	for i, b := range local {
		if i == 0 {
			if got := b.ComputeHash(hasher); got != b.Hash {
				errs = append(errs, chain.ValidationError{
					Height: b.Height, Kind: chain.KindHashMismatch, Expected: got, Actual: b.Hash,
				})
			}
			continue
		}
		if e := chain.ValidateBlock(b, local[i-1], hasher); e != nil {
			errs = append(errs, *e)
		}
	}
	return errs
}
