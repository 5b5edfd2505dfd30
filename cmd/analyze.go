package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/w3spi5/bigdump-sub000/internal/analysis"
	"github.com/w3spi5/bigdump-sub000/internal/stream"
	"github.com/w3spi5/bigdump-sub000/internal/tuner"
)

var (
	analyzeJSON    bool
	analyzeProfile string

	analyzeCmd = &cobra.Command{
		Use:   "analyze <dump-file>",
		Short: "Show file characteristics and the batch size the tuner would pick",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
)

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "emit machine-readable JSON")
	analyzeCmd.Flags().StringVar(&analyzeProfile, "profile", "conservative", "tuning profile: conservative or aggressive")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	applyGlobalFlags()
	path := args[0]

	res, err := analysis.FromFile(path)
	if err != nil {
		return err
	}

	profile, err := tuner.ParseProfile(analyzeProfile)
	if err != nil {
		log.Warn("unknown profile, falling back to conservative", "profile", analyzeProfile)
	}
	codec := stream.DetectCodec(path)
	t := tuner.New(profile, codec, res)

	if analyzeJSON {
		out := map[string]interface{}{
			"analysis": res,
			"tuner":    t.Metrics(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("File:        %s\n", path)
	fmt.Printf("Size:        %s (%s)\n", humanize.Bytes(uint64(res.FileSize)), res.CategoryLabel)
	fmt.Printf("Codec:       %s\n", codec)
	fmt.Printf("Est. lines:  %s", humanize.Comma(res.EstimatedLines))
	if res.Approximate {
		fmt.Print(" (approximate)")
	}
	fmt.Println()
	fmt.Printf("Profile:     %s", t.EffectiveProfile())
	if t.Downgraded() {
		fmt.Print(" (downgraded from aggressive: low memory headroom)")
	}
	fmt.Println()
	fmt.Printf("Batch size:  %s rows\n", humanize.Comma(int64(t.BatchSize())))
	return nil
}
