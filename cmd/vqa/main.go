// Command vqa compares one reference raw YUV file against one or more
// distorted files of the same geometry and prints per-stream aggregate
// quality scores, optionally writing structured JSON reports.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/vqa"
	_ "github.com/opd-ai/vqa/engine/psnr"
	"github.com/opd-ai/vqa/frame"
	"github.com/opd-ai/vqa/report"
)

var opts struct {
	Reference  string
	Width      int
	Height     int
	TenBit     bool
	EngineName string
	ModelPath  string
	LogPath    string
	PoolMethod string
	Subsample  int
	Threads    int
	ConfInt    bool
	DoPSNR     bool
	DoSSIM     bool
	DoMSSSIM   bool
	Verbose    bool
}

var rootCmd = &cobra.Command{
	Use:   "vqa -r reference.yuv [flags] distorted.yuv [distorted2.yuv ...]",
	Short: "Full-reference video quality scoring",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return run(args)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.Reference, "reference", "r", "", "reference raw YUV file")
	f.IntVarP(&opts.Width, "width", "W", 0, "frame width in pixels")
	f.IntVarP(&opts.Height, "height", "H", 0, "frame height in pixels")
	f.BoolVar(&opts.TenBit, "ten-bit", false, "frames are 10-bit little endian")
	f.StringVar(&opts.EngineName, "engine", "psnr", "scoring engine")
	f.StringVar(&opts.ModelPath, "model", "", "model resource path")
	f.StringVar(&opts.LogPath, "log-path", "", "structured JSON report destination")
	f.StringVar(&opts.PoolMethod, "pool", "mean", "pooling method: min, mean or harmonic_mean")
	f.IntVar(&opts.Subsample, "subsample", 1, "score every Nth frame")
	f.IntVar(&opts.Threads, "threads", 0, "engine computation threads (0 = auto)")
	f.BoolVar(&opts.ConfInt, "ci", false, "enable bootstrap confidence interval models")
	f.BoolVar(&opts.DoPSNR, "psnr", false, "also compute PSNR")
	f.BoolVar(&opts.DoSSIM, "ssim", false, "also compute SSIM")
	f.BoolVar(&opts.DoMSSSIM, "ms-ssim", false, "also compute MS-SSIM")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	rootCmd.MarkFlagRequired("reference")
	rootCmd.MarkFlagRequired("width")
	rootCmd.MarkFlagRequired("height")
	f.SortFlags = false
}

func run(distorted []string) error {
	if opts.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	method, err := report.ParsePoolMethod(opts.PoolMethod)
	if err != nil {
		return err
	}

	format := frame.FormatI420
	if opts.TenBit {
		format = frame.FormatI420_10LE
	}
	geom := frame.Geometry{Width: opts.Width, Height: opts.Height, Format: format}
	if err := geom.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	log := logrus.WithFields(logrus.Fields{
		"run":      runID,
		"geometry": geom.String(),
		"streams":  len(distorted),
	})
	log.Info("Starting comparison run")

	options := vqa.NewOptions()
	options.EngineName = opts.EngineName
	options.ModelPath = opts.ModelPath
	options.LogPath = opts.LogPath
	options.PoolMethod = method
	options.Subsample = opts.Subsample
	options.Threads = opts.Threads
	options.ConfidenceInterval = opts.ConfInt
	options.DoPSNR = opts.DoPSNR
	options.DoSSIM = opts.DoSSIM
	options.DoMSSSIM = opts.DoMSSSIM

	element, err := vqa.New(options)
	if err != nil {
		return err
	}

	ref, err := newReader(opts.Reference, geom)
	if err != nil {
		return err
	}
	defer ref.Close()

	readers := make([]*yuvReader, len(distorted))
	for i, path := range distorted {
		r, err := newReader(path, geom)
		if err != nil {
			return err
		}
		defer r.Close()
		readers[i] = r
	}

	if err := element.Activate(len(distorted) + 1); err != nil {
		return err
	}

	bar := progressbar.NewOptions(ref.frameCount,
		progressbar.OptionSetDescription("scoring"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	// Drive one cycle per reference frame. Streams that fail drop out;
	// the rest keep scoring.
	const frameDuration = time.Second / 25
	for n := 0; ; n++ {
		refFrame, err := ref.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			element.Deactivate()
			return err
		}

		dists := make([]*frame.Frame, len(readers))
		for i, r := range readers {
			distFrame, err := r.Next()
			if err != nil {
				element.Deactivate()
				if errors.Is(err, io.EOF) {
					return fmt.Errorf("%s ended at frame %d, before the reference", distorted[i], n)
				}
				return err
			}
			dists[i] = distFrame
		}

		if _, err := element.AggregateFrames(time.Duration(n)*frameDuration, refFrame, dists); err != nil {
			log.WithField("cycle", n).Warn(err.Error())
		}
		bar.Add(1)
	}
	fmt.Fprintln(os.Stderr)

	element.Deactivate()

	failed := 0
	for _, outcome := range element.Outcomes() {
		if outcome.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d streams failed", failed, len(distorted))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
