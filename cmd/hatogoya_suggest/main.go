// Copyright 2026 The Hatogoya Authors. SPDX-License-Identifier: Apache-2.0

// hatogoya_suggest inspects an HDF5 image classification dataset, probes the largest batch size that fits
// in the device, and prints (or saves) a suggested training recipe in YAML.
//
// Usage:
//
//	hatogoya_suggest -h5 ~/data/plants.h5 -model vit_small -out configs/plants.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/cipikiko/Hatogoya/pkg/advisor"
	"github.com/cipikiko/Hatogoya/pkg/policy"
	"github.com/cipikiko/Hatogoya/pkg/recipe"
	"github.com/cipikiko/Hatogoya/ui/commandline"
	"github.com/cipikiko/Hatogoya/ui/plots"
	_ "github.com/gomlx/gomlx/backends/default"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	gomlxcli "github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagDataset      = flag.String("h5", "", "Path to the HDF5 dataset file. Required.")
	flagArchitecture = flag.String("model", advisor.DefaultArchitecture, "Model architecture name, e.g. resnet18, resnet50, vit_small.")
	flagDevice       = flag.String("device", advisor.DefaultDevice, `Device to train on: "cuda" or "cpu". Falls back to "cpu" if "cuda" is not available.`)
	flagImageSize    = flag.Int("img_size", 0, "Training image resolution. If 0, the larger of the dataset images height and width.")
	flagUpdates      = flag.Int("updates", policy.DefaultTargetUpdates, "Target number of optimizer updates of the whole training.")
	flagOutput       = flag.String("out", "", "Path where to save the recipe. If empty, it is printed to the standard output.")
	flagAMP          = flag.Bool("amp", true, "Use mixed precision (bfloat16) when probing on cuda.")
	flagHeadroom     = flag.Float64("headroom", 0, "Maximum fraction of the device memory a probe trial may use. If 0, the default (or the value given with -set).")
	flagReport       = flag.Bool("report", false, "Print the dataset insights, the probe trials and the derived schedule to the standard error.")
	flagPlot         = flag.String("plot", "", "Directory where to save the learning rate schedule, class counts and probe plots.")
	flagSettings     *string
)

func main() {
	ctx := advisor.DefaultContext()
	flagSettings = gomlxcli.CreateContextSettingsFlag(ctx, "set")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagDataset == "" {
		klog.Errorf("Missing dataset path, set it with -h5. See 'hatogoya_suggest -help'.")
		os.Exit(1)
	}

	ctx.SetParam(advisor.ParamTargetUpdates, *flagUpdates)
	if *flagHeadroom > 0 {
		ctx.SetParam(advisor.ParamHeadroom, *flagHeadroom)
	}
	paramsSet := must.M1(gomlxcli.ParseContextSettings(ctx, *flagSettings))
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Settings:\n%s", gomlxcli.SprintModifiedContextSettings(ctx, paramsSet))
	}

	opts := advisor.Options{
		DatasetPath:    must.M1(fsutil.ReplaceTildeInDir(*flagDataset)),
		Architecture:   *flagArchitecture,
		Device:         *flagDevice,
		ImageSize:      *flagImageSize,
		MixedPrecision: *flagAMP,
	}
	opts.ApplyContext(ctx)
	var progress *commandline.ProbeProgress
	if *flagReport {
		progress = commandline.NewProbeProgressTo(os.Stderr, opts.Capacity.MinBatch, opts.Capacity.MaxBatch)
		opts.Capacity.OnTrial = progress.OnTrial
	}

	runCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	suggestion, err := advisor.Suggest(runCtx, opts)
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		klog.Fatalf("Failed to suggest a recipe for %q: %+v", opts.DatasetPath, err)
	}

	if *flagReport {
		_, _ = fmt.Fprintln(os.Stderr, commandline.Report(suggestion))
	}
	if *flagPlot != "" {
		plotDir := must.M1(fsutil.ReplaceTildeInDir(*flagPlot))
		must.M(plots.SaveSuggestion(plotDir, suggestion))
		klog.Infof("Plots saved to %q", plotDir)
	}

	if *flagOutput == "" {
		fmt.Print(string(must.M1(recipe.Marshal(suggestion.Recipe))))
		return
	}
	outPath := must.M1(fsutil.ReplaceTildeInDir(*flagOutput))
	must.M(recipe.Save(outPath, suggestion.Recipe))
	klog.Infof("Recipe saved to %q", outPath)
}
