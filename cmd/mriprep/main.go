package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"mriprep/pkg/config"
	"mriprep/pkg/dicomio"
	"mriprep/pkg/pipeline"
	"mriprep/pkg/visualization"
)

func main() {
	// Parse command line arguments
	inputDir := flag.String("input", "", "Directory containing the DICOM series")
	outputFile := flag.String("output", "output.npy", "Output .npy filename (a .yaml geometry sidecar is written next to it)")
	configPath := flag.String("config", "config.yaml", "Configuration file")
	seriesUID := flag.String("series", "", "SeriesInstanceUID to process (default: first series found)")
	listSeries := flag.Bool("list-series", false, "List the DICOM series found in the input directory and exit")
	numCores := flag.Int("cores", 0, "Number of CPU cores to use (default: from config)")
	saveIntermediary := flag.Bool("save-intermediary", false, "Save a preview after every stage")
	intermediaryDir := flag.String("intermediary-dir", "", "Directory to save intermediary results")
	extractSlices := flag.Bool("extract-slices", false, "Extract and save processed slices along all axes")
	slicesDir := flag.String("slices-dir", "processed_slices", "Directory to save extracted slices")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to create config file: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	// Validate inputs
	if *inputDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	if *listSeries {
		series, err := dicomio.ListSeries(*inputDir)
		if err != nil {
			log.Fatalf("Failed to list series: %v", err)
		}
		for _, s := range series {
			fmt.Printf("%s\t%s\t%d slices\t%s\n", s.UID, s.Modality, len(s.Slices), s.Description)
		}
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Explicitly set flags override the configuration file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cores":
			cfg.Processing.NumCores = *numCores
		case "save-intermediary":
			cfg.Output.SaveIntermediaryResults = *saveIntermediary
		case "intermediary-dir":
			cfg.Output.IntermediaryDir = *intermediaryDir
		}
	})

	opts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("MRI PREPROCESSING: ORIENT, RESAMPLE, BIAS CORRECT, NORMALIZE, DENOISE, CROP")
	fmt.Println("================================")

	params := &pipeline.Params{
		InputDir:                *inputDir,
		SeriesUID:               *seriesUID,
		OutputFile:              *outputFile,
		NumCores:                cfg.Processing.NumCores,
		Verbose:                 cfg.Processing.Verbose,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
		PreviewSize:             cfg.Output.PreviewSize,
		Options:                 opts,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	preprocessor := pipeline.NewPreprocessor(params)

	fmt.Printf("Starting preprocessing with %d cores...\n", params.NumCores)
	startTime := time.Now()
	if err := preprocessor.Process(ctx); err != nil {
		log.Fatalf("Preprocessing failed: %v", err)
	}
	if err := preprocessor.Save(); err != nil {
		log.Fatalf("Failed to save output: %v", err)
	}
	processingTime := time.Since(startTime)

	fmt.Printf("\nPreprocessing completed successfully in %.2f seconds!\n", processingTime.Seconds())
	fmt.Printf("Output volume saved to: %s\n\n", *outputFile)

	fmt.Printf("%-16s %-14s %-22s %10s %10s %10s %10s %10s\n",
		"Stage", "Size", "Spacing (mm)", "Min", "Max", "Mean", "StdDev", "Time")
	for _, s := range preprocessor.GetStats() {
		fmt.Printf("%-16s %-14s %-22s %10.3f %10.3f %10.3f %10.3f %10s\n",
			s.Stage, s.Size, s.Spacing, s.Min, s.Max, s.Mean, s.StdDev, s.Duration.Round(time.Millisecond))
	}

	// Extract and save slices if requested
	if *extractSlices {
		fmt.Println("\nExtracting processed slices along all axes...")

		viewer := visualization.NewViewer(preprocessor.GetVolume())
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)

			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: Failed to save %s-axis slices: %v", axis, err)
			}
		}

		fmt.Println("Slice extraction completed!")
	}

	if params.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", params.IntermediaryDir)
	}
}
