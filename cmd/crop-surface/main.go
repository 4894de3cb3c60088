package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	cropsurface "github.com/menta2k/crop-surface"
	"github.com/menta2k/crop-surface/internal/config"
	"github.com/menta2k/crop-surface/internal/utils"
	"github.com/menta2k/crop-surface/pkg/client"
	"github.com/menta2k/crop-surface/pkg/geom"
	"github.com/menta2k/crop-surface/pkg/labeling"
	"github.com/menta2k/crop-surface/pkg/llamacpp"
	"github.com/menta2k/crop-surface/pkg/ollama"
	"github.com/menta2k/crop-surface/pkg/types"
	"github.com/menta2k/crop-surface/pkg/vision"
)

func main() {
	var in, boxesPath, outDir, ext, configPath string
	var cw, ch, rotation, zoom, panX, panY, dpr float64
	var quality int
	var lossless, useWorker, debug bool
	var label bool
	var backend, model, url string
	var suggest int
	var aspect string

	flag.StringVar(&in, "in", "", "input image path or URL (jpg/png/webp)")
	flag.StringVar(&boxesPath, "boxes", "", "JSON file with the crop boxes (container coordinates)")
	flag.StringVar(&outDir, "out", "", "output directory (default from config)")
	flag.StringVar(&configPath, "config", "", "config file (default "+config.GetConfigPath()+" if present)")

	flag.Float64Var(&cw, "cw", 0, "container width in CSS pixels (default: image width)")
	flag.Float64Var(&ch, "ch", 0, "container height in CSS pixels (default: image height)")
	flag.Float64Var(&dpr, "dpr", 1, "device pixel ratio")
	flag.Float64Var(&rotation, "rotation", 0, "viewport rotation in degrees")
	flag.Float64Var(&zoom, "zoom", 1, "viewport zoom factor")
	flag.Float64Var(&panX, "panx", 0, "viewport pan x")
	flag.Float64Var(&panY, "pany", 0, "viewport pan y")

	flag.StringVar(&ext, "ext", "", "output format for crops: png|jpg|webp (default from config)")
	flag.IntVar(&quality, "quality", 0, "JPEG/WebP output quality (1-100, default from config)")
	flag.BoolVar(&lossless, "lossless", false, "WebP output lossless mode")
	flag.BoolVar(&useWorker, "worker", false, "extract on the background worker")
	flag.BoolVar(&debug, "debug", false, "write an overlay image with the box outlines")

	flag.IntVar(&suggest, "suggest", 0, "without -boxes, crop up to N suggested salient regions")
	flag.StringVar(&aspect, "aspect", "", "without -boxes, crop one suggested region of a named ratio (square, portrait, landscape, widescreen, instagram, story)")

	flag.BoolVar(&label, "label", false, "label every crop with a vision model")
	flag.StringVar(&backend, "backend", "", "labeling backend: ollama or llamacpp")
	flag.StringVar(&model, "model", "", "vision model name")
	flag.StringVar(&url, "url", "", "vision server URL")

	flag.Parse()
	if in == "" || (boxesPath == "" && suggest <= 0 && aspect == "") {
		log.Fatalf("usage: %s -in input.jpg|URL -boxes boxes.json|-suggest N|-aspect name [-cw 500 -ch 400] [-rotation 0] [-zoom 1] [-panx 0 -pany 0] [-dpr 1] [-ext png|jpg|webp] [-out dir] [-worker] [-debug] [-label -model m -url u]", filepath.Base(os.Args[0]))
	}

	cfg := loadConfig(configPath)
	if ext != "" {
		cfg.Extract.Format = strings.ToLower(ext)
	}
	if quality > 0 {
		cfg.Extract.Quality = quality
	}
	if lossless {
		cfg.Extract.Lossless = true
	}
	if outDir != "" {
		cfg.Output.OutputDir = outDir
	}
	if useWorker {
		cfg.Worker.Enabled = true
	}
	if label {
		cfg.Labeling.Enabled = true
	}
	if backend != "" {
		cfg.Labeling.Backend = backend
	}
	if model != "" {
		cfg.Labeling.Model = model
	}
	if url != "" {
		cfg.Labeling.URL = url
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	cs := cropsurface.NewWithConfig(cfg.ExtractorConfig(), cfg.BridgeConfig(), cfg.SessionConfig())
	defer cs.Close()

	img, err := cs.LoadImage(in)
	if err != nil {
		log.Fatal(err)
	}
	info := cs.GetImageInfo(img)
	log.Printf("image %dx%d (ratio %.3f)", info.Width, info.Height, info.AspectRatio)

	if cw <= 0 {
		cw = float64(info.Width)
	}
	if ch <= 0 {
		ch = float64(info.Height)
	}
	c := types.Container{Width: cw, Height: ch, PixelRatio: dpr}
	v := types.Viewport{Rotation: rotation, Zoom: zoom, Pan: geom.V(panX, panY)}

	var boxes []types.CropBox
	switch {
	case boxesPath != "":
		boxes, err = loadBoxes(boxesPath)
		if err != nil {
			log.Fatal(err)
		}
	case aspect != "":
		ratio, ok := vision.ParseAspectRatio(strings.ToLower(aspect))
		if !ok {
			log.Fatalf("unknown aspect ratio: %s", aspect)
		}
		boxes = []types.CropBox{cs.SuggestAspect(img, c, v, ratio)}
	default:
		boxes = cs.Suggest(img, c, v, suggest)
		log.Printf("suggested %d boxes", len(boxes))
	}

	start := time.Now()
	var artifacts types.ArtifactMap
	if cfg.Worker.Enabled {
		reply, err := cs.ExtractAsync(context.Background(), img, boxes, c, v)
		if err != nil {
			log.Fatalf("worker extraction failed: %v", err)
		}
		artifacts = reply.ImageMap
		log.Printf("worker surface version %d", reply.Version)
	} else {
		artifacts = cs.Extract(img, boxes, c, v)
	}
	log.Printf("extracted %d of %d boxes in %s", len(artifacts), len(boxes), time.Since(start).Round(time.Millisecond))

	for _, b := range boxes {
		if _, ok := artifacts[b.ID]; !ok {
			log.Printf("box %q produced no artifact", b.ID)
		}
	}

	paths, err := cs.SaveArtifacts(artifacts, cfg.Output.OutputDir, cfg.Output.Prefix, cfg.Output.Suffix)
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil {
			log.Printf("wrote %s (%s)", p, utils.FormatFileSize(st.Size()))
		}
	}

	manifest := filepath.Join(cfg.Output.OutputDir, cfg.Output.ManifestName)
	if err := cs.WriteManifest(artifacts, manifest); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %s", manifest)

	if debug {
		overlay := cs.Overlay(img, boxes, c, v)
		dbgPath := filepath.Join(cfg.Output.OutputDir, "000_overlay.png")
		if err := cs.SaveImage(overlay, dbgPath); err != nil {
			log.Printf("debug overlay save failed: %v", err)
		} else {
			log.Printf("wrote %s", dbgPath)
		}
	}

	if cfg.Labeling.Enabled {
		runLabeling(cfg, artifacts)
	}
}

func loadConfig(path string) *config.Config {
	if path == "" {
		if def := config.GetConfigPath(); utils.FileExists(def) {
			path = def
		}
	}
	if path == "" {
		return config.Default()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("using config %s", path)
	return cfg
}

func loadBoxes(path string) ([]types.CropBox, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boxes: %w", err)
	}
	var boxes []types.CropBox
	if err := json.Unmarshal(data, &boxes); err != nil {
		return nil, fmt.Errorf("failed to parse boxes: %w", err)
	}
	for i := range boxes {
		if boxes[i].ID == "" {
			boxes[i].ID = types.NewCropBox(0, 0, 0).ID
		}
	}
	return boxes, nil
}

func runLabeling(cfg *config.Config, artifacts types.ArtifactMap) {
	var visionClient client.VisionClient
	switch cfg.Labeling.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.Labeling.URL)
		if err != nil {
			log.Fatalf("Failed to create Ollama client: %v", err)
		}
		c.SetTimeout(cfg.LabelingTimeout())
		visionClient = c
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.Labeling.URL)
		if err != nil {
			log.Fatalf("Failed to create llama.cpp client: %v", err)
		}
		c.SetTimeout(cfg.LabelingTimeout())
		visionClient = c
	default:
		log.Fatalf("Unknown backend: %s (use 'ollama' or 'llamacpp')", cfg.Labeling.Backend)
	}

	labeler := labeling.NewLabeler(visionClient)
	labeler.SetPrompt(cfg.Labeling.Prompt)
	labeler.SetConcurrency(cfg.Labeling.Concurrency)

	labels, err := labeler.LabelArtifacts(context.Background(), cfg.Labeling.Model, artifacts)
	if err != nil {
		log.Printf("labeling: %v", err)
	}
	for _, id := range artifacts.IDs() {
		if l, ok := labels[id]; ok {
			log.Printf("%s: label=%q conf=%.2f tags=%v", id, l.Label, l.Confidence, l.Tags)
		}
	}

	js, _ := json.MarshalIndent(labels, "", "  ")
	_ = os.WriteFile(filepath.Join(cfg.Output.OutputDir, "labels.json"), js, 0o644)
}
