package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/setanarut/voxelstl"
	"github.com/setanarut/voxelstl/config"
	"github.com/setanarut/voxelstl/server"
	"github.com/setanarut/voxelstl/stl"
	"github.com/setanarut/voxelstl/utils"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "voxelstl",
		Short:         "Turn a photo into a layered multi-color voxel STL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "voxelstl.yaml", "YAML config file")
	root.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file")

	root.AddCommand(buildCmd(), infoCmd(), serveCmd(), configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath, envFile)
}

type pipelineFlags struct {
	maxSize, blockSize, colors, colorLayers, maxSamples, workers int
	nozzleSize, layerHeight                                      float64
	method, order                                                string
	solid                                                        bool
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	def := config.DefaultConfig().Pipeline
	fs := cmd.Flags()
	fs.IntVar(&f.maxSize, "max-size", def.MaxSize, "bound on the longer canvas edge in pixels")
	fs.IntVar(&f.blockSize, "block", int(def.BlockSize), "tile edge in canvas pixels, 0 picks one from the image size")
	fs.IntVarP(&f.colors, "colors", "k", def.Colors, "palette size")
	fs.IntVar(&f.colorLayers, "color-layers", def.ColorLayers, "print layers per color")
	fs.IntVar(&f.maxSamples, "max-samples", def.MaxSamples, "upper bound on k-means samples")
	fs.IntVar(&f.workers, "workers", def.Workers, "goroutines for block averaging")
	fs.Float64Var(&f.nozzleSize, "nozzle", def.NozzleSize, "nozzle / pixel size in mm")
	fs.Float64Var(&f.layerHeight, "layer-height", def.LayerHeight, "layer height in mm")
	fs.StringVar(&f.method, "method", def.Method, "palette method: kmeans or dominantcolor")
	fs.StringVar(&f.order, "order", def.Order, "band order: cluster, brightness or population")
	fs.BoolVar(&f.solid, "solid", def.Solid, "extrude every column from the bed")
}

// apply copies only the flags set on the command line over cfg.
func (f *pipelineFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	p := &cfg.Pipeline
	fs := cmd.Flags()
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("max-size", func() { p.MaxSize = f.maxSize })
	set("block", func() { p.BlockSize = config.BlockSize(f.blockSize) })
	set("colors", func() { p.Colors = f.colors })
	set("color-layers", func() { p.ColorLayers = f.colorLayers })
	set("max-samples", func() { p.MaxSamples = f.maxSamples })
	set("workers", func() { p.Workers = f.workers })
	set("nozzle", func() { p.NozzleSize = f.nozzleSize })
	set("layer-height", func() { p.LayerHeight = f.layerHeight })
	set("method", func() { p.Method = f.method })
	set("order", func() { p.Order = f.order })
	set("solid", func() { p.Solid = f.solid })
}

func buildCmd() *cobra.Command {
	var (
		flags       pipelineFlags
		output      string
		split       bool
		previewPath string
		palettePath string
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:   "build IMAGE",
		Short: "Build a layered voxel STL from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			flags.apply(cmd, cfg)
			if cmd.Flags().Changed("verbose") {
				cfg.Output.Verbose = verbose
			}
			opt, err := cfg.Options()
			if err != nil {
				return err
			}

			img, err := utils.ReadImage(args[0])
			if err != nil {
				return err
			}
			b := voxelstl.NewBuilder(img)
			if cfg.Output.Verbose {
				b.Logger = log.New(os.Stderr, "", log.LstdFlags)
			}
			start := time.Now()
			if err := b.Build(cmd.Context(), opt); err != nil {
				return err
			}

			if split {
				if err := writeBands(b, output); err != nil {
					return err
				}
			} else {
				if err := b.SaveSTL(output); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", output)
			}
			if previewPath != "" {
				if err := utils.SaveImage(b.Preview(), previewPath); err != nil {
					return err
				}
			}
			if palettePath != "" {
				if err := utils.SavePalette(b.Palette, 64, palettePath); err != nil {
					return err
				}
			}

			st := b.Stats()
			fmt.Printf("Palette: %s\n", strings.Join(b.Colors.Order, " "))
			fmt.Printf("Tiles: %d  Boxes: %d  Triangles: %d  Avg run: %.2f\n", st.Tiles, st.Boxes, st.Triangles, st.AvgRun)
			fmt.Printf("Size: %.2f x %.2f x %.2f mm\n", b.Model.Size.X, b.Model.Size.Y, b.Model.Size.Z)
			fmt.Printf("Done in %.2fs\n", time.Since(start).Seconds())
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "model.stl", "output STL file")
	cmd.Flags().BoolVar(&split, "split", false, "write one STL per color band")
	cmd.Flags().StringVar(&previewPath, "preview", "", "save the quantized preview PNG")
	cmd.Flags().StringVar(&palettePath, "palette", "", "save a palette swatch PNG")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline progress")
	return cmd
}

func writeFile(path string, write func(w io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	err = write(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = errors.Wrap(cerr, "close output")
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

// writeBands writes model_0_<hex>.stl, model_1_<hex>.stl, ... next to path.
func writeBands(b *voxelstl.Builder, path string) error {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for band, hex := range b.Colors.Order {
		name := fmt.Sprintf("%s_%d_%s%s", base, band, strings.TrimPrefix(hex, "#"), ext)
		err := writeFile(name, func(w io.Writer) error {
			return b.WriteBandSTL(w, band)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE.stl",
		Short: "Print statistics of an STL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := stl.ReadFile(args[0])
			if err != nil {
				return err
			}
			info := stl.Analyze(f.Triangles)
			fmt.Printf("File: %s\n", filepath.Base(args[0]))
			fmt.Printf("Header: %q\n", f.Header)
			fmt.Printf("Triangles: %d\n", info.Triangles)
			fmt.Printf("Bounding box: (%.3f, %.3f, %.3f) - (%.3f, %.3f, %.3f)\n",
				info.Min.X, info.Min.Y, info.Min.Z, info.Max.X, info.Max.Y, info.Max.Z)
			fmt.Printf("Dimensions: %.3f x %.3f x %.3f mm\n", info.Size.X, info.Size.Y, info.Size.Z)
			fmt.Printf("Surface area: %.3f mm²\n", info.Area)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			srv, err := server.New(cfg, log.Default())
			if err != nil {
				return err
			}
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.DefaultConfig().Server.Addr, "listen address")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfigFile(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
