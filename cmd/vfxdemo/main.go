// Command vfxdemo runs a directory of frames through a blur session and
// writes the processed frames as PNG files.
//
//	vfxdemo -in frames/ -out out/ -blur -renderer graphics -fps 20
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/vfx"
	"github.com/gogpu/vfx/device"
	_ "github.com/gogpu/vfx/device/native"
	_ "github.com/gogpu/vfx/device/software"
	"github.com/gogpu/vfx/pipeline"
)

func main() {
	var (
		in         = flag.String("in", "", "directory of input frames")
		out        = flag.String("out", "out", "output directory")
		configPath = flag.String("config", "", "TOML configuration file")
		renderer   = flag.String("renderer", "", "renderer: compute, graphics or passthrough")
		blur       = flag.Bool("blur", false, "enable blur")
		fps        = flag.Float64("fps", 0, "target output frame rate")
		sourceFPS  = flag.Float64("srcfps", 60, "input frame rate")
		size       = flag.String("size", "", "processing size WxH (default: first frame)")
		loop       = flag.Int("loop", 1, "number of passes over the input frames")
		deviceName = flag.String("device", "", "device: native or software (default: best available)")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	vfx.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "renderer":
			if err = cfg.Renderer.UnmarshalText([]byte(*renderer)); err != nil {
				log.Fatalf("-renderer: %v", err)
			}
		case "blur":
			cfg.Blur = *blur
		case "fps":
			cfg.TargetFPS = *fps
		}
	})
	dims, err := parseSize(*size)
	if err != nil {
		log.Fatalf("-size: %v", err)
	}

	frames, err := loadFrames(*in, dims)
	if err != nil {
		log.Fatalf("frames: %v", err)
	}
	sink, err := newPNGSink(*out)
	if err != nil {
		log.Fatalf("output: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	stats, err := run(ctx, cfg, frames, sink, *sourceFPS, *loop, *deviceName)
	if err != nil {
		log.Fatalf("vfxdemo: %v", err)
	}

	p := message.NewPrinter(language.English)
	p.Printf("renderer %s (degraded=%v raw=%v) in %v\n", stats.Renderer, stats.Degraded, stats.Raw, time.Since(start).Round(time.Millisecond))
	p.Printf("received %d, dropped %d, rendered %d, emitted %d\n", stats.Received, stats.Dropped, stats.Rendered, stats.Emitted)
	p.Printf("render errors %d, write errors %d, %d files in %s\n", stats.RenderErrors, stats.WriteErrors, sink.written(), *out)
}

// run feeds frames at sourceFPS into a session until the frames run out or
// ctx is cancelled.
func run(ctx context.Context, cfg vfx.Config, frames []*image.RGBA, sink vfx.OutputSink,
	sourceFPS float64, loop int, deviceName string) (pipeline.Stats, error) {
	b := frames[0].Bounds()
	source := pipeline.NewChannelSource(b.Dx(), b.Dy(), 1)

	open := device.Default()
	if deviceName != "" {
		open = device.Named(deviceName)
	}
	session, err := pipeline.Start(ctx, cfg, source, sink, pipeline.WithOpener(open))
	if err != nil {
		return pipeline.Stats{}, err
	}

	interval := time.Duration(float64(time.Second) / sourceFPS)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer source.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var ts time.Duration
		for range loop {
			for _, img := range frames {
				frame := vfx.NewFrame(cloneRGBA(img), ts, interval)
				if err := source.Push(gctx, frame); err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return fmt.Errorf("push frame at %v: %w", ts, err)
				}
				ts += interval
				select {
				case <-ticker.C:
				case <-gctx.Done():
					return nil
				}
			}
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return session.Stop(shutdown)
	})
	g.Go(func() error {
		if err := session.Wait(); err != nil {
			return err
		}
		// Unblock the stop goroutine once the stream has ended.
		return errDone
	})

	err = g.Wait()
	if errors.Is(err, errDone) {
		err = nil
	}
	return session.Stats(), err
}

// errDone ends the errgroup when the session finishes on its own.
var errDone = errors.New("done")

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Rect)
	copy(out.Pix, img.Pix)
	return out
}
