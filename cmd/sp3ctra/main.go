// Command sp3ctra runs the scanner synthesiser: UDP image ingress,
// three synthesis engines and a realtime output mix, with a small REPL
// for live control.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sp3ctra/sp3ctra"
	"github.com/sp3ctra/sp3ctra/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a key=value configuration file")
		port       = flag.Int("port", 0, "override udp_port")
		addr       = flag.String("addr", "", "override udp_address")
		capture    = flag.String("capture", "", "record the output bus to a WAV file")
		ebiten     = flag.Bool("ebiten", false, "use the Ebiten audio backend instead of PortAudio")
		render     = flag.String("render", "", "render offline to a WAV file and exit")
		seconds    = flag.Float64("seconds", 5, "offline render duration with -render")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal(err)
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.UDPPort = *port
	}
	if *addr != "" {
		cfg.UDPAddress = *addr
	}

	var opts []sp3ctra.EngineOption
	switch {
	case *render != "":
		opts = append(opts, sp3ctra.WithoutAudio())
	case *ebiten:
		opts = append(opts, sp3ctra.WithEbitenOutput())
	default:
		opts = append(opts, sp3ctra.WithPortAudio())
	}
	if *capture != "" {
		opts = append(opts, sp3ctra.WithCapture(*capture))
	}

	engine, err := sp3ctra.New(&cfg, opts...)
	if err != nil {
		log.Fatal(err)
	}

	if *render != "" {
		if err := engine.RenderWAV(*render, *seconds); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("wrote %s (%.1fs at %d Hz)\n", *render, *seconds, cfg.SampleRate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("listening on %s, type 'help' for commands\n", engine.LocalAddr())

	if err := repl(ctx, engine); err != nil {
		fmt.Println(err)
	}
	if err := engine.Stop(); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
