// Command fakerobot runs a simulated controller that serves the secondary and
// real-time streams and reacts to submitted motion scripts.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenArmCore/internal/sim"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	opts := sim.DefaultOptions()

	pflag.StringVar(&opts.SecondaryAddr, "secondary", opts.SecondaryAddr, "secondary interface listen address")
	pflag.StringVar(&opts.RealtimeAddr, "realtime", opts.RealtimeAddr, "real-time interface listen address")
	pflag.BoolVar(&opts.Realtime, "enable-realtime", opts.Realtime, "serve the real-time interface")
	pflag.Uint8Var(&opts.Major, "major", opts.Major, "reported controller major version")
	pflag.Uint8Var(&opts.Minor, "minor", opts.Minor, "reported controller minor version")
	pflag.IntVar(&opts.FrameSize, "frame-size", 0, "override the real-time frame size in bytes")
	pflag.DurationVar(&opts.Period, "period", opts.Period, "secondary publish interval")
	pflag.DurationVar(&opts.RealtimePeriod, "realtime-period", opts.RealtimePeriod, "real-time publish interval")
	pflag.DurationVar(&opts.StartDelay, "start-delay", opts.StartDelay, "delay before a program reports running")
	pflag.DurationVar(&opts.RunTime, "run-time", opts.RunTime, "how long a motion program reports running")
	pflag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	srv := sim.New(opts, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start fake robot", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")
	srv.Stop()
}
