// Command memorymap-probe drives the filter from the producer side: it
// constructs one instance, pushes synthetic frames through it, and reports
// how each exchange ended. Run it against memorymapd to check a deployment.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/memorymap"
	"github.com/lanikai/memorymap/internal/logging"
	"github.com/lanikai/memorymap/internal/monitor"
)

var log = logging.DefaultLogger.WithTag("probe")

var (
	flagConfig    = flag.StringP("config", "c", "", "YAML configuration file")
	flagNamespace = flag.StringP("namespace", "n", "", "Queue and segment namespace")
	flagFrames    = flag.IntP("frames", "f", 30, "Number of frames to send")
	flagWidth     = flag.IntP("width", "x", 320, "Frame width")
	flagHeight    = flag.IntP("height", "y", 240, "Frame height")
	flagInterval  = flag.DurationP("interval", "i", 40*time.Millisecond, "Delay between frames")
	flagMonitor   = flag.StringP("monitor", "m", "", "Serve exchange events on this address, e.g. :8000")
	flagLogLevel  = flag.StringP("log-level", "l", "", "Logging directives")
	flagHelp      = flag.BoolP("help", "h", false, "Print usage information and exit")
)

var (
	completed = color.New(color.FgGreen)
	timedOut  = color.New(color.FgYellow)
	cancelled = color.New(color.FgRed)
)

func main() {
	os.Exit(probe())
}

// probe returns the process exit status; deferred cleanup has run by then.
func probe() int {
	flag.Parse()
	if *flagHelp {
		fmt.Println("Usage: memorymap-probe [OPTION]...")
		flag.PrintDefaults()
		return 0
	}
	if err := logging.Configure(*flagLogLevel); err != nil {
		log.Error("%v", err)
		return 2
	}

	cfg, err := configure(flag.CommandLine)
	if err != nil {
		log.Error("%v", err)
		return 2
	}

	if *flagMonitor != "" {
		mon := monitor.New()
		if _, err := mon.Listen(*flagMonitor); err != nil {
			log.Error("%v", err)
			return 1
		}
		defer mon.Shutdown(context.Background())
		cfg.Observer = mon
	}

	if err := run(cfg); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}

// Build the configuration from --config and explicitly given flags.
func configure(flags *flag.FlagSet) (memorymap.Config, error) {
	cfg := memorymap.DefaultConfig()
	if *flagConfig != "" {
		var err error
		if cfg, err = memorymap.LoadConfig(*flagConfig); err != nil {
			return cfg, err
		}
	}
	if flags.Changed("namespace") {
		cfg.Namespace = *flagNamespace
	}
	return cfg, cfg.Validate()
}

func run(cfg memorymap.Config) error {
	plugin, err := memorymap.Open(cfg)
	if err != nil {
		return err
	}
	defer plugin.Close()

	inst, err := plugin.Construct(*flagWidth, *flagHeight)
	if err != nil {
		return err
	}
	defer inst.Destruct()

	in := make([]byte, inst.FrameSize())
	out := make([]byte, inst.FrameSize())
	counts := map[memorymap.State]int{}

	start := time.Now()
	for n := 0; n < *flagFrames; n++ {
		fill(in, *flagWidth, n)
		res, err := inst.Update(time.Since(start).Seconds(), in, out)
		if err != nil {
			return err
		}
		counts[res.State]++
		report(n, res)
		time.Sleep(*flagInterval)
	}

	fmt.Printf("%d frame(s): %d completed, %d timed out, %d cancelled\n", *flagFrames,
		counts[memorymap.Completed], counts[memorymap.TimedOut], counts[memorymap.Cancelled])
	return nil
}

// A diagonal gradient that moves one pixel per frame.
func fill(frame []byte, width, n int) {
	for i := 0; i+3 < len(frame); i += 4 {
		x, y := (i/4)%width, (i/4)/width
		v := byte(x + y + n)
		frame[i], frame[i+1], frame[i+2], frame[i+3] = v, v/2, 0xff-v, 0xff
	}
}

func report(n int, res memorymap.Result) {
	c := completed
	switch res.State {
	case memorymap.TimedOut:
		c = timedOut
	case memorymap.Cancelled:
		c = cancelled
	}
	c.Printf("#%-4d %-10s", n, res.State)
	fmt.Printf(" gen=%d elapsed=%v", res.Generation, res.Elapsed.Round(time.Microsecond))
	if res.Cause != nil {
		fmt.Printf(" cause=%v", res.Cause)
	}
	fmt.Println()
}
