package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"

	"github.com/lanikai/memorymap/processor"
)

var (
	flagConfig    string
	flagNamespace string
	flagTransform string
	flagWorkers   int
	flagLogLevel  string
	flagHelp      bool
	flagVersion   bool
)

func init() {
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.StringVarP(&flagNamespace, "namespace", "n", "", "Queue and segment namespace")
	flag.StringVarP(&flagTransform, "transform", "t", "invert", "Transform applied to each frame")
	flag.IntVarP(&flagWorkers, "workers", "w", 1, "Frames processed concurrently")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "", "Logging directives, e.g. info,mq=debug")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Reference frame processor for the memorymap filter

Usage: memorymapd [OPTION]...

Configuration:
  -c, --config=FILE      YAML configuration (namespace, queue_capacity, ...)
  -n, --namespace=NAME   Namespace shared with the filter
                         (default: org.risky-safety.frei0r.memorymap)
  -l, --log-level=LIST   Logging directives, e.g. "debug" or "info,mq=trace"

Processing:
  -t, --transform=NAME   One of: %s (default: invert)
  -w, --workers=NUM      Frames processed concurrently (default: 1)

Miscellaneous:
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

var banner = []string{
	"                                        _ ",
	"  _ __ ___   _ __ ___    __ _  _ __   __| |",
	" | '_ ` _ \\ | '_ ` _ \\  / _` || '_ \\ / _` |",
	" | | | | | || | | | | || (_| || |_) | (_| |",
	" |_| |_| |_||_| |_| |_| \\__,_|| .__/ \\__,_|",
	"                              |_|          ",
}

// Column at which each letter of the banner starts.
var bannerColumns = []int{0, 12, 23, 30, 36}

// Help information is printed and program exits
func help() {
	palette := []*color.Color{
		color.New(color.FgRed),
		color.New(color.FgYellow),
		color.New(color.FgCyan),
		color.New(color.FgYellow),
		color.New(color.FgRed),
	}

	for _, line := range banner {
		for i, start := range bannerColumns {
			if start >= len(line) {
				break
			}
			end := len(line)
			if i+1 < len(bannerColumns) && bannerColumns[i+1] < end {
				end = bannerColumns[i+1]
			}
			palette[i].Print(line[start:end])
		}
		fmt.Println()
	}

	fmt.Printf(helpString+"\n", processor.Names())
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("memorymapd", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
