package main

import (
	"flag"
	"fmt"
	"os"

	seedr "github.com/leahtara/mispCacheExporter/internal/seedr"
)

func main() {
	if len(os.Args) < 2 {
		printHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		seedCmd := flag.NewFlagSet("seed", flag.ExitOnError)
		configPath := seedCmd.String("config", "", "Path to config file")
		seedCmd.Parse(os.Args[2:])
		if *configPath == "" {
			fmt.Println("Error: --config is required for 'seed'")
			seedCmd.Usage()
			os.Exit(1)
		}
		fmt.Printf("Running 'seed' with config: %s\n", *configPath)
		seedr.Run(configPath)

	case "help", "--help", "-h":
		printHelp()
	default:
		fmt.Printf("Unknown subcommand: %s\n\n", os.Args[1])
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage: seedr <subcommand> --config <path>`)
	fmt.Println()
	fmt.Println("Subcommands:")
	fmt.Println("  seed    --config <path>   Populate a MISP-shaped database with synthetic IOCs")
	fmt.Println("  help                      Show this help message")
}
