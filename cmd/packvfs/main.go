// packvfs inspects and serves layered search paths.
//
// Search paths come from a mount table (--config or $PACKVFS_CONFIG)
// followed by any --path flags, in the order given. A --path naming a
// regular file is mounted as a pack archive; anything else is mounted as
// a read-only directory.
//
//	packvfs ls --path mods --path base/pak0.pak maps
//	packvfs cat --config mounts.yaml cfg/game.cfg
//	packvfs find --path base "*.cfg"
//	packvfs pack create -C build pak0.pak maps sound
//	packvfs pack list --hash pak0.pak
//	packvfs mount --config mounts.yaml /mnt/game
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return fmt.Errorf("subcommand required")
	}

	subcommand, rest := args[0], args[1:]
	switch subcommand {
	case "ls":
		return runList(rest, stdout, stderr)
	case "cat":
		return runCat(rest, stdout, stderr)
	case "find":
		return runFind(rest, stdout, stderr)
	case "stat":
		return runStat(rest, stdout, stderr)
	case "pack":
		return runPack(rest, stdout, stderr)
	case "mount":
		return runMount(rest, stdout, stderr)
	case "-h", "--help", "help":
		printUsage(stdout)
		return nil
	default:
		printUsage(stderr)
		return fmt.Errorf("unknown subcommand: %q", subcommand)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `Usage: packvfs <subcommand> [flags]

Subcommands:
  ls      List a directory of the merged view
  cat     Print files from the merged view
  find    List names matching a wildcard
  stat    Describe a name and where it resolves
  pack    Create or list pack archives
  mount   Serve the merged view read-only over FUSE

Run 'packvfs <subcommand> --help' for subcommand flags.
`)
}

// parseFlags parses args into flagSet. It returns done when help was
// requested and nothing else should run.
func parseFlags(flagSet *pflag.FlagSet, args []string, stdout io.Writer) (done bool, err error) {
	flagSet.BoolP("help", "h", false, "show help")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return true, nil
		}
		return false, err
	}
	if help, _ := flagSet.GetBool("help"); help {
		fmt.Fprintf(stdout, "Usage of %s:\n%s", flagSet.Name(), flagSet.FlagUsages())
		return true, nil
	}
	return false, nil
}
