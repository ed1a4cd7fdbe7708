// Command lumen-ctl sends one control command to a running lumen-daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"lumen/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Daemon control socket")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: lumen-ctl [-s socket] [trigger|stop|sleep|wake]\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdTrigger
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}
	if !ipc.Known(cmd) {
		cli.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ipc.SendCommand(ctx, *socket, cmd); err != nil {
		fmt.Fprintln(os.Stderr, "lumen-daemon:", err)
		os.Exit(1)
	}
}
