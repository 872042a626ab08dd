// Command asrclient recognizes audio files against an ASR websocket server.
//
// Usage:
//
//	asrclient [flags] recognize <audio-file>...
//	asrclient [flags] bench <audio-file>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/saker-ai/asr-sdk-go/cmd/asrclient/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
