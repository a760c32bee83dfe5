// Package main provides the voicechat CLI.
//
// Usage:
//
//	voicechat <command> [flags]
//
// Commands:
//
//	call  - Turn-based voice conversation (record a turn, send, hear the reply)
//	live  - Streaming voice conversation over a persistent socket
//	serve - Run the local development backend
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Sauhard74/voice-interaction-plat/cmd/voicechat/commands"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
