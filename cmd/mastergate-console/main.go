// Command mastergate-console is an interactive maintenance console for
// the Master.
//
// It opens the serial device, suspends the protocol engine and hands
// the raw byte stream to an interactive prompt: lines are sent to the
// Master's maintenance interface verbatim (CRLF-terminated) and
// whatever the firmware prints comes back on the terminal. Use it for
// low-level diagnostics when the gateway daemon is stopped.
//
// Usage:
//
//	mastergate-console -device /dev/ttyO5 [-baud 115200]
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mastergate/mastergate-go/pkg/transport"
)

func main() {
	device := flag.String("device", "", "Serial device path")
	baud := flag.Int("baud", 115200, "Serial speed")
	flag.Parse()

	if *device == "" {
		fmt.Fprintln(os.Stderr, "mastergate-console: -device is required")
		os.Exit(2)
	}

	if err := run(*device, *baud); err != nil {
		fmt.Fprintln(os.Stderr, "mastergate-console:", err)
		os.Exit(1)
	}
}

func run(device string, baud int) error {
	tr, err := transport.OpenSerial(device, baud)
	if err != nil {
		return err
	}
	defer tr.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "master> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "Connected to", device, "- type 'exit' to leave, 'help' for firmware help")

	// Print whatever the firmware sends, without garbling the prompt.
	stop := make(chan struct{})
	done := make(chan struct{})
	go echoIncoming(tr, rl, stop, done)
	defer func() {
		close(stop)
		<-done
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			// EOF
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		if err := tr.Write([]byte(input + "\r\n")); err != nil {
			return fmt.Errorf("write to device: %w", err)
		}
	}
}

// echoIncoming copies device output to the terminal.
func echoIncoming(tr transport.Transport, rl *readline.Instance, stop, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := tr.Read(buf, 100*time.Millisecond)
		if err != nil {
			fmt.Fprintln(rl.Stderr(), "device read failed:", err)
			return
		}
		if n > 0 {
			rl.Stdout().Write(buf[:n])
		}
	}
}
