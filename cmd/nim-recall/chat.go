package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/becomeliminal/nim-recall/engine"
)

// rounder runs one conversational round.
type rounder interface {
	Run(ctx context.Context, userMessage string) (*engine.Output, error)
}

// chat reads user lines from in until EOF, "quit", "exit" or ctx is done,
// and writes one bot reply per non-blank line to out.
func chat(ctx context.Context, eng rounder, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	inputCh := make(chan string)
	go func() {
		defer close(inputCh)
		for scanner.Scan() {
			select {
			case inputCh <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, "Chatbot initialized. Type 'quit' or 'exit' to end.")

	for {
		fmt.Fprint(out, "You: ")

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nExiting...")
			return nil
		case line, ok = <-inputCh:
			if !ok {
				fmt.Fprintln(out)
				return scanner.Err()
			}
		}

		line = strings.TrimSpace(line)
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit":
			fmt.Fprintln(out, "Bot: Goodbye!")
			return nil
		}

		result, err := eng.Run(ctx, line)
		if errors.Is(err, engine.ErrEmptyMessage) {
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Bot: %s\n", result.Text)
	}
}
