package singleinstance

import (
	"bufio"
	"fmt"
	"strings"
)

const (
	residentHost    = "127.0.0.1"
	pingRequest     = "PING\n"
	pongResponse    = "PONG\n"
	successResponse = "SUCCESS\n"
	errorResponse   = "ERROR\n"
)

// Command is what the resident is asked to do
type Command string

const (
	// CommandCapture starts a region selection in the active tab.
	CommandCapture Command = "CAPTURE"
	// CommandAsk asks a question about the current screenshot.
	CommandAsk Command = "ASK"
)

// Request is a single delegated request.
type Request struct {
	Command        Command
	OutputToStdout bool
	Question       string
}

func (r Request) encode() string {
	switch r.Command {
	case CommandAsk:
		mode := "CLIPBOARD"
		if r.OutputToStdout {
			mode = "STDOUT"
		}
		q := strings.ReplaceAll(r.Question, "\n", " ")
		return fmt.Sprintf("%s %s\n%s\n", CommandAsk, mode, q)
	default:
		return string(CommandCapture) + "\n"
	}
}

func readRequest(first string, br *bufio.Reader) (Request, error) {
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return Request{}, fmt.Errorf("empty request")
	}
	switch Command(fields[0]) {
	case CommandCapture:
		return Request{Command: CommandCapture}, nil
	case CommandAsk:
		req := Request{Command: CommandAsk, OutputToStdout: len(fields) > 1 && fields[1] == "STDOUT"}
		q, err := br.ReadString('\n')
		if err != nil && q == "" {
			return Request{}, fmt.Errorf("missing question: %w", err)
		}
		req.Question = strings.TrimRight(q, "\r\n")
		return req, nil
	default:
		return Request{}, fmt.Errorf("unknown command %q", fields[0])
	}
}
