package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mohammad-safakhou/omegarag/models"
	"github.com/peterh/liner"
)

// Run is the interactive loop. It returns when the user quits or input ends.
func Run(ctx context.Context, s *Session, api API, r *Renderer, out io.Writer, historyFile string) error {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()

	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.OpenFile(historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintln(out, r.Settings(s.Params))
	fmt.Fprintln(out, "Type /help for commands.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := line.Prompt(r.Prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(s, r, out, input); quit {
				return nil
			}
			continue
		}

		resp, err := s.Send(ctx, api, input)
		if err != nil {
			fmt.Fprintln(out, r.Error(err))
			fmt.Fprintln(out, r.Answer(GenericErrorMessage))
			continue
		}
		fmt.Fprint(out, r.Answer(resp.Answer))
		if len(resp.Sources) > 0 {
			fmt.Fprintln(out, r.Sources(resp.Sources, resp.Answer))
		}
	}
}

func handleCommand(s *Session, r *Renderer, out io.Writer, input string) bool {
	cmd, err := s.Apply(input)
	if err != nil {
		fmt.Fprintln(out, r.Error(err))
		return false
	}
	switch cmd {
	case CmdQuit:
		return true
	case CmdNew:
		fmt.Fprintln(out, "Started a new conversation.")
	case CmdSources:
		fmt.Fprintln(out, r.Sources(s.Sources, lastAnswer(s)))
	case CmdHelp:
		fmt.Fprintln(out, r.Help())
	case CmdSettings:
		fmt.Fprintln(out, r.Settings(s.Params))
	}
	return false
}

func lastAnswer(s *Session) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == models.RoleAssistant {
			return s.Messages[i].Content
		}
	}
	return ""
}
